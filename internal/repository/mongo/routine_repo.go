package mongo

import (
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names are the wire contract this repository depends on. Another
// process (or an AI agent) may write these collections directly; the sync
// controller exists to absorb that.
const (
	routineCollectionName  = "routines"
	blockCollectionName    = "routine_block"
	exerciseCollectionName = "block_exercise_v2"
	setCollectionName      = "block_exercise_set_v2"
)

// mongoRoutineRepository implements repository.RoutineRepository and
// repository.RoutineWatcher.
type mongoRoutineRepository struct {
	routines    *mongo.Collection
	blocks      *mongo.Collection
	exercises   *mongo.Collection
	sets        *mongo.Collection
	assignments *mongo.Collection // cascaded on routine delete
}

// NewMongoRoutineRepository creates a Routine repository backed by MongoDB.
func NewMongoRoutineRepository(db *mongo.Database) repository.RoutineRepository {
	return &mongoRoutineRepository{
		routines:    db.Collection(routineCollectionName),
		blocks:      db.Collection(blockCollectionName),
		exercises:   db.Collection(exerciseCollectionName),
		sets:        db.Collection(setCollectionName),
		assignments: db.Collection(assignmentCollectionName),
	}
}

// Create inserts the routine row, then each block, each exercise and its
// sets, strictly parent-first. The store gives us no multi-document
// transaction, so a failure after the routine insert leaves earlier rows
// behind; that is surfaced as a *PartialWriteError rather than hidden.
func (r *mongoRoutineRepository) Create(ctx context.Context, routine *domain.Routine) (string, error) {
	if strings.TrimSpace(routine.Name) == "" || routine.OwnerID == "" {
		return "", errors.New("routine name and owner ID are required")
	}

	// Identities are minted into a copy; the caller's routine keeps its
	// draft identity, so a failed create can be retried as a create.
	stored := routine.Clone()
	stored.ID = uuid.NewString()
	stored.CreatedOn = time.Now().UTC()

	if _, err := r.routines.InsertOne(ctx, stored); err != nil {
		// Nothing was written yet; plain failure, not a partial one.
		return "", err
	}

	if err := r.insertBlocks(ctx, stored.ID, stored.Blocks); err != nil {
		return "", err
	}
	return stored.ID, nil
}

// insertBlocks writes the child hierarchy for a routine whose row already
// exists. Shared by Create and the recreate half of Update.
func (r *mongoRoutineRepository) insertBlocks(ctx context.Context, routineID string, blocks []domain.Block) error {
	for bi := range blocks {
		block := &blocks[bi]
		block.ID = uuid.NewString()
		block.RoutineID = routineID
		if block.Order <= 0 {
			block.Order = bi + 1
		}
		if _, err := r.blocks.InsertOne(ctx, block); err != nil {
			return &repository.PartialWriteError{Step: fmt.Sprintf("insert block %d", block.Order), Err: err}
		}

		for ei := range block.Exercises {
			ex := &block.Exercises[ei]
			ex.ID = uuid.NewString()
			ex.BlockID = block.ID
			if ex.DisplayOrder <= 0 {
				ex.DisplayOrder = ei + 1
			}
			if _, err := r.exercises.InsertOne(ctx, ex); err != nil {
				return &repository.PartialWriteError{
					Step: fmt.Sprintf("insert exercise %d of block %d", ex.DisplayOrder, block.Order),
					Err:  err,
				}
			}

			if err := r.insertSets(ctx, ex); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *mongoRoutineRepository) insertSets(ctx context.Context, ex *domain.BlockExercise) error {
	if len(ex.Sets) == 0 {
		return nil
	}
	docs := make([]interface{}, len(ex.Sets))
	for si := range ex.Sets {
		set := &ex.Sets[si]
		set.ID = uuid.NewString()
		set.BlockExerciseID = ex.ID
		if set.SetIndex <= 0 {
			set.SetIndex = si + 1
		}
		docs[si] = set
	}
	if _, err := r.sets.InsertMany(ctx, docs); err != nil {
		return &repository.PartialWriteError{Step: fmt.Sprintf("insert sets of exercise %d", ex.DisplayOrder), Err: err}
	}
	return nil
}

// GetByID retrieves a single routine with its full hierarchy hydrated.
func (r *mongoRoutineRepository) GetByID(ctx context.Context, id string) (*domain.Routine, error) {
	var routine domain.Routine
	err := r.routines.FindOne(ctx, bson.M{"_id": id}).Decode(&routine)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}

	hydrated, err := r.hydrate(ctx, []domain.Routine{routine})
	if err != nil {
		return nil, err
	}
	return &hydrated[0], nil
}

// GetByOwnerID retrieves all routines for a user, newest first, hydrated.
func (r *mongoRoutineRepository) GetByOwnerID(ctx context.Context, ownerID string) ([]domain.Routine, error) {
	var routines []domain.Routine
	findOptions := options.Find().SetSort(bson.D{{Key: "created_on", Value: -1}})

	cursor, err := r.routines.Find(ctx, bson.M{"owner_id": ownerID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &routines); err != nil {
		return nil, err
	}
	if err = cursor.Err(); err != nil {
		return nil, err
	}
	if len(routines) == 0 {
		return routines, nil
	}
	return r.hydrate(ctx, routines)
}

// hydrate attaches blocks, exercises and sets to the given routines with one
// $in query per level. Children come back already sorted by their order
// fields, so appending in cursor order keeps each parent's slice sorted.
func (r *mongoRoutineRepository) hydrate(ctx context.Context, routines []domain.Routine) ([]domain.Routine, error) {
	routineIDs := make([]string, len(routines))
	for i := range routines {
		routineIDs[i] = routines[i].ID
		routines[i].Blocks = []domain.Block{}
	}

	var blocks []domain.Block
	blockOpts := options.Find().SetSort(bson.D{{Key: "routine_id", Value: 1}, {Key: "block_order", Value: 1}})
	cursor, err := r.blocks.Find(ctx, bson.M{"routine_id": bson.M{"$in": routineIDs}}, blockOpts)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(ctx, &blocks); err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return routines, nil
	}

	blockIDs := make([]string, len(blocks))
	for i := range blocks {
		blockIDs[i] = blocks[i].ID
		blocks[i].Exercises = []domain.BlockExercise{}
	}

	var exercises []domain.BlockExercise
	exOpts := options.Find().SetSort(bson.D{{Key: "block_id", Value: 1}, {Key: "display_order", Value: 1}})
	cursor, err = r.exercises.Find(ctx, bson.M{"block_id": bson.M{"$in": blockIDs}}, exOpts)
	if err != nil {
		return nil, err
	}
	if err = cursor.All(ctx, &exercises); err != nil {
		return nil, err
	}

	exerciseIDs := make([]string, len(exercises))
	for i := range exercises {
		exerciseIDs[i] = exercises[i].ID
		exercises[i].Sets = []domain.ExerciseSet{}
	}

	var sets []domain.ExerciseSet
	if len(exercises) > 0 {
		setOpts := options.Find().SetSort(bson.D{{Key: "block_exercise_id", Value: 1}, {Key: "set_index", Value: 1}})
		cursor, err = r.sets.Find(ctx, bson.M{"block_exercise_id": bson.M{"$in": exerciseIDs}}, setOpts)
		if err != nil {
			return nil, err
		}
		if err = cursor.All(ctx, &sets); err != nil {
			return nil, err
		}
	}

	// Assemble bottom-up.
	exByID := make(map[string]*domain.BlockExercise, len(exercises))
	for i := range exercises {
		exByID[exercises[i].ID] = &exercises[i]
	}
	for _, set := range sets {
		if ex, ok := exByID[set.BlockExerciseID]; ok {
			ex.Sets = append(ex.Sets, set)
		}
	}

	blockByID := make(map[string]*domain.Block, len(blocks))
	for i := range blocks {
		blockByID[blocks[i].ID] = &blocks[i]
	}
	for i := range exercises {
		if block, ok := blockByID[exercises[i].BlockID]; ok {
			block.Exercises = append(block.Exercises, exercises[i])
		}
	}

	routineByID := make(map[string]*domain.Routine, len(routines))
	for i := range routines {
		routineByID[routines[i].ID] = &routines[i]
	}
	for i := range blocks {
		if routine, ok := routineByID[blocks[i].RoutineID]; ok {
			routine.Blocks = append(routine.Blocks, blocks[i])
		}
	}

	return routines, nil
}

// Update is a destructive replace: scalar fields are updated in place, then
// every existing child row is deleted and the supplied blocks recreated with
// fresh identities. External references to old child identities become
// invalid after every update; callers know this.
func (r *mongoRoutineRepository) Update(ctx context.Context, routine *domain.Routine) error {
	if routine.ID == "" || routine.OwnerID == "" {
		return errors.New("routine ID and owner ID are required for update")
	}
	if strings.TrimSpace(routine.Name) == "" {
		return errors.New("routine name cannot be empty")
	}

	// Owner filter prevents cross-user updates.
	filter := bson.M{"_id": routine.ID, "owner_id": routine.OwnerID}
	update := bson.M{"$set": bson.M{
		"name":        routine.Name,
		"description": routine.Description,
	}}
	result, err := r.routines.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}

	if err := r.deleteChildren(ctx, routine.ID); err != nil {
		return &repository.PartialWriteError{Step: "delete existing blocks", Err: err}
	}
	// Recreate from a copy so the fresh child identities never leak back
	// into the caller's routine.
	return r.insertBlocks(ctx, routine.ID, routine.Clone().Blocks)
}

// deleteChildren removes all blocks of a routine and their descendants,
// deepest first. The store may not cascade, so this never relies on it.
func (r *mongoRoutineRepository) deleteChildren(ctx context.Context, routineID string) error {
	blockIDs, err := r.childIDs(ctx, r.blocks, bson.M{"routine_id": routineID})
	if err != nil {
		return err
	}
	if len(blockIDs) > 0 {
		exerciseIDs, err := r.childIDs(ctx, r.exercises, bson.M{"block_id": bson.M{"$in": blockIDs}})
		if err != nil {
			return err
		}
		if len(exerciseIDs) > 0 {
			if _, err := r.sets.DeleteMany(ctx, bson.M{"block_exercise_id": bson.M{"$in": exerciseIDs}}); err != nil {
				return err
			}
		}
		if _, err := r.exercises.DeleteMany(ctx, bson.M{"block_id": bson.M{"$in": blockIDs}}); err != nil {
			return err
		}
	}
	_, err = r.blocks.DeleteMany(ctx, bson.M{"routine_id": routineID})
	return err
}

// childIDs projects just the _id field for a filter.
func (r *mongoRoutineRepository) childIDs(ctx context.Context, coll *mongo.Collection, filter bson.M) ([]string, error) {
	findOptions := options.Find().SetProjection(bson.M{"_id": 1})
	cursor, err := coll.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

// Delete removes the routine and everything that hangs off it: assignments
// first, then sets, exercises, blocks, and finally the routine row.
func (r *mongoRoutineRepository) Delete(ctx context.Context, id, ownerID string) error {
	if id == "" || ownerID == "" {
		return errors.New("routine ID and owner ID are required for deletion")
	}

	// Ownership check up front; the descendants carry no owner field.
	count, err := r.routines.CountDocuments(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return err
	}
	if count == 0 {
		return repository.ErrNotFound
	}

	if _, err := r.assignments.DeleteMany(ctx, bson.M{"routine_id": id}); err != nil {
		return err
	}
	if err := r.deleteChildren(ctx, id); err != nil {
		return err
	}

	result, err := r.routines.DeleteOne(ctx, bson.M{"_id": id, "owner_id": ownerID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrDeleteFailed
	}
	return nil
}

// AddExercise appends one exercise (and its sets) to an existing block,
// for incremental edits outside a full routine replace.
func (r *mongoRoutineRepository) AddExercise(ctx context.Context, exercise *domain.BlockExercise) (string, error) {
	if exercise.BlockID == "" || exercise.ExerciseID == "" {
		return "", errors.New("block ID and catalog exercise ID are required")
	}
	exercise.ID = uuid.NewString()
	if exercise.DisplayOrder <= 0 {
		// Place after the current last exercise in the block.
		n, err := r.exercises.CountDocuments(ctx, bson.M{"block_id": exercise.BlockID})
		if err != nil {
			return "", err
		}
		exercise.DisplayOrder = int(n) + 1
	}

	if _, err := r.exercises.InsertOne(ctx, exercise); err != nil {
		return "", err
	}
	if err := r.insertSets(ctx, exercise); err != nil {
		return "", err
	}
	return exercise.ID, nil
}

// UpdateExercise updates an exercise's scalar fields and replaces its sets.
func (r *mongoRoutineRepository) UpdateExercise(ctx context.Context, exercise *domain.BlockExercise) error {
	if exercise.ID == "" {
		return errors.New("exercise ID is required for update")
	}

	filter := bson.M{"_id": exercise.ID}
	update := bson.M{"$set": bson.M{
		"exercise_id":    exercise.ExerciseID,
		"display_order":  exercise.DisplayOrder,
		"superset_group": exercise.SupersetGroup,
		"notes":          exercise.Notes,
	}}
	result, err := r.exercises.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if result.MatchedCount == 0 {
		return repository.ErrNotFound
	}

	if _, err := r.sets.DeleteMany(ctx, bson.M{"block_exercise_id": exercise.ID}); err != nil {
		return &repository.PartialWriteError{Step: "delete existing sets", Err: err}
	}
	return r.insertSets(ctx, exercise)
}

// RemoveExercise deletes an exercise and its sets.
func (r *mongoRoutineRepository) RemoveExercise(ctx context.Context, exerciseID string) error {
	if exerciseID == "" {
		return errors.New("exercise ID is required for deletion")
	}

	if _, err := r.sets.DeleteMany(ctx, bson.M{"block_exercise_id": exerciseID}); err != nil {
		return err
	}
	result, err := r.exercises.DeleteOne(ctx, bson.M{"_id": exerciseID})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Metadata returns the lightweight id+name projection the drift check polls.
func (r *mongoRoutineRepository) Metadata(ctx context.Context, ownerID string) ([]domain.RoutineMeta, error) {
	findOptions := options.Find().
		SetProjection(bson.M{"_id": 1, "name": 1}).
		SetSort(bson.D{{Key: "created_on", Value: -1}})

	cursor, err := r.routines.Find(ctx, bson.M{"owner_id": ownerID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var metas []domain.RoutineMeta
	if err = cursor.All(ctx, &metas); err != nil {
		return nil, err
	}
	return metas, nil
}

// Watch opens a change stream on the routines collection scoped to one
// owner. Delete events carry no document body, so they pass the filter for
// every owner; the controller's refresh is coalesced and cheap, so the odd
// spurious trigger is harmless. Stores without change-stream support (no
// replica set) return an error here and callers fall back to polling.
func (r *mongoRoutineRepository) Watch(ctx context.Context, ownerID string) (<-chan repository.ChangeEvent, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"$or": bson.A{
			bson.M{"fullDocument.owner_id": ownerID},
			bson.M{"operationType": "delete"},
		}}}},
	}
	streamOpts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	stream, err := r.routines.Watch(ctx, pipeline, streamOpts)
	if err != nil {
		return nil, err
	}

	events := make(chan repository.ChangeEvent)
	go func() {
		defer close(events)
		defer stream.Close(context.Background())
		for stream.Next(ctx) {
			var event struct {
				OperationType string `bson:"operationType"`
				DocumentKey   struct {
					ID string `bson:"_id"`
				} `bson:"documentKey"`
			}
			if err := stream.Decode(&event); err != nil {
				continue
			}
			select {
			case events <- repository.ChangeEvent{Operation: event.OperationType, RoutineID: event.DocumentKey.ID}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// EnsureRoutineIndexes creates indexes for the routine hierarchy. Call
// during startup.
func EnsureRoutineIndexes(ctx context.Context, db *mongo.Database) {
	create := func(coll string, keys bson.D) {
		_, err := db.Collection(coll).Indexes().CreateOne(ctx, mongo.IndexModel{Keys: keys})
		if err != nil {
			// log.Printf("WARN: Failed to create index on %s: %v", coll, err)
		}
	}
	create(routineCollectionName, bson.D{{Key: "owner_id", Value: 1}, {Key: "created_on", Value: -1}})
	create(blockCollectionName, bson.D{{Key: "routine_id", Value: 1}, {Key: "block_order", Value: 1}})
	create(exerciseCollectionName, bson.D{{Key: "block_id", Value: 1}, {Key: "display_order", Value: 1}})
	create(setCollectionName, bson.D{{Key: "block_exercise_id", Value: 1}, {Key: "set_index", Value: 1}})
}
