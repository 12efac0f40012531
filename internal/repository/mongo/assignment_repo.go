package mongo

import (
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const assignmentCollectionName = "trainee_routine"

// mongoAssignmentRepository implements repository.AssignmentRepository
type mongoAssignmentRepository struct {
	collection *mongo.Collection
}

// NewMongoAssignmentRepository creates an Assignment repository backed by MongoDB.
func NewMongoAssignmentRepository(db *mongo.Database) repository.AssignmentRepository {
	return &mongoAssignmentRepository{
		collection: db.Collection(assignmentCollectionName),
	}
}

// Create inserts a new assignment row. The unique (trainee_id, routine_id)
// index is the backstop for the service's pre-insert existence check: two
// near-simultaneous assigns can both pass the check, but only one insert
// lands; the loser gets ErrDuplicate.
func (r *mongoAssignmentRepository) Create(ctx context.Context, assignment *domain.TraineeRoutine) (string, error) {
	if assignment.TraineeID == "" || assignment.RoutineID == "" {
		return "", errors.New("assignment requires traineeId and routineId")
	}

	assignment.ID = uuid.NewString()
	assignment.AssignedOn = time.Now().UTC()

	_, err := r.collection.InsertOne(ctx, assignment)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", repository.ErrDuplicate
		}
		return "", err
	}
	return assignment.ID, nil
}

// GetByID retrieves an assignment by its ID.
func (r *mongoAssignmentRepository) GetByID(ctx context.Context, id string) (*domain.TraineeRoutine, error) {
	var assignment domain.TraineeRoutine
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&assignment)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &assignment, nil
}

// GetByTraineeID retrieves all assignments for a trainee, newest first.
func (r *mongoAssignmentRepository) GetByTraineeID(ctx context.Context, traineeID string) ([]domain.TraineeRoutine, error) {
	var assignments []domain.TraineeRoutine
	findOptions := options.Find().SetSort(bson.D{{Key: "assigned_on", Value: -1}})

	cursor, err := r.collection.Find(ctx, bson.M{"trainee_id": traineeID}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &assignments); err != nil {
		return nil, err
	}
	if err = cursor.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

// ExistsForPair reports whether the (trainee, routine) pair is already assigned.
func (r *mongoAssignmentRepository) ExistsForPair(ctx context.Context, traineeID, routineID string) (bool, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{
		"trainee_id": traineeID,
		"routine_id": routineID,
	})
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// Delete removes a single assignment row.
func (r *mongoAssignmentRepository) Delete(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if result.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// CountByRoutineIDs groups assignment rows by routine for the given routine
// set. Read-only aggregation; routines with zero assignments are simply
// absent from the result map.
func (r *mongoAssignmentRepository) CountByRoutineIDs(ctx context.Context, routineIDs []string) (map[string]int, error) {
	counts := make(map[string]int, len(routineIDs))
	if len(routineIDs) == 0 {
		return counts, nil
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"routine_id": bson.M{"$in": routineIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$routine_id", "count": bson.M{"$sum": 1}}}},
	}
	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		RoutineID string `bson:"_id"`
		Count     int    `bson:"count"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.RoutineID] = row.Count
	}
	return counts, nil
}

// EnsureAssignmentIndexes creates indexes for the trainee_routine collection.
// The unique pair index turns the duplicate-assignment race into a clean
// constraint violation instead of a duplicate row.
func EnsureAssignmentIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "trainee_id", Value: 1}, {Key: "routine_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "trainee_id", Value: 1}, {Key: "assigned_on", Value: -1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "routine_id", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "trainer_id", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		// log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
