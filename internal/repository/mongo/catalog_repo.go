package mongo

import (
	"alcyxob/trainer-console/internal/domain"
	"alcyxob/trainer-console/internal/repository"
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const catalogCollectionName = "exercise_catalog"

// catalogPageSize is the fixed page size of catalog searches.
const catalogPageSize = 20

// mongoCatalogRepository implements repository.CatalogRepository. The
// catalog is owned elsewhere; everything here is read-only except the
// create-custom pass-through.
type mongoCatalogRepository struct {
	collection *mongo.Collection
}

// NewMongoCatalogRepository creates a catalog read client backed by MongoDB.
func NewMongoCatalogRepository(db *mongo.Database) repository.CatalogRepository {
	return &mongoCatalogRepository{
		collection: db.Collection(catalogCollectionName),
	}
}

// Search returns one page of exercises matching the term and filters, plus
// whether more pages exist. hasMore comes from a limit+1 probe so no count
// query is needed.
func (r *mongoCatalogRepository) Search(ctx context.Context, term string, filter domain.CatalogFilter, page int) ([]domain.CatalogExercise, bool, error) {
	if page < 1 {
		page = 1
	}

	query := bson.M{}
	if term != "" {
		query["name"] = bson.M{"$regex": primitive.Regex{Pattern: regexp.QuoteMeta(term), Options: "i"}}
	}
	if filter.Category != "" {
		query["category"] = filter.Category
	}
	if filter.Equipment != "" {
		query["equipment"] = filter.Equipment
	}

	findOptions := options.Find().
		SetSort(bson.D{{Key: "name", Value: 1}}).
		SetSkip(int64((page - 1) * catalogPageSize)).
		SetLimit(catalogPageSize + 1)

	cursor, err := r.collection.Find(ctx, query, findOptions)
	if err != nil {
		return nil, false, err
	}
	defer cursor.Close(ctx)

	var exercises []domain.CatalogExercise
	if err = cursor.All(ctx, &exercises); err != nil {
		return nil, false, err
	}

	hasMore := len(exercises) > catalogPageSize
	if hasMore {
		exercises = exercises[:catalogPageSize]
	}
	return exercises, hasMore, nil
}

// GetByID retrieves a single catalog exercise.
func (r *mongoCatalogRepository) GetByID(ctx context.Context, id string) (*domain.CatalogExercise, error) {
	var exercise domain.CatalogExercise
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&exercise)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &exercise, nil
}

// CreateCustom inserts a trainer-defined exercise into the catalog. This is
// the only catalog write this core performs.
func (r *mongoCatalogRepository) CreateCustom(ctx context.Context, exercise *domain.CatalogExercise) (string, error) {
	if exercise.Name == "" || exercise.OwnerID == "" {
		return "", errors.New("exercise name and owner ID are required")
	}

	exercise.ID = uuid.NewString()
	exercise.IsCustom = true
	exercise.CreatedAt = time.Now().UTC()

	if _, err := r.collection.InsertOne(ctx, exercise); err != nil {
		return "", err
	}
	return exercise.ID, nil
}

// EnsureCatalogIndexes creates indexes for catalog search. Call during startup.
func EnsureCatalogIndexes(ctx context.Context, collection *mongo.Collection) {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index(),
		},
		{
			Keys:    bson.D{{Key: "category", Value: 1}, {Key: "equipment", Value: 1}},
			Options: options.Index(),
		},
	}
	_, err := collection.Indexes().CreateMany(ctx, indexes)
	if err != nil {
		// log.Printf("WARN: Failed to create indexes for collection %s: %v", collection.Name(), err)
	}
}
