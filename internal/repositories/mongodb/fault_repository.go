package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/repositories"
)

// FaultRepository implements the repositories.FaultRepository interface
type FaultRepository struct {
	collection *mongo.Collection
}

// NewFaultRepository creates a new FaultRepository
func NewFaultRepository(db *mongo.Database) repositories.FaultRepository {
	return &FaultRepository{
		collection: db.Collection("faults"),
	}
}

// Create stores a fault record
func (r *FaultRepository) Create(ctx context.Context, record *models.FaultRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, record)
	return err
}

// FindByPotID finds every fault recorded for a pot, newest first
func (r *FaultRepository) FindByPotID(ctx context.Context, potID uint64) ([]*models.FaultRecord, error) {
	opts := options.Find().SetSort(bson.M{"faultedAt": -1})
	cursor, err := r.collection.Find(ctx, bson.M{"potId": potID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.FaultRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FindOpen finds faults that no operator has cleared yet
func (r *FaultRepository) FindOpen(ctx context.Context) ([]*models.FaultRecord, error) {
	opts := options.Find().SetSort(bson.M{"faultedAt": -1})
	cursor, err := r.collection.Find(ctx, bson.M{"clearedAt": bson.M{"$exists": false}}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.FaultRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// MarkCleared stamps every open fault for the pot with the clearing operator
// and time. Returns how many records were updated.
func (r *FaultRepository) MarkCleared(ctx context.Context, potID uint64, clearedBy string, clearedAt time.Time) (int64, error) {
	filter := bson.M{"potId": potID, "clearedAt": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{"clearedAt": clearedAt, "clearedBy": clearedBy}}
	res, err := r.collection.UpdateMany(ctx, filter, update)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

// FindAll returns fault records with pagination, newest first
func (r *FaultRepository) FindAll(ctx context.Context, page, limit int) ([]*models.FaultRecord, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	opts := options.Find().
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetSort(bson.M{"faultedAt": -1})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.FaultRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DeleteOlderThan removes faults raised before the cutoff and returns how
// many were deleted
func (r *FaultRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"faultedAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
