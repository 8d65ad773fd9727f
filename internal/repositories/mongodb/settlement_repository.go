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

// SettlementRepository implements the repositories.SettlementRepository interface
type SettlementRepository struct {
	collection *mongo.Collection
}

// NewSettlementRepository creates a new SettlementRepository
func NewSettlementRepository(db *mongo.Database) repositories.SettlementRepository {
	return &SettlementRepository{
		collection: db.Collection("settlements"),
	}
}

// Create stores a settlement record
func (r *SettlementRepository) Create(ctx context.Context, record *models.SettlementRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, record)
	return err
}

// FindByPotID finds the settlement record for a pot. Settlement happens once
// per pot, so at most one record exists.
func (r *SettlementRepository) FindByPotID(ctx context.Context, potID uint64) (*models.SettlementRecord, error) {
	var record models.SettlementRecord
	err := r.collection.FindOne(ctx, bson.M{"potId": potID}).Decode(&record)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// FindAll returns settlement records with pagination, newest first
func (r *SettlementRepository) FindAll(ctx context.Context, page, limit int) ([]*models.SettlementRecord, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	opts := options.Find().
		SetSkip(int64((page - 1) * limit)).
		SetLimit(int64(limit)).
		SetSort(bson.M{"settledAt": -1})

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var records []*models.SettlementRecord
	if err := cursor.All(ctx, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// Count counts all settlement records
func (r *SettlementRepository) Count(ctx context.Context) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{})
}

// DeleteOlderThan removes records settled before the cutoff and returns how
// many were deleted
func (r *SettlementRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.collection.DeleteMany(ctx, bson.M{"settledAt": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
