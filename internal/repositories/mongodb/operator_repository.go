package mongodb

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/repositories"
)

// Ensure operatorRepository implements repositories.OperatorRepository
var _ repositories.OperatorRepository = (*operatorRepository)(nil)

type operatorRepository struct {
	collection *mongo.Collection
}

// NewOperatorRepository creates a new repository for operator accounts
func NewOperatorRepository(db *mongo.Database) repositories.OperatorRepository {
	return &operatorRepository{
		collection: db.Collection("operators"),
	}
}

// Create inserts a new operator account
func (r *operatorRepository) Create(ctx context.Context, operator *models.OperatorUser) error {
	operator.ID = primitive.NewObjectID()
	operator.CreatedAt = time.Now()
	operator.UpdatedAt = time.Now()
	_, err := r.collection.InsertOne(ctx, operator)
	return err
}

// FindByEmail finds an operator by email address. Returns
// mongo.ErrNoDocuments when no account exists, so the service layer can
// distinguish 'not found' from other errors.
func (r *operatorRepository) FindByEmail(ctx context.Context, email string) (*models.OperatorUser, error) {
	var operator models.OperatorUser
	err := r.collection.FindOne(ctx, bson.M{"email": email}).Decode(&operator)
	if err != nil {
		return nil, err
	}
	return &operator, nil
}

// FindByID finds an operator by id
func (r *operatorRepository) FindByID(ctx context.Context, id primitive.ObjectID) (*models.OperatorUser, error) {
	var operator models.OperatorUser
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&operator)
	if err != nil {
		return nil, err
	}
	return &operator, nil
}

// Update replaces an operator account document
func (r *operatorRepository) Update(ctx context.Context, operator *models.OperatorUser) error {
	operator.UpdatedAt = time.Now()
	_, err := r.collection.ReplaceOne(ctx, bson.M{"_id": operator.ID}, operator)
	return err
}

// Delete removes an operator account
func (r *operatorRepository) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// FindAll lists every operator account
func (r *operatorRepository) FindAll(ctx context.Context) ([]*models.OperatorUser, error) {
	cursor, err := r.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var operators []*models.OperatorUser
	if err := cursor.All(ctx, &operators); err != nil {
		return nil, err
	}
	return operators, nil
}
