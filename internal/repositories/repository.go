package repositories

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/chainpot/keeper/internal/models"
)

// SettlementRepository defines the interface for settlement archive operations
type SettlementRepository interface {
	Create(ctx context.Context, record *models.SettlementRecord) error
	FindByPotID(ctx context.Context, potID uint64) (*models.SettlementRecord, error)
	FindAll(ctx context.Context, page, limit int) ([]*models.SettlementRecord, error)
	Count(ctx context.Context) (int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// FaultRepository defines the interface for fault archive operations
type FaultRepository interface {
	Create(ctx context.Context, record *models.FaultRecord) error
	FindByPotID(ctx context.Context, potID uint64) ([]*models.FaultRecord, error)
	FindOpen(ctx context.Context) ([]*models.FaultRecord, error)
	MarkCleared(ctx context.Context, potID uint64, clearedBy string, clearedAt time.Time) (int64, error)
	FindAll(ctx context.Context, page, limit int) ([]*models.FaultRecord, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// OperatorRepository defines the interface for operator account operations
type OperatorRepository interface {
	Create(ctx context.Context, operator *models.OperatorUser) error
	FindByEmail(ctx context.Context, email string) (*models.OperatorUser, error)
	FindByID(ctx context.Context, id primitive.ObjectID) (*models.OperatorUser, error)
	Update(ctx context.Context, operator *models.OperatorUser) error
	Delete(ctx context.Context, id primitive.ObjectID) error
	FindAll(ctx context.Context) ([]*models.OperatorUser, error)
}
