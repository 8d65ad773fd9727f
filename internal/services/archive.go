package services

import (
	"context"

	"github.com/chainpot/keeper/internal/keeper"
	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/repositories"
)

// MongoArchive persists the settlement loop's archive writes through the
// Mongo repositories.
type MongoArchive struct {
	settlements repositories.SettlementRepository
	faults      repositories.FaultRepository
}

var _ keeper.Archive = (*MongoArchive)(nil)

// NewMongoArchive creates an archive backed by the given repositories
func NewMongoArchive(settlements repositories.SettlementRepository, faults repositories.FaultRepository) *MongoArchive {
	return &MongoArchive{
		settlements: settlements,
		faults:      faults,
	}
}

// RecordSettlement stores one settlement record
func (a *MongoArchive) RecordSettlement(ctx context.Context, record *models.SettlementRecord) error {
	return a.settlements.Create(ctx, record)
}

// RecordFault stores one fault record
func (a *MongoArchive) RecordFault(ctx context.Context, record *models.FaultRecord) error {
	return a.faults.Create(ctx, record)
}
