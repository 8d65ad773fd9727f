package services

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/keeper"
	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/repositories"
	"github.com/chainpot/keeper/internal/tracker"
)

type potService struct {
	coordinator    *keeper.Coordinator
	tracker        *tracker.Tracker
	settlementRepo repositories.SettlementRepository
	faultRepo      repositories.FaultRepository
	logger         *slog.Logger
}

// NewPotService creates a new PotService implementation. The repositories may
// be nil when the deployment runs without the settlement archive.
func NewPotService(coordinator *keeper.Coordinator, tr *tracker.Tracker, settlementRepo repositories.SettlementRepository, faultRepo repositories.FaultRepository, logger *slog.Logger) PotService {
	if logger == nil {
		logger = slog.Default()
	}
	return &potService{
		coordinator:    coordinator,
		tracker:        tr,
		settlementRepo: settlementRepo,
		faultRepo:      faultRepo,
		logger:         logger,
	}
}

// GetPot retrieves the keeper's view of a pot, falling back to a plain
// ledger read for pots outside the watch set
func (s *potService) GetPot(ctx context.Context, potID uint64) (*models.PotStatus, error) {
	if status, ok := s.coordinator.PotStatus(ctx, potID); ok {
		return status, nil
	}

	snap, err := s.tracker.Snapshot(ctx, potID)
	if err != nil {
		return nil, err
	}
	return &models.PotStatus{
		PotID: potID,
		Phase: snap.Pot.Phase,
		Pot:   snap.Pot,
	}, nil
}

// ListPots retrieves the status of every watched pot
func (s *potService) ListPots(ctx context.Context) []*models.PotStatus {
	return s.coordinator.Statuses(ctx)
}

// Watch adds a pot to the keeper's watch set
func (s *potService) Watch(ctx context.Context, potID uint64) bool {
	return s.coordinator.Watch(potID)
}

// Unwatch removes a pot from the keeper's watch set
func (s *potService) Unwatch(ctx context.Context, potID uint64) bool {
	return s.coordinator.Unwatch(potID)
}

// Retry clears a faulted pot and records who cleared it
func (s *potService) Retry(ctx context.Context, potID uint64, clearedBy string) error {
	if !s.coordinator.ForceRetry(potID) {
		return ErrPotNotWatched
	}

	if s.faultRepo != nil {
		if _, err := s.faultRepo.MarkCleared(ctx, potID, clearedBy, time.Now()); err != nil {
			// The loop is already unblocked, so a failed archive update
			// should not read as a failed retry.
			s.logger.Warn("Failed to mark archived faults cleared", "potId", potID, "error", err)
		}
	}
	return nil
}

// GetSettlement retrieves the archived settlement record for a pot
func (s *potService) GetSettlement(ctx context.Context, potID uint64) (*models.SettlementRecord, error) {
	if s.settlementRepo == nil {
		return nil, ErrArchiveDisabled
	}
	record, err := s.settlementRepo.FindByPotID(ctx, potID)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return record, nil
}

// ListSettlements retrieves archived settlement records with the total count
func (s *potService) ListSettlements(ctx context.Context, page, limit int) ([]*models.SettlementRecord, int64, error) {
	if s.settlementRepo == nil {
		return nil, 0, ErrArchiveDisabled
	}
	records, err := s.settlementRepo.FindAll(ctx, page, limit)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.settlementRepo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return records, total, nil
}

// ListFaults retrieves archived fault records
func (s *potService) ListFaults(ctx context.Context, potID *uint64, openOnly bool, page, limit int) ([]*models.FaultRecord, error) {
	if s.faultRepo == nil {
		return nil, ErrArchiveDisabled
	}
	switch {
	case potID != nil:
		return s.faultRepo.FindByPotID(ctx, *potID)
	case openOnly:
		return s.faultRepo.FindOpen(ctx)
	default:
		return s.faultRepo.FindAll(ctx, page, limit)
	}
}
