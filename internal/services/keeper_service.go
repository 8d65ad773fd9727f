package services

import (
	"context"

	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/keeper"
	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/models"
)

type keeperService struct {
	coordinator *keeper.Coordinator
	client      ledger.Client
	signer      *ledger.Signer
	logger      *slog.Logger
}

// NewKeeperService creates a new KeeperService implementation
func NewKeeperService(coordinator *keeper.Coordinator, client ledger.Client, signer *ledger.Signer, logger *slog.Logger) KeeperService {
	if logger == nil {
		logger = slog.Default()
	}
	return &keeperService{
		coordinator: coordinator,
		client:      client,
		signer:      signer,
		logger:      logger,
	}
}

// Info retrieves the keeper's identity and loop state
func (s *keeperService) Info(ctx context.Context) *models.KeeperInfo {
	info := &models.KeeperInfo{
		KeeperID:    s.coordinator.KeeperID(),
		PublicKey:   s.signer.PublicKey(),
		Running:     s.coordinator.Running(),
		WatchedPots: len(s.coordinator.WatchedIDs()),
	}

	slot, err := s.client.CurrentSlot(ctx)
	if err != nil {
		// Status stays useful even when the ledger is unreachable.
		s.logger.Warn("Failed to read current slot", "error", err)
	} else {
		info.CurrentSlot = slot
	}
	return info
}

// Start launches the settlement loop
func (s *keeperService) Start() error {
	return s.coordinator.Start()
}

// Stop halts the settlement loop
func (s *keeperService) Stop() {
	s.coordinator.Stop()
}

// RefreshDirectory merges newly published pots into the watch set
func (s *keeperService) RefreshDirectory(ctx context.Context) (int, error) {
	return s.coordinator.MergeDirectory(ctx)
}
