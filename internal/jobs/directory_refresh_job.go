package jobs

import (
	"context"
	"time"

	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/keeper"
)

// DirectoryRefreshJob merges newly published pots from the on-ledger
// directory into the keeper's watch set.
type DirectoryRefreshJob struct {
	coordinator *keeper.Coordinator
	logger      *slog.Logger
	timeout     time.Duration
}

// NewDirectoryRefreshJob creates a new DirectoryRefreshJob
func NewDirectoryRefreshJob(coordinator *keeper.Coordinator, logger *slog.Logger) *DirectoryRefreshJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirectoryRefreshJob{
		coordinator: coordinator,
		logger:      logger,
		timeout:     30 * time.Second,
	}
}

// Run implements cron.Job
func (j *DirectoryRefreshJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	added, err := j.coordinator.MergeDirectory(ctx)
	if err != nil {
		j.logger.Warn("Directory refresh failed", "error", err)
		return
	}
	if added > 0 {
		j.logger.Info("Directory refresh added pots", "added", added)
	}
}
