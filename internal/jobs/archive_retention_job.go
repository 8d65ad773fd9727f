package jobs

import (
	"context"
	"time"

	"golang.org/x/exp/slog"
)

// Pruner deletes archive records older than a cutoff. Both archive
// repositories satisfy it.
type Pruner interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ArchiveRetentionJob prunes settlement and fault records older than the
// configured retention window. The ledger stays the source of truth, so
// pruned history is still recoverable from chain data.
type ArchiveRetentionJob struct {
	settlements Pruner
	faults      Pruner
	retention   time.Duration
	logger      *slog.Logger
	timeout     time.Duration
}

// NewArchiveRetentionJob creates a new ArchiveRetentionJob
func NewArchiveRetentionJob(settlements, faults Pruner, retentionDays int, logger *slog.Logger) *ArchiveRetentionJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ArchiveRetentionJob{
		settlements: settlements,
		faults:      faults,
		retention:   time.Duration(retentionDays) * 24 * time.Hour,
		logger:      logger,
		timeout:     time.Minute,
	}
}

// Run implements cron.Job
func (j *ArchiveRetentionJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	cutoff := time.Now().Add(-j.retention)

	settlementsDeleted, err := j.settlements.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Warn("Settlement retention sweep failed", "error", err)
	}
	faultsDeleted, err := j.faults.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Warn("Fault retention sweep failed", "error", err)
	}
	if settlementsDeleted > 0 || faultsDeleted > 0 {
		j.logger.Info("Archive retention sweep completed",
			"settlementsDeleted", settlementsDeleted,
			"faultsDeleted", faultsDeleted,
			"cutoff", cutoff)
	}
}
