package jobs

import (
	"github.com/robfig/cron/v3"
	"golang.org/x/exp/slog"
)

// Runner owns the background cron schedule.
type Runner struct {
	cron   *cron.Cron
	logger *slog.Logger
}

// NewRunner creates an empty job runner
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cron:   cron.New(),
		logger: logger,
	}
}

// Add registers a job under the given cron spec
func (r *Runner) Add(spec string, job cron.Job) error {
	if _, err := r.cron.AddJob(spec, job); err != nil {
		return err
	}
	return nil
}

// Start launches the schedule in its own goroutine
func (r *Runner) Start() {
	r.cron.Start()
}

// Stop halts scheduling and waits for any running job to finish
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	r.logger.Info("Background jobs stopped")
}
