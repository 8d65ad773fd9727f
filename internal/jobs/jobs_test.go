package jobs

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/keeper"
	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/oracle"
	"github.com/chainpot/keeper/internal/tracker"
)

type fakePruner struct {
	mu      sync.Mutex
	cutoff  time.Time
	deleted int64
	err     error
	calls   int
}

func (p *fakePruner) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.cutoff = cutoff
	return p.deleted, p.err
}

func (p *fakePruner) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakePruner) lastCutoff() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cutoff
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDirectoryRefreshJobWatchesNewPots(t *testing.T) {
	chain := ledger.NewMock()
	vrf := oracle.NewMock()
	signer, err := ledger.GenerateSigner()
	require.NoError(t, err)
	tr, err := tracker.New(chain, chain.Deriver(), 16, 0)
	require.NoError(t, err)
	coordinator := keeper.New(keeper.Config{KeeperID: "keeper-test"}, chain, chain.Deriver(), signer, vrf, vrf.PublicKey(), tr, nil, testLogger())

	now := time.Now()
	for _, id := range []uint64{3, 1} {
		require.NoError(t, chain.CreatePot(&models.Pot{
			ID:          id,
			Authority:   ledger.MockKey("authority"),
			TicketPrice: 1_000_000,
			OpensAt:     now.Add(-time.Hour),
			ClosesAt:    now.Add(time.Hour),
			Phase:       models.PotPhaseOpen,
		}))
	}

	job := NewDirectoryRefreshJob(coordinator, testLogger())
	job.Run()

	assert.Equal(t, []uint64{1, 3}, coordinator.WatchedIDs())

	// A second run finds nothing new.
	job.Run()
	assert.Equal(t, []uint64{1, 3}, coordinator.WatchedIDs())
}

func TestArchiveRetentionJobUsesRetentionWindow(t *testing.T) {
	settlements := &fakePruner{deleted: 2}
	faults := &fakePruner{deleted: 1}
	job := NewArchiveRetentionJob(settlements, faults, 30, testLogger())

	before := time.Now().Add(-30 * 24 * time.Hour)
	job.Run()
	after := time.Now().Add(-30 * 24 * time.Hour)

	assert.Equal(t, 1, settlements.callCount())
	assert.Equal(t, 1, faults.callCount())
	assert.False(t, settlements.lastCutoff().Before(before))
	assert.False(t, settlements.lastCutoff().After(after))
	assert.Equal(t, settlements.lastCutoff(), faults.lastCutoff())
}

func TestArchiveRetentionJobSweepsBothReposOnError(t *testing.T) {
	settlements := &fakePruner{err: context.DeadlineExceeded}
	faults := &fakePruner{}
	job := NewArchiveRetentionJob(settlements, faults, 7, testLogger())

	job.Run()

	// A failed settlement sweep does not skip the fault sweep.
	assert.Equal(t, 1, settlements.callCount())
	assert.Equal(t, 1, faults.callCount())
}

func TestRunnerExecutesScheduledJobs(t *testing.T) {
	runner := NewRunner(testLogger())
	settlements := &fakePruner{}
	faults := &fakePruner{}
	require.NoError(t, runner.Add("@every 10ms", NewArchiveRetentionJob(settlements, faults, 1, testLogger())))

	runner.Start()
	defer runner.Stop()

	assert.Eventually(t, func() bool {
		return settlements.callCount() > 0 && faults.callCount() > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestRunnerRejectsBadSpec(t *testing.T) {
	runner := NewRunner(testLogger())
	err := runner.Add("every tuesday-ish", NewDirectoryRefreshJob(nil, testLogger()))
	assert.Error(t, err)
}
