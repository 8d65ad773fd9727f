package keeper

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/oracle"
	"github.com/chainpot/keeper/internal/tracker"
)

var (
	alice = ledger.MockKey("alice")
	bob   = ledger.MockKey("bob")
	carol = ledger.MockKey("carol")
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memoryArchive struct {
	mu          sync.Mutex
	settlements []*models.SettlementRecord
	faults      []*models.FaultRecord
}

func (a *memoryArchive) RecordSettlement(ctx context.Context, rec *models.SettlementRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settlements = append(a.settlements, rec)
	return nil
}

func (a *memoryArchive) RecordFault(ctx context.Context, rec *models.FaultRecord) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.faults = append(a.faults, rec)
	return nil
}

func (a *memoryArchive) settled() []*models.SettlementRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.SettlementRecord(nil), a.settlements...)
}

func (a *memoryArchive) faulted() []*models.FaultRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*models.FaultRecord(nil), a.faults...)
}

type harness struct {
	clock   *fakeClock
	chain   *ledger.Mock
	vrf     *oracle.Mock
	archive *memoryArchive
	coord   *Coordinator
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	return Config{
		PollInterval:      10 * time.Millisecond,
		ConfirmInterval:   time.Millisecond,
		CommitOffsetSlots: 8,
		InvalidCooldown:   time.Minute,
		Backoff:           Policy{BaseDelay: time.Second, Multiplier: 2, MaxDelay: time.Minute, MaxAttempts: 4},
		KeeperID:          "keeper-test",
	}
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := newFakeClock()
	chain := ledger.NewMock()
	chain.SetClock(clock.Now)
	chain.SetRequestWindow(20)
	vrf := oracle.NewMock()

	signer, err := ledger.GenerateSigner()
	require.NoError(t, err)
	tr, err := tracker.New(chain, chain.Deriver(), 16, 0)
	require.NoError(t, err)
	tr.SetClock(clock.Now)

	archive := &memoryArchive{}
	coord := New(testConfig(), chain, chain.Deriver(), signer, vrf, vrf.PublicKey(), tr, archive, testLogger())
	coord.SetClock(clock.Now)
	return &harness{clock: clock, chain: chain, vrf: vrf, archive: archive, coord: coord}
}

// secondKeeper builds an independent coordinator over the same mock ledger
// and oracle, with its own signer and tracker, as another process would be.
func (h *harness) secondKeeper(t *testing.T) *Coordinator {
	t.Helper()
	signer, err := ledger.GenerateSigner()
	require.NoError(t, err)
	tr, err := tracker.New(h.chain, h.chain.Deriver(), 16, 0)
	require.NoError(t, err)
	tr.SetClock(h.clock.Now)
	cfg := testConfig()
	cfg.KeeperID = "keeper-rival"
	c := New(cfg, h.chain, h.chain.Deriver(), signer, h.vrf, h.vrf.PublicKey(), tr, nil, testLogger())
	c.SetClock(h.clock.Now)
	return c
}

func (h *harness) createPot(t *testing.T, id uint64, closesIn time.Duration, owners ...string) {
	t.Helper()
	pot := &models.Pot{
		ID:          id,
		Authority:   ledger.MockKey("authority"),
		TicketPrice: 2_000_000,
		FeeBps:      500,
		OpensAt:     h.clock.Now().Add(-2 * time.Hour),
		ClosesAt:    h.clock.Now().Add(closesIn),
		Phase:       models.PotPhaseOpen,
	}
	require.NoError(t, h.chain.CreatePot(pot))
	if len(owners) > 0 {
		require.NoError(t, h.chain.AddTickets(id, owners...))
	}
}

func (h *harness) phase(t *testing.T, id uint64) models.PotPhase {
	t.Helper()
	pot, err := h.chain.Pot(id)
	require.NoError(t, err)
	return pot.Phase
}

func TestCoordinatorDrivesPotToSettlement(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, time.Hour, alice, bob, carol)
	require.True(t, h.coord.Watch(1))
	ctx := context.Background()

	// Sales window still open: nothing happens.
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseOpen, h.phase(t, 1))

	h.clock.Advance(2 * time.Hour)
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseClosed, h.phase(t, 1))

	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseRandomnessCommitted, h.phase(t, 1))
	req, err := h.chain.Request(1)
	require.NoError(t, err)

	// Attestation fetched and verified; the ledger is untouched this cycle.
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseRandomnessCommitted, h.phase(t, 1))

	h.coord.Cycle(ctx)
	pot, err := h.chain.Pot(1)
	require.NoError(t, err)
	assert.Equal(t, models.PotPhaseSettled, pot.Phase)

	value := h.vrf.Value(1, req.CommitSlot)
	owners := []string{alice, bob, carol}
	idx := binary.LittleEndian.Uint64(value[:8]) % 3
	require.NotNil(t, pot.Winner)
	assert.Equal(t, owners[idx], *pot.Winner)
	require.NotNil(t, pot.WinningTicket)
	assert.Equal(t, idx, *pot.WinningTicket)
	require.NotNil(t, pot.CommitSlot)
	assert.Equal(t, req.CommitSlot, *pot.CommitSlot)
	require.NotNil(t, pot.Randomness)
	assert.Equal(t, hex.EncodeToString(value[:]), *pot.Randomness)

	// The request account records the consumed value under the same slot.
	consumed, err := h.chain.Request(1)
	require.NoError(t, err)
	assert.Equal(t, req.CommitSlot, consumed.CommitSlot)
	assert.True(t, consumed.Consumed)

	h.coord.Cycle(ctx)
	st, ok := h.coord.PotStatus(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, models.StatusDone, st.Status)

	recs := h.archive.settled()
	require.Len(t, recs, 1)
	assert.Equal(t, uint64(1), recs[0].PotID)
	assert.Equal(t, owners[idx], recs[0].Winner)
	assert.Equal(t, uint64(3), recs[0].TicketsSold)
	assert.Equal(t, "keeper-test", recs[0].KeeperID)
	assert.NotEmpty(t, recs[0].TxSignature)
	// Three tickets at 2_000_000 lamports with a 500 bps fee.
	assert.Equal(t, uint64(300_000), recs[0].FeeLamports)
	assert.Equal(t, uint64(5_700_000), recs[0].PrizeLamports)

	// Further cycles change nothing.
	h.coord.Cycle(ctx)
	assert.Len(t, h.archive.settled(), 1)
	assert.Empty(t, h.archive.faulted())
}

func TestCoordinatorEmptyPotSettlesOnClose(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 3, -time.Hour)
	h.coord.Watch(3)
	ctx := context.Background()

	h.coord.Cycle(ctx)
	pot, err := h.chain.Pot(3)
	require.NoError(t, err)
	assert.Equal(t, models.PotPhaseSettled, pot.Phase)
	assert.Nil(t, pot.Winner)

	h.coord.Cycle(ctx)
	recs := h.archive.settled()
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].Winner)
	assert.Zero(t, recs[0].TicketsSold)
	assert.Zero(t, recs[0].PrizeLamports)
}

func TestCoordinatorRetriesTransientFailures(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice)
	h.coord.Watch(1)
	ctx := context.Background()

	h.chain.FailNextSubmits(3, ledger.ErrUnavailable)

	// First attempt fails and schedules a retry.
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseOpen, h.phase(t, 1))
	st, _ := h.coord.PotStatus(ctx, 1)
	assert.Equal(t, 1, st.Attempts)
	require.NotNil(t, st.NextAttemptAt)

	// Cycling again before the retry is due must not touch the ledger.
	h.coord.Cycle(ctx)
	st, _ = h.coord.PotStatus(ctx, 1)
	assert.Equal(t, 1, st.Attempts)

	h.clock.Advance(2 * time.Second)
	h.coord.Cycle(ctx)
	h.clock.Advance(3 * time.Second)
	h.coord.Cycle(ctx)

	// Fourth attempt goes through; the outage never became a fault.
	h.clock.Advance(5 * time.Second)
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseClosed, h.phase(t, 1))

	st, _ = h.coord.PotStatus(ctx, 1)
	assert.NotEqual(t, models.StatusFaulted, st.Status)
	assert.Equal(t, 0, st.Attempts)
	assert.Empty(t, h.archive.faulted())
}

func TestCoordinatorFaultsAfterRetryBudget(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice)
	h.coord.Watch(1)
	ctx := context.Background()

	h.chain.FailNextSubmits(10, ledger.ErrUnavailable)

	for i := 0; i < 4; i++ {
		h.coord.Cycle(ctx)
		h.clock.Advance(time.Minute)
	}

	st, _ := h.coord.PotStatus(ctx, 1)
	require.Equal(t, models.StatusFaulted, st.Status)
	faults := h.archive.faulted()
	require.Len(t, faults, 1)
	assert.Equal(t, models.FaultRetryExhausted, faults[0].Kind)
	assert.Equal(t, uint64(1), faults[0].PotID)
	assert.Equal(t, "keeper-test", faults[0].KeeperID)

	// Faulted pots are skipped entirely.
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseOpen, h.phase(t, 1))

	// Operator clears the fault; with the outage over the pot recovers.
	h.chain.FailNextSubmits(0, nil)
	require.True(t, h.coord.ForceRetry(1))
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseClosed, h.phase(t, 1))
}

func TestCoordinatorTreatsRivalCloseAsSuccess(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice, bob)
	h.coord.Watch(1)
	ctx := context.Background()

	// Snapshot taken while the pot is still open.
	snap, err := h.coord.tracker.Refresh(ctx, 1)
	require.NoError(t, err)

	// Another keeper closes the pot in between.
	rival, err := ledger.GenerateSigner()
	require.NoError(t, err)
	tx := ledger.NewTransaction(rival.PublicKey(), ledger.NewClosePotInstruction(h.chain.Deriver(), 1))
	require.NoError(t, tx.Sign(rival))
	_, err = h.chain.SubmitTransaction(ctx, tx)
	require.NoError(t, err)

	// Acting on the stale snapshot hits the duplicate rejection, which is
	// success by idempotence.
	st, ok := h.coord.registry.get(1)
	require.True(t, ok)
	h.coord.closePot(ctx, st, snap)

	assert.False(t, st.isFaulted())
	assert.Equal(t, 0, st.statusView().Attempts)
	assert.Equal(t, models.PotPhaseClosed, h.phase(t, 1))
	assert.Empty(t, h.archive.faulted())
}

func TestCoordinatorAdoptsRivalCommitSlot(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice, bob, carol)
	h.coord.Watch(1)
	ctx := context.Background()

	h.coord.Cycle(ctx)
	require.Equal(t, models.PotPhaseClosed, h.phase(t, 1))

	// Snapshot from before the rival's commitment lands.
	snap, err := h.coord.tracker.Refresh(ctx, 1)
	require.NoError(t, err)

	rival, err := ledger.GenerateSigner()
	require.NoError(t, err)
	rivalSlot := snap.Slot + 99
	tx := ledger.NewTransaction(rival.PublicKey(), ledger.NewCommitRandomnessInstruction(h.chain.Deriver(), 1, rivalSlot))
	require.NoError(t, tx.Sign(rival))
	_, err = h.chain.SubmitTransaction(ctx, tx)
	require.NoError(t, err)

	// Our commit bounces off the existing request; the keeper adopts the
	// slot the ledger actually holds instead of the one it intended.
	st, ok := h.coord.registry.get(1)
	require.True(t, ok)
	h.coord.requestRandomness(ctx, st, snap)

	assert.False(t, st.isFaulted())
	assert.NotEmpty(t, st.handleFor(rivalSlot))
	req, err := h.chain.Request(1)
	require.NoError(t, err)
	assert.Equal(t, rivalSlot, req.CommitSlot)

	// The rest of the lifecycle proceeds on the rival's slot.
	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)
	pot, err := h.chain.Pot(1)
	require.NoError(t, err)
	assert.Equal(t, models.PotPhaseSettled, pot.Phase)
	require.NotNil(t, pot.CommitSlot)
	assert.Equal(t, rivalSlot, *pot.CommitSlot)
}

func TestCoordinatorRejectsMismatchedAttestation(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice, bob)
	h.coord.Watch(1)
	ctx := context.Background()

	h.vrf.SetTamper(func(a *oracle.Attestation) { a.Value[0] ^= 0xff })

	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)
	first, err := h.chain.Request(1)
	require.NoError(t, err)

	// The tampered attestation fails verification. The request is poisoned
	// and no settlement reaches the ledger.
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseRandomnessCommitted, h.phase(t, 1))
	faults := h.archive.faulted()
	require.Len(t, faults, 1)
	assert.Equal(t, models.FaultRandomnessInvalid, faults[0].Kind)

	// The pot is not faulted: it waits out the cooldown.
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseRandomnessCommitted, h.phase(t, 1))
	st, _ := h.coord.PotStatus(ctx, 1)
	assert.Equal(t, models.StatusAwaitingRequestSubmission, st.Status)
	assert.NotEqual(t, models.StatusFaulted, st.Status)
	require.NotNil(t, st.CooldownUntil)

	// Cooldown over, but the old request still occupies the ledger.
	h.clock.Advance(2 * time.Minute)
	h.coord.Cycle(ctx)
	req, err := h.chain.Request(1)
	require.NoError(t, err)
	assert.Equal(t, first.CommitSlot, req.CommitSlot)

	// Once the on-ledger request expires, a fresh slot replaces it; with the
	// oracle behaving again the pot settles.
	h.vrf.SetTamper(nil)
	h.chain.SetSlot(first.ExpirySlot + 1)
	h.coord.Cycle(ctx)
	replaced, err := h.chain.Request(1)
	require.NoError(t, err)
	assert.NotEqual(t, first.CommitSlot, replaced.CommitSlot)

	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseSettled, h.phase(t, 1))
}

func TestCoordinatorPoisonsRequestOnLedgerAttestationRejection(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice, bob)
	h.coord.Watch(1)
	ctx := context.Background()

	// The program refuses the attestation even though it verified locally,
	// as it would under an oracle key rotation.
	h.chain.SetAttestationCheck(func(uint64, [32]byte, []byte) error {
		return errors.New("oracle key mismatch")
	})

	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)

	assert.Equal(t, models.PotPhaseRandomnessCommitted, h.phase(t, 1))
	st, _ := h.coord.PotStatus(ctx, 1)
	assert.NotEqual(t, models.StatusFaulted, st.Status)
	faults := h.archive.faulted()
	require.Len(t, faults, 1)
	assert.Equal(t, models.FaultRandomnessInvalid, faults[0].Kind)
}

func TestCoordinatorReplacesExpiredOracleRequest(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice)
	h.coord.Watch(1)
	ctx := context.Background()

	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)
	first, err := h.chain.Request(1)
	require.NoError(t, err)
	h.vrf.Expire(1, first.CommitSlot)

	// Expiry poisons the request without a cooldown; the keeper still waits
	// for the on-ledger expiry slot before recommitting.
	h.coord.Cycle(ctx)
	faults := h.archive.faulted()
	require.Len(t, faults, 1)
	assert.Equal(t, models.FaultOracleExpired, faults[0].Kind)
	h.coord.Cycle(ctx)
	req, err := h.chain.Request(1)
	require.NoError(t, err)
	assert.Equal(t, first.CommitSlot, req.CommitSlot)

	h.chain.SetSlot(first.ExpirySlot + 1)
	h.coord.Cycle(ctx)
	replaced, err := h.chain.Request(1)
	require.NoError(t, err)
	assert.NotEqual(t, first.CommitSlot, replaced.CommitSlot)

	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)
	assert.Equal(t, models.PotPhaseSettled, h.phase(t, 1))
}

func TestCoordinatorResumesAfterRestart(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice, bob, carol)
	h.coord.Watch(1)
	ctx := context.Background()

	h.coord.Cycle(ctx)
	h.coord.Cycle(ctx)
	require.Equal(t, models.PotPhaseRandomnessCommitted, h.phase(t, 1))
	committed, err := h.chain.Request(1)
	require.NoError(t, err)

	// A brand new process: fresh signer and tracker, no in-memory state.
	restarted := h.secondKeeper(t)
	restarted.Watch(1)

	// It rebuilds everything from the ledger: the oracle handle is
	// re-derived rather than a second slot committed.
	restarted.Cycle(ctx)
	restarted.Cycle(ctx)

	pot, err := h.chain.Pot(1)
	require.NoError(t, err)
	assert.Equal(t, models.PotPhaseSettled, pot.Phase)
	require.NotNil(t, pot.CommitSlot)
	assert.Equal(t, committed.CommitSlot, *pot.CommitSlot)
}

func TestCoordinatorsShareOnePotSafely(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice, bob)
	h.coord.Watch(1)
	second := h.secondKeeper(t)
	second.Watch(1)
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		h.coord.Cycle(ctx)
		second.Cycle(ctx)
	}

	pot, err := h.chain.Pot(1)
	require.NoError(t, err)
	assert.Equal(t, models.PotPhaseSettled, pot.Phase)
	require.NotNil(t, pot.Winner)

	st1, ok := h.coord.PotStatus(ctx, 1)
	require.True(t, ok)
	st2, ok := second.PotStatus(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, models.StatusDone, st1.Status)
	assert.Equal(t, models.StatusDone, st2.Status)
	assert.Empty(t, h.archive.faulted())
}

func TestCoordinatorIsolatesFaultsPerPot(t *testing.T) {
	h := newHarness(t)
	// Pot 1 is watched but does not exist on the ledger.
	h.createPot(t, 2, -time.Hour, alice, bob)
	h.coord.Watch(1)
	h.coord.Watch(2)
	ctx := context.Background()

	h.coord.Cycle(ctx)
	st1, _ := h.coord.PotStatus(ctx, 1)
	assert.Equal(t, models.StatusFaulted, st1.Status)
	assert.Equal(t, models.PotPhaseClosed, h.phase(t, 2))

	for i := 0; i < 4; i++ {
		h.coord.Cycle(ctx)
	}
	assert.Equal(t, models.PotPhaseSettled, h.phase(t, 2))

	faults := h.archive.faulted()
	require.Len(t, faults, 1)
	assert.Equal(t, models.FaultFatal, faults[0].Kind)
	assert.Equal(t, uint64(1), faults[0].PotID)
}

func TestCoordinatorStartStop(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 1, -time.Hour, alice, bob)
	h.coord.Watch(1)

	require.NoError(t, h.coord.Start())
	assert.True(t, h.coord.Running())
	assert.ErrorIs(t, h.coord.Start(), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		pot, err := h.chain.Pot(1)
		return err == nil && pot.Phase == models.PotPhaseSettled
	}, 5*time.Second, 10*time.Millisecond)

	h.coord.Stop()
	assert.False(t, h.coord.Running())
	h.coord.Stop()
}

func TestCoordinatorMergeDirectory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// No directory account published yet.
	added, err := h.coord.MergeDirectory(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)

	h.createPot(t, 3, time.Hour)
	h.createPot(t, 1, time.Hour)
	h.createPot(t, 2, time.Hour)

	added, err = h.coord.MergeDirectory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Equal(t, []uint64{1, 2, 3}, h.coord.WatchedIDs())

	added, err = h.coord.MergeDirectory(ctx)
	require.NoError(t, err)
	assert.Zero(t, added)
}

func TestCoordinatorWatchUnwatch(t *testing.T) {
	h := newHarness(t)
	h.createPot(t, 5, time.Hour, alice)
	ctx := context.Background()

	require.True(t, h.coord.Watch(5))
	assert.False(t, h.coord.Watch(5))

	// Status is served before any cycle has run, enriched from the ledger.
	st, ok := h.coord.PotStatus(ctx, 5)
	require.True(t, ok)
	assert.Equal(t, models.StatusIdle, st.Status)
	require.NotNil(t, st.Pot)
	assert.Equal(t, models.PotPhaseOpen, st.Phase)

	all := h.coord.Statuses(ctx)
	require.Len(t, all, 1)
	assert.Equal(t, uint64(5), all[0].PotID)

	require.True(t, h.coord.Unwatch(5))
	assert.False(t, h.coord.Unwatch(5))
	_, ok = h.coord.PotStatus(ctx, 5)
	assert.False(t, ok)
}
