package keeper

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slog"

	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/oracle"
	"github.com/chainpot/keeper/internal/tracker"
)

// ErrAlreadyRunning is returned by Start when the loop is already up.
var ErrAlreadyRunning = errors.New("keeper: already running")

// Config tunes the polling loop.
type Config struct {
	PollInterval      time.Duration
	ConfirmInterval   time.Duration
	ConfirmTimeout    time.Duration
	CommitOffsetSlots uint64
	InvalidCooldown   time.Duration
	Backoff           Policy
	KeeperID          string
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = 500 * time.Millisecond
	}
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 30 * time.Second
	}
	if c.CommitOffsetSlots == 0 {
		c.CommitOffsetSlots = 32
	}
	if c.InvalidCooldown <= 0 {
		c.InvalidCooldown = 10 * time.Minute
	}
	return c
}

// Archive receives settlement and fault records for the operator's benefit.
// It is advisory: archive failures are logged and never block the loop, and
// a nil Archive disables archiving entirely.
type Archive interface {
	RecordSettlement(ctx context.Context, rec *models.SettlementRecord) error
	RecordFault(ctx context.Context, rec *models.FaultRecord) error
}

// Coordinator drives every watched pot through close, commit, reveal and
// settle against the ledger and the oracle. It keeps no durable state; each
// cycle recomputes the work set from ledger reads, so multiple coordinators
// can run against the same pots and a restart resumes where the ledger says
// things stand.
type Coordinator struct {
	cfg       Config
	client    ledger.Client
	deriver   *ledger.AddressDeriver
	signer    *ledger.Signer
	oracle    oracle.Client
	oracleKey ed25519.PublicKey
	tracker   *tracker.Tracker
	registry  *Registry
	archive   Archive
	logger    *slog.Logger
	keeperID  string
	now       func() time.Time

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a coordinator. The oracle key is the pinned attestation key;
// it never comes from the oracle itself.
func New(cfg Config, client ledger.Client, deriver *ledger.AddressDeriver, signer *ledger.Signer, oracleClient oracle.Client, oracleKey ed25519.PublicKey, tr *tracker.Tracker, archive Archive, logger *slog.Logger) *Coordinator {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	keeperID := cfg.KeeperID
	if keeperID == "" {
		keeperID = uuid.NewString()
	}
	return &Coordinator{
		cfg:       cfg,
		client:    client,
		deriver:   deriver,
		signer:    signer,
		oracle:    oracleClient,
		oracleKey: oracleKey,
		tracker:   tr,
		registry:  NewRegistry(cfg.Backoff),
		archive:   archive,
		logger:    logger,
		keeperID:  keeperID,
		now:       time.Now,
	}
}

// SetClock replaces the coordinator's clock.
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// KeeperID returns this instance's id, stamped on archive records.
func (c *Coordinator) KeeperID() string {
	return c.keeperID
}

// Start launches the polling loop.
func (c *Coordinator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true
	go c.loop(c.stopCh, c.doneCh)
	c.logger.Info("Keeper loop started", "keeperId", c.keeperID, "pollInterval", c.cfg.PollInterval)
	return nil
}

// Stop asks the loop to finish its in-flight action and waits for it to
// exit. Safe to call when not running.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	stop, done := c.stopCh, c.doneCh
	c.running = false
	c.mu.Unlock()

	close(stop)
	<-done
	c.logger.Info("Keeper loop stopped", "keeperId", c.keeperID)
}

// Running reports whether the loop is up.
func (c *Coordinator) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Coordinator) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	ctx := context.Background()
	for {
		c.cycle(ctx, stop)
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
	}
}

// Cycle runs one pass over the watched pots in ascending id order. Exposed
// so operators and tests can single-step the loop.
func (c *Coordinator) Cycle(ctx context.Context) {
	c.cycle(ctx, nil)
}

func (c *Coordinator) cycle(ctx context.Context, stop <-chan struct{}) {
	for _, id := range c.registry.IDs() {
		if stopRequested(stop) || ctx.Err() != nil {
			return
		}
		c.processPot(ctx, id)
	}
}

func stopRequested(stop <-chan struct{}) bool {
	if stop == nil {
		return false
	}
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// processPot refreshes one pot from the ledger, decides its next action and
// executes it. Every error lands here, in this pot's handler; no failure
// escapes to stall the rest of the cycle.
func (c *Coordinator) processPot(ctx context.Context, potID uint64) {
	st, ok := c.registry.get(potID)
	if !ok || st.isFaulted() || st.isDone() {
		return
	}

	snap, err := c.tracker.Refresh(ctx, potID)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.fault(ctx, st, models.FaultFatal, fmt.Errorf("read pot: %w", err))
		} else {
			c.handleFailure(ctx, st, "read pot", err)
		}
		return
	}

	now := c.now()
	v := st.view(now)
	task := nextTask(snap, v, now)
	st.noteObservation(snap.Pot, statusFor(snap, v, now))

	if task.Action == models.ActionNone {
		c.logger.Debug("No action", "potId", potID, "reason", task.Reason)
		return
	}
	c.logger.Info("Executing task", "potId", potID, "action", task.Action, "reason", task.Reason)

	switch task.Action {
	case models.ActionClosePot:
		c.closePot(ctx, st, snap)
	case models.ActionRequestRandomness:
		c.requestRandomness(ctx, st, snap)
	case models.ActionPollOracle:
		c.pollOracle(ctx, st, snap)
	case models.ActionSettle:
		c.settle(ctx, st, snap)
	case models.ActionRetire:
		c.retire(ctx, st, snap)
	}
}

// submit signs, sends and confirms one instruction.
func (c *Coordinator) submit(ctx context.Context, ins ledger.Instruction) (string, error) {
	tx := ledger.NewTransaction(c.signer.PublicKey(), ins)
	if err := tx.Sign(c.signer); err != nil {
		return "", fmt.Errorf("sign transaction: %w", err)
	}
	sig, err := c.client.SubmitTransaction(ctx, tx)
	if err != nil {
		return "", err
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()
	if err := ledger.WaitForConfirmation(cctx, c.client, sig, c.cfg.ConfirmInterval); err != nil {
		return sig, err
	}
	return sig, nil
}

func (c *Coordinator) closePot(ctx context.Context, st *potState, snap *tracker.Snapshot) {
	potID := snap.Pot.ID
	sig, err := c.submit(ctx, ledger.NewClosePotInstruction(c.deriver, potID))
	if err != nil {
		if rej, ok := ledger.IsRejection(err); ok && rej.Duplicate() {
			c.logger.Info("Pot already closed by another keeper", "potId", potID)
			st.success(c.now())
			return
		}
		c.handleFailure(ctx, st, "close pot", err)
		return
	}
	st.success(c.now())
	c.logger.Info("Pot closed", "potId", potID, "signature", sig)
}

// requestRandomness commits a future slot on the ledger and then registers
// the oracle request for it. The on-ledger commit always happens before any
// party, this keeper included, can know a value derived from that slot.
func (c *Coordinator) requestRandomness(ctx context.Context, st *potState, snap *tracker.Snapshot) {
	potID := snap.Pot.ID
	commitSlot := snap.Slot + c.cfg.CommitOffsetSlots

	_, err := c.submit(ctx, ledger.NewCommitRandomnessInstruction(c.deriver, potID, commitSlot))
	committed := commitSlot
	if err != nil {
		rej, ok := ledger.IsRejection(err)
		if !ok || !rej.Duplicate() {
			c.handleFailure(ctx, st, "commit randomness", err)
			return
		}
		// Another keeper won the commit race. Adopt the slot the ledger
		// actually holds; our own intended slot means nothing now.
		fresh, ferr := c.tracker.Refresh(ctx, potID)
		if ferr != nil {
			c.handleFailure(ctx, st, "read committed slot", ferr)
			return
		}
		if fresh.Request == nil {
			return
		}
		committed = fresh.Request.CommitSlot
		if st.isPoisoned(committed) {
			return
		}
		c.logger.Info("Randomness already committed by another keeper", "potId", potID, "commitSlot", committed)
	} else {
		c.logger.Info("Committed randomness slot", "potId", potID, "commitSlot", committed)
	}

	st.clearPoison()
	handle, err := c.oracle.RequestRandomness(ctx, potID, committed)
	if err != nil {
		c.handleFailure(ctx, st, "request randomness", err)
		return
	}
	st.setHandle(handle, committed)
	st.success(c.now())
}

func (c *Coordinator) pollOracle(ctx context.Context, st *potState, snap *tracker.Snapshot) {
	req := snap.Request
	handle := st.handleFor(req.CommitSlot)
	if handle == "" {
		// Fresh process or a commit made by another keeper; requests are
		// idempotent per pot and slot, so asking again just yields the
		// existing handle.
		h, err := c.oracle.RequestRandomness(ctx, req.PotID, req.CommitSlot)
		if err != nil {
			c.handleFailure(ctx, st, "request randomness", err)
			return
		}
		st.setHandle(h, req.CommitSlot)
		handle = h
	}

	a, err := c.oracle.PollAttestation(ctx, handle)
	switch {
	case err == nil:
	case errors.Is(err, oracle.ErrPending):
		c.logger.Debug("Attestation pending", "potId", req.PotID, "commitSlot", req.CommitSlot)
		return
	case errors.Is(err, oracle.ErrExpired):
		c.invalidate(ctx, st, req, models.FaultOracleExpired, err, 0)
		return
	default:
		c.handleFailure(ctx, st, "poll oracle", err)
		return
	}

	if err := oracle.Verify(a, c.oracleKey, req.CommitSlot); err != nil {
		c.invalidate(ctx, st, req, models.FaultRandomnessInvalid, err, c.cfg.InvalidCooldown)
		return
	}
	st.setAttestation(a)
	st.success(c.now())
	c.logger.Info("Attestation verified", "potId", req.PotID, "commitSlot", req.CommitSlot)
}

func (c *Coordinator) settle(ctx context.Context, st *potState, snap *tracker.Snapshot) {
	req := snap.Request
	a := st.attestationFor(req.CommitSlot)
	if a == nil {
		return
	}
	// Verify against the slot just re-read from the ledger. Settlement never
	// goes out on a stale or mismatched attestation.
	if err := oracle.Verify(a, c.oracleKey, req.CommitSlot); err != nil {
		c.invalidate(ctx, st, req, models.FaultRandomnessInvalid, err, c.cfg.InvalidCooldown)
		return
	}

	ins := ledger.NewRevealAndSettleInstruction(c.deriver, snap.Pot.ID, a.CommitSlot, a.Value, a.Signature, snap.Pot.TicketsSold)
	sig, err := c.submit(ctx, ins)
	if err != nil {
		if rej, ok := ledger.IsRejection(err); ok {
			if rej.Duplicate() {
				c.logger.Info("Pot already settled by another keeper", "potId", snap.Pot.ID)
				st.success(c.now())
				return
			}
			if rej.Code == ledger.CodeBadAttestation {
				c.invalidate(ctx, st, req, models.FaultRandomnessInvalid, err, c.cfg.InvalidCooldown)
				return
			}
		}
		c.handleFailure(ctx, st, "settle", err)
		return
	}
	st.setSettleSignature(sig)
	st.success(c.now())
	c.logger.Info("Pot settled", "potId", snap.Pot.ID, "commitSlot", a.CommitSlot, "signature", sig)
}

func (c *Coordinator) retire(ctx context.Context, st *potState, snap *tracker.Snapshot) {
	if snap.Pot.Phase == models.PotPhaseSettled && c.archive != nil && st.markArchived() {
		now := c.now()
		rec := &models.SettlementRecord{
			PotID:         snap.Pot.ID,
			PotAddress:    snap.Pot.Address,
			TicketsSold:   snap.Pot.TicketsSold,
			PrizeLamports: snap.Pot.PrizeLamports(),
			FeeLamports:   snap.Pot.FeeLamports(),
			TxSignature:   st.settleSignature(),
			KeeperID:      c.keeperID,
			SettledAt:     now,
			CreatedAt:     now,
		}
		if snap.Pot.Winner != nil {
			rec.Winner = *snap.Pot.Winner
		}
		if snap.Pot.WinningTicket != nil {
			rec.WinningTicket = *snap.Pot.WinningTicket
		}
		if snap.Pot.CommitSlot != nil {
			rec.CommitSlot = *snap.Pot.CommitSlot
		}
		if snap.Pot.Randomness != nil {
			rec.Randomness = *snap.Pot.Randomness
		}
		if err := c.archive.RecordSettlement(ctx, rec); err != nil {
			c.logger.Error("Failed to archive settlement", "potId", snap.Pot.ID, "error", err)
		}
	}
	st.markDone(c.now())
	c.logger.Info("Pot retired", "potId", snap.Pot.ID, "phase", snap.Pot.Phase)
}

// invalidate marks a randomness request unusable. The pot stays active: once
// the cooldown passes and the on-ledger request expires, a fresh commitment
// replaces it.
func (c *Coordinator) invalidate(ctx context.Context, st *potState, req *models.RandomnessRequest, kind models.FaultKind, err error, cooldown time.Duration) {
	now := c.now()
	st.poison(req.CommitSlot, now.Add(cooldown))
	c.logger.Warn("Randomness request unusable",
		"potId", req.PotID, "kind", kind, "commitSlot", req.CommitSlot,
		"cooldown", cooldown, "error", err)
	c.recordFault(ctx, st, kind, err)
}

func (c *Coordinator) handleFailure(ctx context.Context, st *potState, action string, err error) {
	rej, isRejection := ledger.IsRejection(err)
	if isRejection && rej.Code != ledger.CodePotStillOpen {
		// Explicit refusal that is not idempotent success. The pot needs an
		// operator; auto-retrying a rejection cannot help.
		c.fault(ctx, st, models.FaultLedgerRejected, fmt.Errorf("%s: %w", action, err))
		return
	}
	if !isRejection && !isTransient(err) {
		c.fault(ctx, st, models.FaultFatal, fmt.Errorf("%s: %w", action, err))
		return
	}
	// Transient, or the ledger's clock still trails the close time; retry
	// with backoff.
	if !st.transientFailure(err, c.now()) {
		c.fault(ctx, st, models.FaultRetryExhausted, fmt.Errorf("%s: %w", action, err))
		return
	}
	c.logger.Warn("Transient failure, will retry",
		"potId", st.id, "action", action, "error", err)
}

func (c *Coordinator) fault(ctx context.Context, st *potState, kind models.FaultKind, err error) {
	st.fault(kind, err, c.now())
	c.logger.Error("Pot faulted", "potId", st.id, "kind", kind, "error", err)
	c.recordFault(ctx, st, kind, err)
}

func (c *Coordinator) recordFault(ctx context.Context, st *potState, kind models.FaultKind, err error) {
	if c.archive == nil {
		return
	}
	now := c.now()
	rec := &models.FaultRecord{
		PotID:     st.id,
		Kind:      kind,
		Status:    st.currentStatus(),
		Message:   err.Error(),
		KeeperID:  c.keeperID,
		FaultedAt: now,
		CreatedAt: now,
	}
	if aerr := c.archive.RecordFault(ctx, rec); aerr != nil {
		c.logger.Error("Failed to archive fault", "potId", st.id, "error", aerr)
	}
}

func isTransient(err error) bool {
	return ledger.IsTransient(err) ||
		errors.Is(err, oracle.ErrUnavailable) ||
		errors.Is(err, context.DeadlineExceeded)
}

// Watch adds a pot to the watch set.
func (c *Coordinator) Watch(potID uint64) bool {
	added := c.registry.Watch(potID)
	if added {
		c.logger.Info("Watching pot", "potId", potID)
	}
	return added
}

// Unwatch removes a pot from the watch set.
func (c *Coordinator) Unwatch(potID uint64) bool {
	removed := c.registry.Unwatch(potID)
	if removed {
		c.logger.Info("Unwatched pot", "potId", potID)
	}
	return removed
}

// WatchedIDs lists the watched pots in ascending order.
func (c *Coordinator) WatchedIDs() []uint64 {
	return c.registry.IDs()
}

// ForceRetry clears a pot's fault, backoff, poison and cooldown so the next
// cycle reevaluates it from ledger state alone.
func (c *Coordinator) ForceRetry(potID uint64) bool {
	st, ok := c.registry.get(potID)
	if !ok {
		return false
	}
	st.clearFault(c.now())
	c.logger.Info("Pot force-retried", "potId", potID)
	return true
}

// PotStatus returns the operator summary for one pot.
func (c *Coordinator) PotStatus(ctx context.Context, potID uint64) (*models.PotStatus, bool) {
	st, ok := c.registry.get(potID)
	if !ok {
		return nil, false
	}
	ps := st.statusView()
	if ps.Pot == nil {
		if snap, err := c.tracker.Snapshot(ctx, potID); err == nil {
			ps.Pot = snap.Pot
			ps.Phase = snap.Pot.Phase
		}
	}
	return ps, true
}

// Statuses returns summaries for every watched pot, ascending by id.
func (c *Coordinator) Statuses(ctx context.Context) []*models.PotStatus {
	ids := c.registry.IDs()
	out := make([]*models.PotStatus, 0, len(ids))
	for _, id := range ids {
		if ps, ok := c.PotStatus(ctx, id); ok {
			out = append(out, ps)
		}
	}
	return out
}

// MergeDirectory reads the program's pot directory and watches any pot not
// yet in the set. Returns how many were added.
func (c *Coordinator) MergeDirectory(ctx context.Context) (int, error) {
	ids, err := c.tracker.Directory(ctx)
	if err != nil {
		return 0, err
	}
	added := c.registry.Merge(ids)
	if added > 0 {
		c.logger.Info("Directory refresh added pots", "added", added, "watched", c.registry.Size())
	}
	return added, nil
}
