package keeper

import (
	"sync"
	"time"

	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/oracle"
)

// potState is the keeper's in-memory bookkeeping for one watched pot. It
// paces retries and remembers oracle progress; lifecycle truth is always
// re-read from the ledger, so losing this state loses nothing.
type potState struct {
	mu sync.Mutex

	id      uint64
	status  models.KeeperStatus
	backoff *Backoff

	// handle belongs to handleSlot; the attestation is held until a settle
	// submission consumes it. poisonedSlot marks a commitment whose
	// attestation failed verification or expired, so it is never polled
	// again.
	handle        string
	handleSlot    uint64
	attestation   *oracle.Attestation
	poisonedSlot  *uint64
	cooldownUntil time.Time

	faultKind    models.FaultKind
	lastErr      string
	lastActionAt time.Time
	lastPot      *models.Pot
	settleSig    string
	archived     bool
}

func newPotState(id uint64, policy Policy) *potState {
	return &potState{
		id:      id,
		status:  models.StatusIdle,
		backoff: NewBackoff(policy),
	}
}

// stateView is the immutable slice of potState the decision function reads.
type stateView struct {
	ready           bool
	cooldownUntil   time.Time
	poisonedSlot    *uint64
	attestationSlot *uint64
	faulted         bool
	done            bool
}

func (s *potState) view(now time.Time) stateView {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := stateView{
		ready:         s.backoff.Ready(now),
		cooldownUntil: s.cooldownUntil,
		faulted:       s.status == models.StatusFaulted,
		done:          s.status == models.StatusDone,
	}
	if s.poisonedSlot != nil {
		slot := *s.poisonedSlot
		v.poisonedSlot = &slot
	}
	if s.attestation != nil {
		slot := s.attestation.CommitSlot
		v.attestationSlot = &slot
	}
	return v
}

func (s *potState) noteObservation(pot *models.Pot, status models.KeeperStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPot = pot
	if s.status != models.StatusFaulted {
		s.status = status
	}
}

func (s *potState) success(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backoff.Reset()
	s.lastErr = ""
	s.lastActionAt = now
}

// transientFailure records a retryable failure. It returns false once the
// attempt budget is spent.
func (s *potState) transientFailure(err error, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastErr = err.Error()
	s.lastActionAt = now
	return s.backoff.Failure(now)
}

func (s *potState) fault(kind models.FaultKind, err error, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.StatusFaulted
	s.faultKind = kind
	s.lastErr = err.Error()
	s.lastActionAt = now
}

// clearFault resets the pot for a fresh evaluation. Operator force-retry also
// drops poison and cooldown, the operator is overriding the keeper's caution.
func (s *potState) clearFault(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = models.StatusIdle
	s.faultKind = ""
	s.lastErr = ""
	s.lastActionAt = now
	s.backoff.Reset()
	s.poisonedSlot = nil
	s.cooldownUntil = time.Time{}
	s.handle = ""
	s.handleSlot = 0
	s.attestation = nil
}

// poison marks the commitment slot as unusable and schedules the re-request
// cooldown. The cached handle and attestation die with it.
func (s *potState) poison(slot uint64, until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poisonedSlot = &slot
	s.cooldownUntil = until
	s.handle = ""
	s.handleSlot = 0
	s.attestation = nil
	s.backoff.Reset()
}

func (s *potState) clearPoison() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.poisonedSlot = nil
	s.cooldownUntil = time.Time{}
}

func (s *potState) isPoisoned(slot uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.poisonedSlot != nil && *s.poisonedSlot == slot
}

func (s *potState) setHandle(handle string, slot uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handleSlot != slot {
		s.attestation = nil
	}
	s.handle = handle
	s.handleSlot = slot
}

// handleFor returns the cached oracle handle for the slot, or empty when the
// cache belongs to a different commitment.
func (s *potState) handleFor(slot uint64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handleSlot != slot {
		return ""
	}
	return s.handle
}

func (s *potState) setAttestation(a *oracle.Attestation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attestation = a
}

func (s *potState) attestationFor(slot uint64) *oracle.Attestation {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.attestation == nil || s.attestation.CommitSlot != slot {
		return nil
	}
	return s.attestation
}

func (s *potState) setSettleSignature(sig string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settleSig = sig
}

func (s *potState) markDone(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != models.StatusFaulted {
		s.status = models.StatusDone
	}
	s.lastActionAt = now
}

// markArchived flips the archive latch. Returns false when already set.
func (s *potState) markArchived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.archived {
		return false
	}
	s.archived = true
	return true
}

func (s *potState) settleSignature() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settleSig
}

func (s *potState) isFaulted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == models.StatusFaulted
}

func (s *potState) isDone() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status == models.StatusDone
}

func (s *potState) currentStatus() models.KeeperStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// statusView builds the operator-facing summary.
func (s *potState) statusView() *models.PotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps := &models.PotStatus{
		PotID:     s.id,
		Status:    s.status,
		Attempts:  s.backoff.Attempts(),
		LastError: s.lastErr,
		Pot:       s.lastPot,
	}
	if s.lastPot != nil {
		ps.Phase = s.lastPot.Phase
	}
	if next := s.backoff.NextAt(); !next.IsZero() {
		t := next
		ps.NextAttemptAt = &t
	}
	if !s.cooldownUntil.IsZero() {
		t := s.cooldownUntil
		ps.CooldownUntil = &t
	}
	if !s.lastActionAt.IsZero() {
		t := s.lastActionAt
		ps.LastActionAt = &t
	}
	return ps
}
