package keeper

import (
	"fmt"
	"time"

	"github.com/chainpot/keeper/internal/models"
	"github.com/chainpot/keeper/internal/tracker"
)

// nextTask computes the single action a pot needs right now, given a fresh
// ledger snapshot and the keeper's pacing state. It is a pure function; every
// cycle recomputes it from scratch, which is what lets a restarted keeper
// resume mid-lifecycle without any persisted queue.
func nextTask(snap *tracker.Snapshot, v stateView, now time.Time) models.KeeperTask {
	pot := snap.Pot
	task := models.KeeperTask{PotID: pot.ID, Action: models.ActionNone, ComputedAt: now}

	if v.faulted {
		task.Reason = "faulted, waiting for operator"
		return task
	}

	if pot.Phase.Terminal() {
		if v.done {
			task.Reason = "retired"
			return task
		}
		task.Action = models.ActionRetire
		task.Reason = fmt.Sprintf("pot reached %s", pot.Phase)
		return task
	}

	if !v.ready {
		task.Reason = "backing off after transient failure"
		return task
	}

	switch pot.Phase {
	case models.PotPhaseOpen:
		if now.Before(pot.ClosesAt) {
			task.Reason = fmt.Sprintf("sales window open until %s", pot.ClosesAt.Format(time.RFC3339))
			return task
		}
		task.Action = models.ActionClosePot
		task.Reason = "sales window elapsed"

	case models.PotPhaseClosed:
		task.Action = models.ActionRequestRandomness
		task.Reason = "no active randomness request"

	case models.PotPhaseRandomnessCommitted, models.PotPhaseRandomnessRevealed:
		req := snap.Request
		if req == nil {
			// Confirmation lag; the account will show up on a later read.
			task.Reason = "randomness request account not visible yet"
			return task
		}
		poisoned := v.poisonedSlot != nil && *v.poisonedSlot == req.CommitSlot
		switch {
		case poisoned && now.Before(v.cooldownUntil):
			task.Reason = fmt.Sprintf("cooldown until %s", v.cooldownUntil.Format(time.RFC3339))
		case poisoned && snap.Slot > req.ExpirySlot:
			task.Action = models.ActionRequestRandomness
			task.Reason = "replacing unusable randomness request"
		case poisoned:
			task.Reason = "waiting for unusable request to expire"
		case v.attestationSlot != nil && *v.attestationSlot == req.CommitSlot:
			task.Action = models.ActionSettle
			task.Reason = "verified attestation in hand"
		default:
			task.Action = models.ActionPollOracle
			task.Reason = "awaiting oracle attestation"
		}
	}
	return task
}

// statusFor maps ledger phase plus pacing state onto the keeper's state
// machine position for one pot.
func statusFor(snap *tracker.Snapshot, v stateView, now time.Time) models.KeeperStatus {
	pot := snap.Pot
	switch {
	case pot.Phase.Terminal():
		return models.StatusDone
	case pot.Phase == models.PotPhaseOpen:
		if now.Before(pot.ClosesAt) {
			return models.StatusIdle
		}
		return models.StatusAwaitingClose
	case pot.Phase == models.PotPhaseClosed:
		return models.StatusAwaitingRequestSubmission
	}

	req := snap.Request
	if req != nil && v.poisonedSlot != nil && *v.poisonedSlot == req.CommitSlot {
		return models.StatusAwaitingRequestSubmission
	}
	if req != nil && v.attestationSlot != nil && *v.attestationSlot == req.CommitSlot {
		return models.StatusAwaitingSettlement
	}
	return models.StatusAwaitingReveal
}
