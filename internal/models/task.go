package models

import (
	"time"
)

// TaskAction is the single next action a pot needs from the keeper.
type TaskAction string

const (
	ActionNone              TaskAction = "NONE"
	ActionClosePot          TaskAction = "CLOSE_POT"
	ActionRequestRandomness TaskAction = "REQUEST_RANDOMNESS"
	ActionPollOracle        TaskAction = "POLL_ORACLE"
	ActionSettle            TaskAction = "SETTLE"
	ActionRetire            TaskAction = "RETIRE"
)

// KeeperTask is an ephemeral work item: "pot P needs action A now". Tasks are
// recomputed from ledger state on every polling cycle and never persisted,
// which is what makes the keeper stateless and crash-safe.
type KeeperTask struct {
	PotID      uint64     `json:"potId"`
	Action     TaskAction `json:"action"`
	Reason     string     `json:"reason"`
	ComputedAt time.Time  `json:"computedAt"`
}

// KeeperStatus is the keeper-side view of where a pot sits in its lifecycle.
type KeeperStatus string

const (
	StatusIdle                      KeeperStatus = "IDLE"
	StatusAwaitingClose             KeeperStatus = "AWAITING_CLOSE"
	StatusAwaitingRequestSubmission KeeperStatus = "AWAITING_REQUEST_SUBMISSION"
	StatusAwaitingReveal            KeeperStatus = "AWAITING_REVEAL"
	StatusAwaitingSettlement        KeeperStatus = "AWAITING_SETTLEMENT"
	StatusDone                      KeeperStatus = "DONE"
	StatusFaulted                   KeeperStatus = "FAULTED"
)

// PotStatus is the operator-facing summary for one watched pot: the keeper's
// state machine position plus the most recent ledger snapshot data.
type PotStatus struct {
	PotID         uint64       `json:"potId"`
	Status        KeeperStatus `json:"status"`
	Phase         PotPhase     `json:"phase,omitempty"`
	Attempts      int          `json:"attempts"`
	NextAttemptAt *time.Time   `json:"nextAttemptAt,omitempty"`
	CooldownUntil *time.Time   `json:"cooldownUntil,omitempty"`
	LastError     string       `json:"lastError,omitempty"`
	LastActionAt  *time.Time   `json:"lastActionAt,omitempty"`
	Pot           *Pot         `json:"pot,omitempty"`
}
