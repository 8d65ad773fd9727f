package models

import (
	"time"
)

// RandomnessRequest mirrors the on-ledger record of one oracle interaction
// for a pot. The program permits at most one active (unconsumed, unexpired)
// request per pot; a new commitment is only accepted once the previous
// request is consumed or past its expiry slot.
type RandomnessRequest struct {
	PotID       uint64    `json:"potId"`
	Address     string    `json:"address"`
	CommitSlot  uint64    `json:"commitSlot"`
	ExpirySlot  uint64    `json:"expirySlot"`
	RequestedAt time.Time `json:"requestedAt"`
	Revealed    bool      `json:"revealed"`
	Value       *string   `json:"value,omitempty"` // hex, 32 bytes
	Consumed    bool      `json:"consumed"`
}

// Active reports whether the request still binds the pot: committed, not yet
// consumed by settlement.
func (r *RandomnessRequest) Active() bool {
	return r != nil && !r.Consumed
}
