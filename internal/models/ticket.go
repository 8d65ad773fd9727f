package models

import (
	"time"
)

// Ticket is one purchased entry in a pot. Tickets are created by the on-chain
// program at purchase time and are immutable afterwards; the keeper only ever
// reads them (to resolve the winning entry for the settlement record).
type Ticket struct {
	PotID       uint64    `json:"potId"`
	Index       uint64    `json:"index"` // sequence number within the pot, 0-based
	Owner       string    `json:"owner"`
	Address     string    `json:"address"`
	PurchasedAt time.Time `json:"purchasedAt"`
}
