package models

import (
	"time"
)

// PotPhase represents the on-ledger lifecycle phase of a pot
type PotPhase string

const (
	PotPhaseOpen                PotPhase = "OPEN"
	PotPhaseClosed              PotPhase = "CLOSED"
	PotPhaseRandomnessCommitted PotPhase = "RANDOMNESS_COMMITTED"
	PotPhaseRandomnessRevealed  PotPhase = "RANDOMNESS_REVEALED"
	PotPhaseSettled             PotPhase = "SETTLED"
	PotPhaseClosedOut           PotPhase = "CLOSED_OUT"
)

// Terminal reports whether the phase needs no further keeper action.
func (p PotPhase) Terminal() bool {
	return p == PotPhaseSettled || p == PotPhaseClosedOut
}

// Pot is the keeper's mirror of one lottery pot account. The ledger is the
// single source of truth; this struct is rebuilt from account data on every
// read and is never written back.
type Pot struct {
	ID            uint64    `json:"id"`
	Address       string    `json:"address"`
	Authority     string    `json:"authority"`
	TicketPrice   uint64    `json:"ticketPrice"` // lamports
	FeeBps        uint16    `json:"feeBps"`
	OpensAt       time.Time `json:"opensAt"`
	ClosesAt      time.Time `json:"closesAt"`
	TicketsSold   uint64    `json:"ticketsSold"`
	Phase         PotPhase  `json:"phase"`
	CommitSlot    *uint64   `json:"commitSlot,omitempty"`
	Randomness    *string   `json:"randomness,omitempty"` // hex, 32 bytes
	Winner        *string   `json:"winner,omitempty"`     // ticket owner address
	WinningTicket *uint64   `json:"winningTicket,omitempty"`
}

// HasActiveRequest reports whether a randomness request is committed but its
// value has not yet been consumed by settlement.
func (p *Pot) HasActiveRequest() bool {
	return p.CommitSlot != nil && p.Phase == PotPhaseRandomnessCommitted
}

// FeeLamports returns the fee retained by the pot authority. Computed in two
// terms so the intermediate product cannot overflow uint64.
func (p *Pot) FeeLamports() uint64 {
	gross := p.TicketPrice * p.TicketsSold
	return gross/10000*uint64(p.FeeBps) + gross%10000*uint64(p.FeeBps)/10000
}

// PrizeLamports returns the prize paid to the winner after the fee cut.
func (p *Pot) PrizeLamports() uint64 {
	return p.TicketPrice*p.TicketsSold - p.FeeLamports()
}
