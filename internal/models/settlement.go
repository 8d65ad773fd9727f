package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SettlementRecord is the archive entry written after the keeper observes a
// pot reach the settled phase. The archive is advisory: the ledger remains
// the source of truth and the keeper runs fine with archiving disabled.
type SettlementRecord struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	PotID         uint64             `bson:"potId" json:"potId"`
	PotAddress    string             `bson:"potAddress" json:"potAddress"`
	Winner        string             `bson:"winner" json:"winner"`
	WinningTicket uint64             `bson:"winningTicket" json:"winningTicket"`
	TicketsSold   uint64             `bson:"ticketsSold" json:"ticketsSold"`
	PrizeLamports uint64             `bson:"prizeLamports" json:"prizeLamports"`
	FeeLamports   uint64             `bson:"feeLamports" json:"feeLamports"`
	CommitSlot    uint64             `bson:"commitSlot" json:"commitSlot"`
	Randomness    string             `bson:"randomness" json:"randomness"` // hex
	TxSignature   string             `bson:"txSignature" json:"txSignature"`
	KeeperID      string             `bson:"keeperId" json:"keeperId"`
	SettledAt     time.Time          `bson:"settledAt" json:"settledAt"`
	CreatedAt     time.Time          `bson:"createdAt" json:"createdAt"`
}
