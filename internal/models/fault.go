package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FaultKind classifies why a pot entered the FAULTED state.
type FaultKind string

const (
	FaultRandomnessInvalid FaultKind = "RANDOMNESS_INVALID"
	FaultLedgerRejected    FaultKind = "LEDGER_REJECTED"
	FaultOracleExpired     FaultKind = "ORACLE_EXPIRED"
	FaultRetryExhausted    FaultKind = "RETRY_EXHAUSTED"
	FaultFatal             FaultKind = "FATAL"
)

// FaultRecord is the archive entry for a pot fault. Cleared faults stay in
// the archive with ClearedAt set, so operators can audit repeat offenders.
type FaultRecord struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	PotID     uint64             `bson:"potId" json:"potId"`
	Kind      FaultKind          `bson:"kind" json:"kind"`
	Status    KeeperStatus       `bson:"status" json:"status"` // keeper state when the fault hit
	Message   string             `bson:"message" json:"message"`
	KeeperID  string             `bson:"keeperId" json:"keeperId"`
	FaultedAt time.Time          `bson:"faultedAt" json:"faultedAt"`
	ClearedAt *time.Time         `bson:"clearedAt,omitempty" json:"clearedAt,omitempty"`
	ClearedBy string             `bson:"clearedBy,omitempty" json:"clearedBy,omitempty"`
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
}
