package ledger

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by Client implementations.
var (
	// ErrNotFound means the account does not exist on the ledger.
	ErrNotFound = errors.New("ledger: account not found")

	// ErrUnavailable means the ledger endpoint could not be reached or did
	// not answer in time. Always retryable.
	ErrUnavailable = errors.New("ledger: unavailable")

	// ErrUnconfirmed means a submitted transaction has not reached a
	// confirmed status yet. Retryable by polling again.
	ErrUnconfirmed = errors.New("ledger: transaction not confirmed")
)

// Program error codes surfaced on transaction rejection. The on-ledger
// program refuses transitions that are out of order or already applied.
const (
	CodePotStillOpen     uint32 = 6000
	CodePotAlreadyClosed uint32 = 6001
	CodeRequestExists    uint32 = 6002
	CodeNoActiveRequest  uint32 = 6003
	CodeAlreadyRevealed  uint32 = 6004
	CodeAlreadySettled   uint32 = 6005
	CodeBadAttestation   uint32 = 6006
	CodeWrongPhase       uint32 = 6007
	CodeBadCommitSlot    uint32 = 6008
)

// RejectionError is an explicit refusal from the ledger program. It is never
// retried as-is; whether it counts as success depends on the code and the
// action that was attempted.
type RejectionError struct {
	Code    uint32
	Message string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("ledger: rejected (code %d): %s", e.Code, e.Message)
}

// Duplicate reports whether the rejection means the requested transition was
// already applied, by this keeper or another one. Such rejections are treated
// as idempotent success.
func (e *RejectionError) Duplicate() bool {
	switch e.Code {
	case CodePotAlreadyClosed, CodeRequestExists, CodeAlreadyRevealed, CodeAlreadySettled:
		return true
	}
	return false
}

// IsRejection extracts a RejectionError from an error chain.
func IsRejection(err error) (*RejectionError, bool) {
	var rej *RejectionError
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// IsTransient reports whether the error is worth retrying with backoff.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrUnconfirmed)
}
