package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Client is the keeper's access to the external ledger. Implementations must
// map failures onto the package's sentinel errors and RejectionError so
// callers can classify without knowing the transport.
type Client interface {
	// CurrentSlot returns the ledger's current slot height.
	CurrentSlot(ctx context.Context) (uint64, error)

	// ReadAccount returns the raw bytes stored at the address. Returns
	// ErrNotFound when no account exists there.
	ReadAccount(ctx context.Context, address string) ([]byte, error)

	// SubmitTransaction sends a signed transaction and returns its
	// signature. A program refusal comes back as a RejectionError.
	SubmitTransaction(ctx context.Context, tx *Transaction) (string, error)

	// ConfirmTransaction checks the status of a submitted transaction.
	// Returns nil once confirmed, ErrUnconfirmed while pending.
	ConfirmTransaction(ctx context.Context, signature string) error
}

// WaitForConfirmation polls ConfirmTransaction until the transaction is
// confirmed, rejected, or the context expires. Expiry reports as
// ErrUnconfirmed so callers retry rather than fault.
func WaitForConfirmation(ctx context.Context, c Client, signature string, interval time.Duration) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		err := c.ConfirmTransaction(ctx, signature)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrUnconfirmed) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrUnconfirmed, ctx.Err())
		case <-ticker.C:
		}
	}
}
