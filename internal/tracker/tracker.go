package tracker

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/chainpot/keeper/internal/ledger"
	"github.com/chainpot/keeper/internal/models"
)

// Snapshot is one pot's ledger state at a point in time: everything the
// coordinator needs to decide the next action.
type Snapshot struct {
	Pot       *models.Pot
	Request   *models.RandomnessRequest
	Slot      uint64
	FetchedAt time.Time
}

// Tracker derives pot lifecycle state from ledger accounts. Snapshots are
// cached briefly to keep the operator API from hammering the ledger; anything
// that mutates must call Refresh first and decide on fresh state.
type Tracker struct {
	client  ledger.Client
	deriver *ledger.AddressDeriver
	cache   *lru.Cache
	ttl     time.Duration
	now     func() time.Time
}

// New creates a tracker. A non-positive ttl disables the cache.
func New(client ledger.Client, deriver *ledger.AddressDeriver, cacheSize int, ttl time.Duration) (*Tracker, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		client:  client,
		deriver: deriver,
		cache:   cache,
		ttl:     ttl,
		now:     time.Now,
	}, nil
}

// SetClock replaces the clock used for cache aging.
func (t *Tracker) SetClock(now func() time.Time) {
	t.now = now
}

// Snapshot returns the pot's state, from cache when fresh enough.
func (t *Tracker) Snapshot(ctx context.Context, potID uint64) (*Snapshot, error) {
	if t.ttl > 0 {
		if cached, ok := t.cache.Get(potID); ok {
			snap := cached.(*Snapshot)
			if t.now().Sub(snap.FetchedAt) <= t.ttl {
				return snap, nil
			}
		}
	}
	return t.Refresh(ctx, potID)
}

// Refresh fetches the pot's state from the ledger, bypassing the cache. The
// coordinator calls this right before committing to any action so a stale
// read can never drive a submission.
func (t *Tracker) Refresh(ctx context.Context, potID uint64) (*Snapshot, error) {
	slot, err := t.client.CurrentSlot(ctx)
	if err != nil {
		return nil, fmt.Errorf("current slot: %w", err)
	}

	potAddr := t.deriver.Pot(potID)
	data, err := t.client.ReadAccount(ctx, potAddr)
	if err != nil {
		return nil, fmt.Errorf("read pot %d: %w", potID, err)
	}
	pot, err := ledger.DecodePotAccount(data)
	if err != nil {
		return nil, fmt.Errorf("decode pot %d: %w", potID, err)
	}
	pot.Address = potAddr

	snap := &Snapshot{
		Pot:       pot,
		Slot:      slot,
		FetchedAt: t.now(),
	}

	reqAddr := t.deriver.Request(potID)
	reqData, err := t.client.ReadAccount(ctx, reqAddr)
	switch {
	case err == nil:
		req, err := ledger.DecodeRequestAccount(reqData)
		if err != nil {
			return nil, fmt.Errorf("decode request for pot %d: %w", potID, err)
		}
		req.Address = reqAddr
		snap.Request = req
	case errors.Is(err, ledger.ErrNotFound):
		// No request committed yet.
	default:
		return nil, fmt.Errorf("read request for pot %d: %w", potID, err)
	}

	t.cache.Add(potID, snap)
	return snap, nil
}

// Directory lists every pot id registered with the program. A missing
// directory account means no pots exist yet.
func (t *Tracker) Directory(ctx context.Context) ([]uint64, error) {
	data, err := t.client.ReadAccount(ctx, t.deriver.Directory())
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read directory: %w", err)
	}
	ids, err := ledger.DecodeDirectory(data)
	if err != nil {
		return nil, fmt.Errorf("decode directory: %w", err)
	}
	return ids, nil
}

// Ticket fetches one ticket account.
func (t *Tracker) Ticket(ctx context.Context, potID, index uint64) (*models.Ticket, error) {
	addr := t.deriver.Ticket(potID, index)
	data, err := t.client.ReadAccount(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("read ticket %d/%d: %w", potID, index, err)
	}
	ticket, err := ledger.DecodeTicketAccount(data)
	if err != nil {
		return nil, fmt.Errorf("decode ticket %d/%d: %w", potID, index, err)
	}
	ticket.Address = addr
	return ticket, nil
}
