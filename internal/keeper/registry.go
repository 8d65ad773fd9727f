package keeper

import (
	"sort"
	"sync"
)

// Registry is the set of pots a keeper instance watches, with each pot's
// pacing state. Ids arrive from configuration, the operator API, or the
// directory refresh job.
type Registry struct {
	mu     sync.Mutex
	policy Policy
	pots   map[uint64]*potState
}

// NewRegistry creates an empty registry; policy seeds each pot's backoff.
func NewRegistry(policy Policy) *Registry {
	return &Registry{
		policy: policy.withDefaults(),
		pots:   make(map[uint64]*potState),
	}
}

// Watch adds a pot to the watch set. Returns false when already watched.
func (r *Registry) Watch(potID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pots[potID]; ok {
		return false
	}
	r.pots[potID] = newPotState(potID, r.policy)
	return true
}

// Unwatch removes a pot. Returns false when it was not watched.
func (r *Registry) Unwatch(potID uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pots[potID]; !ok {
		return false
	}
	delete(r.pots, potID)
	return true
}

// Merge watches every id not yet present and returns how many were added.
func (r *Registry) Merge(ids []uint64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, id := range ids {
		if _, ok := r.pots[id]; !ok {
			r.pots[id] = newPotState(id, r.policy)
			added++
		}
	}
	return added
}

// IDs returns the watched pot ids in ascending order. Cycles iterate in this
// order so a busy low pot set can never starve a higher id.
func (r *Registry) IDs() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]uint64, 0, len(r.pots))
	for id := range r.pots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Size returns the number of watched pots.
func (r *Registry) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pots)
}

func (r *Registry) get(potID uint64) (*potState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.pots[potID]
	return st, ok
}
