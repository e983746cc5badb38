package core

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrUnknownConflict is returned when a resolution names a tax ID with no pending conflict.
	ErrUnknownConflict = errors.New("no pending conflict for tax ID")

	// ErrInvalidResolution is returned for anything other than "update" or "skip".
	ErrInvalidResolution = errors.New("resolution must be update or skip")
)

// ResolutionStore holds the operator's decisions for the conflicts of one session.
// Undecided conflicts resolve to skip.
type ResolutionStore struct {
	mu        sync.RWMutex
	pending   map[string]bool
	decisions map[string]Resolution
}

// NewResolutionStore creates a store for the given conflicts.
func NewResolutionStore(conflicts []ConflictRecord) *ResolutionStore {
	rs := &ResolutionStore{
		pending:   make(map[string]bool, len(conflicts)),
		decisions: make(map[string]Resolution),
	}
	for _, c := range conflicts {
		rs.pending[c.TaxID] = true
	}
	return rs
}

// Set records one decision.
func (rs *ResolutionStore) Set(taxID string, r Resolution) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, r)
	}
	id := DigitsOnly(taxID)

	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !rs.pending[id] {
		return fmt.Errorf("%w: %s", ErrUnknownConflict, taxID)
	}
	rs.decisions[id] = r
	return nil
}

// SetAll applies the same decision to every pending conflict.
func (rs *ResolutionStore) SetAll(r Resolution) error {
	if !r.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidResolution, r)
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()

	for id := range rs.pending {
		rs.decisions[id] = r
	}
	return nil
}

// Get returns the decision for taxID, skip when undecided.
func (rs *ResolutionStore) Get(taxID string) Resolution {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	if r, ok := rs.decisions[DigitsOnly(taxID)]; ok {
		return r
	}
	return ResolutionSkip
}

// Decided reports whether the operator chose explicitly for taxID.
func (rs *ResolutionStore) Decided(taxID string) bool {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	_, ok := rs.decisions[DigitsOnly(taxID)]
	return ok
}

// Snapshot returns a decision for every pending conflict, defaults filled in.
func (rs *ResolutionStore) Snapshot() Resolutions {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	out := make(Resolutions, len(rs.pending))
	for id := range rs.pending {
		r, ok := rs.decisions[id]
		if !ok {
			r = ResolutionSkip
		}
		out[id] = r
	}
	return out
}

// Pending lists conflicting tax IDs in sorted order.
func (rs *ResolutionStore) Pending() []string {
	rs.mu.RLock()
	defer rs.mu.RUnlock()

	ids := make([]string, 0, len(rs.pending))
	for id := range rs.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
