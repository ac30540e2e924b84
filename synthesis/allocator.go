/*
Package synthesis builds Proposal/Hierarchy templates from templated
clusters, and routes everything else to Policy Hierarchy Assignments.

PURPOSE:
  This package owns creation of all synthesized entities. The identifier
  allocator here is the ONLY path that mints surrogate keys: nothing else in
  the repository may invent an id.

SEE ALSO:
  - synthesizer.go: Template construction and self-verification
  - regime.go: Date-regime segmentation and minority-floor demotion
*/
package synthesis

import (
	"context"
	"sync"

	"github.com/warp/commission-engine/commission"
)

// =============================================================================
// IDENTIFIER ALLOCATOR - Seed-once, single-writer surrogate keys
// =============================================================================

// IdentifierAllocator mints monotonically increasing surrogate identifiers,
// seeded exactly once per run from the current maximums in the target store
// so re-runs never collide with previously exported records.
//
// Group processing is parallel; the allocator is the only shared mutable
// state between groups, serialized by its mutex.
type IdentifierAllocator struct {
	mu     sync.Mutex
	next   map[commission.EntityKind]int64
	seeded bool
}

func NewIdentifierAllocator() *IdentifierAllocator {
	return &IdentifierAllocator{next: make(map[commission.EntityKind]int64)}
}

// Seed loads the current maximum identifier for every entity kind. Must be
// called exactly once, before any Next call; a second call is an error, not
// a silent reset.
func (a *IdentifierAllocator) Seed(ctx context.Context, src commission.IdentifierSource) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.seeded {
		return commission.ErrAllocatorReseeded
	}
	for _, kind := range commission.Kinds() {
		max, err := src.CurrentMax(ctx, kind)
		if err != nil {
			return err
		}
		a.next[kind] = max + 1
	}
	a.seeded = true
	return nil
}

// Next mints the next identifier for a kind. Fails if the allocator was
// never seeded: an unseeded mint would silently collide with exported rows.
func (a *IdentifierAllocator) Next(kind commission.EntityKind) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.seeded {
		return 0, commission.ErrAllocatorNotSeeded
	}
	id := a.next[kind]
	a.next[kind] = id + 1
	return id, nil
}
