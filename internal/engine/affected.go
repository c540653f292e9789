package engine

import (
	"slices"
	"sync"

	"github.com/roach88/spacesync/internal/protocol"
)

// SpaceKey names one subspace of a space.
type SpaceKey struct {
	Space      protocol.Space
	SubspaceID string
}

// AffectedSpaces accumulates the subspaces touched by a push batch.
// It is a set: adding the same key twice has no effect.
//
// Thread-safety: AffectedSpaces is safe for concurrent use.
type AffectedSpaces struct {
	mu   sync.Mutex
	keys map[SpaceKey]struct{}
}

// NewAffectedSpaces returns an empty accumulator.
func NewAffectedSpaces() *AffectedSpaces {
	return &AffectedSpaces{keys: make(map[SpaceKey]struct{})}
}

// Add records keys.
func (a *AffectedSpaces) Add(keys ...SpaceKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, k := range keys {
		a.keys[k] = struct{}{}
	}
}

// Contains reports whether subspaceID of space was affected.
func (a *AffectedSpaces) Contains(space protocol.Space, subspaceID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.keys[SpaceKey{Space: space, SubspaceID: subspaceID}]
	return ok
}

// Len returns the number of distinct keys.
func (a *AffectedSpaces) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.keys)
}

// BySpace groups the affected subspace ids per space, each list sorted.
func (a *AffectedSpaces) BySpace() map[protocol.Space][]string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make(map[protocol.Space][]string)
	for k := range a.keys {
		out[k.Space] = append(out[k.Space], k.SubspaceID)
	}
	for space := range out {
		slices.Sort(out[space])
	}
	return out
}

// Spaces returns the affected spaces in sorted order.
func (a *AffectedSpaces) Spaces() []protocol.Space {
	bySpace := a.BySpace()
	spaces := make([]protocol.Space, 0, len(bySpace))
	for space := range bySpace {
		spaces = append(spaces, space)
	}
	slices.Sort(spaces)
	return spaces
}
