package engine

import (
	"context"

	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

// Call is one mutation as seen by its mutator.
type Call struct {
	Mutation  protocol.Mutation
	Principal *protocol.Principal
}

// Mutator applies one named mutation against the Record Store.
//
// Apply runs inside the mutation's transaction; returning an error rolls
// back every write it made. Domain failures are reported as
// *protocol.DomainError and are never retried.
type Mutator interface {
	// Public reports whether anonymous callers may run the mutator.
	Public() bool

	Apply(ctx context.Context, tx *store.Tx, call Call) error
}

// AffectsFunc derives the subspaces an applied mutation touched.
type AffectsFunc func(call Call) ([]SpaceKey, error)

// MutatorRegistry resolves mutation names. It is built once at startup.
type MutatorRegistry interface {
	Mutator(name string) (Mutator, bool)
	AffectedSpaces(name string) (AffectsFunc, bool)
}
