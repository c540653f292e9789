package spaces

import (
	"fmt"
	"slices"

	"github.com/roach88/spacesync/internal/protocol"
)

// Definition describes one space.
type Definition struct {
	// Name is the space identifier used in URLs and cookies.
	Name protocol.Space

	// Kinds are the entity kinds visible in the space.
	Kinds []string

	// Partitioned restricts records to the requested subspaces, matched
	// against entity partition keys.
	Partitioned bool

	// WholeSpaceWhenUnscoped selects every partition when a partitioned
	// space is pulled with no subspaces. Otherwise such a pull sees nothing.
	WholeSpaceWhenUnscoped bool

	// RequiresAuth rejects anonymous pulls with an empty patch.
	RequiresAuth bool
}

// PartitionKeys returns the partition filter for a normalized subspace list:
// nil selects every partition, an empty slice selects none.
func (d Definition) PartitionKeys(subspaceIDs []string) []string {
	if !d.Partitioned {
		return nil
	}
	if len(subspaceIDs) == 0 {
		if d.WholeSpaceWhenUnscoped {
			return nil
		}
		return []string{}
	}
	return subspaceIDs
}

// Registry holds the space definitions known at startup.
type Registry struct {
	defs map[protocol.Space]Definition
}

// NewRegistry builds a registry, rejecting duplicate or empty definitions.
func NewRegistry(defs ...Definition) (*Registry, error) {
	r := &Registry{defs: make(map[protocol.Space]Definition, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("space definition has no name")
		}
		if len(d.Kinds) == 0 {
			return nil, fmt.Errorf("space %s declares no entity kinds", d.Name)
		}
		if _, dup := r.defs[d.Name]; dup {
			return nil, fmt.Errorf("space %s defined twice", d.Name)
		}
		d.Kinds = slices.Clone(d.Kinds)
		slices.Sort(d.Kinds)
		r.defs[d.Name] = d
	}
	return r, nil
}

// DefaultRegistry returns the marketplace spaces.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(
		Definition{
			Name:        protocol.SpaceGlobal,
			Kinds:       []string{"cart", "user"},
			Partitioned: true,
		},
		Definition{
			Name:         protocol.SpaceDashboard,
			Kinds:        []string{"store", "product", "order"},
			Partitioned:  true,
			RequiresAuth: true,
		},
		Definition{
			Name:                   protocol.SpaceMarketplace,
			Kinds:                  []string{"store", "product"},
			Partitioned:            true,
			WholeSpaceWhenUnscoped: true,
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// Lookup returns the definition of space.
func (r *Registry) Lookup(space protocol.Space) (Definition, bool) {
	d, ok := r.defs[space]
	return d, ok
}

// Names returns every registered space in sorted order.
func (r *Registry) Names() []protocol.Space {
	names := make([]protocol.Space, 0, len(r.defs))
	for name := range r.defs {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// NormalizeSubspaces drops empty ids, de-duplicates and sorts, so the same
// set of subspaces always maps to the same snapshot scope.
func NormalizeSubspaces(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
