package engine

import (
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"
)

// KeyGenerator produces snapshot keys. Keys must be globally unique; they
// need not sort.
// Implemented by ULIDGenerator (production) and FixedGenerator (tests).
type KeyGenerator interface {
	Generate() string
}

// ULIDGenerator generates time-sortable ULID snapshot keys.
//
// Thread-safety: ulid.Make uses a process-wide monotonic entropy source
// guarded by a mutex, so ULIDGenerator is safe for concurrent use.
type ULIDGenerator struct{}

// Generate returns a new 26-character ULID.
func (ULIDGenerator) Generate() string {
	return ulid.Make().String()
}

// FixedGenerator returns predetermined keys for testing.
//
// Thread-safety: FixedGenerator is safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu   sync.Mutex
	keys []string
	idx  int
}

// NewFixedGenerator creates a generator that returns keys in order.
//
//	gen := NewFixedGenerator("k1", "k2")
//	gen.Generate() // "k1"
//	gen.Generate() // "k2"
//	gen.Generate() // panic: all keys exhausted
func NewFixedGenerator(keys ...string) *FixedGenerator {
	return &FixedGenerator{keys: keys}
}

// Generate returns the next predetermined key.
//
// Panics if all keys have been consumed, so a test that generates more
// snapshots than it expects fails loudly.
func (g *FixedGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.idx >= len(g.keys) {
		panic(fmt.Sprintf("FixedGenerator: all %d keys exhausted", len(g.keys)))
	}
	key := g.keys[g.idx]
	g.idx++
	return key
}
