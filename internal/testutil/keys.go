package testutil

import (
	"fmt"
	"sync"
)

// SequentialKeys generates snapshot keys "<prefix>1", "<prefix>2", ...
//
// Unlike engine.FixedGenerator it never runs out, so tests with an unknown
// number of pulls still produce deterministic cookies.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequentialKeys struct {
	mu     sync.Mutex
	prefix string
	seq    int64
}

// NewSequentialKeys creates a generator whose first key is prefix+"1".
// An empty prefix defaults to "k".
func NewSequentialKeys(prefix string) *SequentialKeys {
	if prefix == "" {
		prefix = "k"
	}
	return &SequentialKeys{prefix: prefix}
}

// Generate returns the next key. Implements engine.KeyGenerator.
func (g *SequentialKeys) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	return fmt.Sprintf("%s%d", g.prefix, g.seq)
}

// Issued returns how many keys have been generated.
func (g *SequentialKeys) Issued() int64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.seq
}

// Reset restarts the sequence. After Reset, Generate returns prefix+"1".
func (g *SequentialKeys) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq = 0
}
