package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/spacesync/internal/spaces"
	"github.com/roach88/spacesync/internal/store"
)

// ErrInvalidRequest marks requests that are malformed rather than failing.
var ErrInvalidRequest = errors.New("invalid request")

// Notifier delivers invalidation pokes for changed subspaces of a space.
type Notifier interface {
	Poke(ctx context.Context, space string, subspaceIDs []string) error
}

// StaticCache is the cache-aside store behind static pulls.
type StaticCache interface {
	Get(key string) ([]byte, bool, error)
	Put(key string, value []byte, ttl time.Duration) error
}

type nopNotifier struct{}

func (nopNotifier) Poke(context.Context, string, []string) error { return nil }

// Engine serves pulls and pushes against one Record Store.
//
// Thread-safety: an Engine holds no per-request state; Pull, Push and
// StaticPull are safe to call from concurrent request goroutines.
type Engine struct {
	store    *store.Store
	spaces   *spaces.Registry
	mutators MutatorRegistry
	keys     KeyGenerator
	notifier Notifier

	cache     StaticCache
	staticTTL time.Duration

	maxMutationAttempts int
	maxPokeAttempts     int
	retryBackoff        time.Duration
	pushConcurrency     int
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithSpaces replaces the default space registry.
func WithSpaces(r *spaces.Registry) EngineOption {
	return func(e *Engine) {
		e.spaces = r
	}
}

// WithKeyGenerator sets the snapshot key generator.
// Default: ULIDGenerator. Use NewFixedGenerator in tests.
func WithKeyGenerator(g KeyGenerator) EngineOption {
	return func(e *Engine) {
		e.keys = g
	}
}

// WithNotifier sets the poke notifier. Default: pokes are dropped.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) {
		e.notifier = n
	}
}

// WithStaticCache enables caching of static pulls for ttl (0 = no expiry).
func WithStaticCache(c StaticCache, ttl time.Duration) EngineOption {
	return func(e *Engine) {
		e.cache = c
		e.staticTTL = ttl
	}
}

// WithMaxMutationAttempts bounds the transaction attempts per mutation.
// Default: 3 (DefaultMaxMutationAttempts).
func WithMaxMutationAttempts(n int) EngineOption {
	return func(e *Engine) {
		e.maxMutationAttempts = n
	}
}

// WithMaxPokeAttempts bounds the delivery attempts per poked space.
// Default: 3 (DefaultMaxPokeAttempts).
func WithMaxPokeAttempts(n int) EngineOption {
	return func(e *Engine) {
		e.maxPokeAttempts = n
	}
}

// WithRetryBackoff sets the base delay between attempts. Default: 50ms.
func WithRetryBackoff(d time.Duration) EngineOption {
	return func(e *Engine) {
		e.retryBackoff = d
	}
}

// WithPushConcurrency bounds how many clients of one push batch are applied
// concurrently. Mutations of one client are always sequential. Default: 1.
func WithPushConcurrency(n int) EngineOption {
	return func(e *Engine) {
		e.pushConcurrency = n
	}
}

// New creates an Engine over s dispatching mutations through mutators.
func New(s *store.Store, mutators MutatorRegistry, opts ...EngineOption) *Engine {
	e := &Engine{
		store:               s,
		spaces:              spaces.DefaultRegistry(),
		mutators:            mutators,
		keys:                ULIDGenerator{},
		notifier:            nopNotifier{},
		maxMutationAttempts: DefaultMaxMutationAttempts,
		maxPokeAttempts:     DefaultMaxPokeAttempts,
		retryBackoff:        50 * time.Millisecond,
		pushConcurrency:     1,
	}

	for _, opt := range opts {
		opt(e)
	}
	if e.pushConcurrency < 1 {
		e.pushConcurrency = 1
	}

	return e
}

func invalidRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
