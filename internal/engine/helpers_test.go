package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/spacesync/internal/protocol"
	"github.com/roach88/spacesync/internal/store"
)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var seller = &protocol.Principal{UserID: "user_1"}

// stubMutator is a test-only mutator backed by a function.
type stubMutator struct {
	public bool
	apply  func(ctx context.Context, tx *store.Tx, call Call) error
}

func (m stubMutator) Public() bool { return m.public }

func (m stubMutator) Apply(ctx context.Context, tx *store.Tx, call Call) error {
	return m.apply(ctx, tx, call)
}

type stubRegistry struct {
	mutators map[string]Mutator
	affects  map[string]AffectsFunc
}

func (r *stubRegistry) Mutator(name string) (Mutator, bool) {
	m, ok := r.mutators[name]
	return m, ok
}

func (r *stubRegistry) AffectedSpaces(name string) (AffectsFunc, bool) {
	f, ok := r.affects[name]
	return f, ok
}

type productArgs struct {
	ID      string `json:"id"`
	StoreID string `json:"storeID"`
	Name    string `json:"name"`
}

func writeProduct(ctx context.Context, tx *store.Tx, call Call) error {
	var args productArgs
	if err := json.Unmarshal(call.Mutation.Args, &args); err != nil {
		return err
	}
	_, err := tx.WriteEntity(ctx, store.EntityWrite{ID: args.ID, PartitionKey: args.StoreID, Payload: call.Mutation.Args})
	return err
}

func productAffects(call Call) ([]SpaceKey, error) {
	var args productArgs
	if err := json.Unmarshal(call.Mutation.Args, &args); err != nil {
		return nil, err
	}
	return []SpaceKey{
		{Space: protocol.SpaceDashboard, SubspaceID: args.StoreID},
		{Space: protocol.SpaceMarketplace, SubspaceID: args.StoreID},
	}, nil
}

func deleteProduct(ctx context.Context, tx *store.Tx, call Call) error {
	var args productArgs
	if err := json.Unmarshal(call.Mutation.Args, &args); err != nil {
		return err
	}
	_, err := tx.DeleteEntities(ctx, args.ID)
	return err
}

// newStubRegistry registers:
//
//	createProduct, deleteProduct  private, affect dashboard+marketplace
//	createCart                    public, affects global
//	reject                        always returns a domain error
//	orphan                        has no affected-space declaration
func newStubRegistry() *stubRegistry {
	return &stubRegistry{
		mutators: map[string]Mutator{
			"createProduct": stubMutator{apply: writeProduct},
			"deleteProduct": stubMutator{apply: deleteProduct},
			"createCart": stubMutator{public: true, apply: func(ctx context.Context, tx *store.Tx, call Call) error {
				var args struct {
					ID string `json:"id"`
				}
				if err := json.Unmarshal(call.Mutation.Args, &args); err != nil {
					return err
				}
				_, err := tx.WriteEntity(ctx, store.EntityWrite{ID: args.ID, PartitionKey: args.ID, Payload: json.RawMessage(`{"items":[]}`)})
				return err
			}},
			"reject": stubMutator{apply: func(context.Context, *store.Tx, Call) error {
				return protocol.NewDomainError("cart_empty", "cart is empty")
			}},
			"orphan": stubMutator{apply: writeProduct},
		},
		affects: map[string]AffectsFunc{
			"createProduct": productAffects,
			"deleteProduct": productAffects,
			"createCart": func(call Call) ([]SpaceKey, error) {
				var args struct {
					ID string `json:"id"`
				}
				err := json.Unmarshal(call.Mutation.Args, &args)
				return []SpaceKey{{Space: protocol.SpaceGlobal, SubspaceID: args.ID}}, err
			},
			"reject": productAffects,
		},
	}
}

type pokeCall struct {
	Space       string
	SubspaceIDs []string
}

// recordingNotifier records pokes and fails the first failures[space] calls
// for a space.
type recordingNotifier struct {
	mu       sync.Mutex
	calls    []pokeCall
	failures map[string]int
}

func (n *recordingNotifier) Poke(_ context.Context, space string, subspaceIDs []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, pokeCall{Space: space, SubspaceIDs: subspaceIDs})
	if n.failures[space] > 0 {
		n.failures[space]--
		return errors.New("poke endpoint unavailable")
	}
	return nil
}

func (n *recordingNotifier) Calls() []pokeCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]pokeCall(nil), n.calls...)
}

func newTestEngine(t *testing.T, opts ...EngineOption) (*Engine, *store.Store) {
	t.Helper()
	s := setupTestStore(t)
	opts = append([]EngineOption{WithRetryBackoff(0)}, opts...)
	return New(s, newStubRegistry(), opts...), s
}

func mutation(clientID string, id int64, name, args string) protocol.Mutation {
	return protocol.Mutation{ClientID: clientID, ID: id, Name: name, Args: json.RawMessage(args)}
}

func push(t *testing.T, e *Engine, principal *protocol.Principal, mutations ...protocol.Mutation) (*AffectedSpaces, error) {
	t.Helper()
	return e.Push(context.Background(), protocol.PushRequest{ClientGroupID: "g1", Mutations: mutations}, principal)
}

func lastMutationID(t *testing.T, s *store.Store, clientID string) int64 {
	t.Helper()
	var last int64
	require.NoError(t, s.InTx(context.Background(), store.PullTx, func(tx *store.Tx) error {
		c, err := tx.ReadClient(context.Background(), clientID)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		last = c.LastMutationID
		return err
	}))
	return last
}

func entityVersion(t *testing.T, s *store.Store, id string) int64 {
	t.Helper()
	var version int64
	require.NoError(t, s.InTx(context.Background(), store.PullTx, func(tx *store.Tx) error {
		e, err := tx.ReadEntity(context.Background(), id)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		version = e.Version
		return err
	}))
	return version
}
