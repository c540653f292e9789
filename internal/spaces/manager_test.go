package spaces

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
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

func seed(t *testing.T, s *store.Store, writes ...store.EntityWrite) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), store.MutationTx, func(tx *store.Tx) error {
		_, err := tx.WriteEntities(context.Background(), writes...)
		return err
	}))
}

func entity(id, partition string) store.EntityWrite {
	return store.EntityWrite{ID: id, PartitionKey: partition, Payload: json.RawMessage(`{}`)}
}

func withManager(t *testing.T, s *store.Store, space protocol.Space, group string, subspaces []string, fn func(*Manager)) {
	t.Helper()
	def, ok := DefaultRegistry().Lookup(space)
	require.True(t, ok)
	require.NoError(t, s.InTx(context.Background(), store.PullTx, func(tx *store.Tx) error {
		fn(NewManager(tx, def, group, subspaces))
		return nil
	}))
}

func TestGetNewSpaceRecord_ScopesBySubspace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seed(t, s,
		entity("store_42", "store_42"),
		entity("product_1", "store_42"),
		entity("product_2", "store_7"),
		entity("order_1", "store_42"),
		entity("cart_1", "cart_1"),
	)

	tests := []struct {
		name      string
		space     protocol.Space
		subspaces []string
		want      []string
	}{
		{"dashboard one store", protocol.SpaceDashboard, []string{"store_42"}, []string{"order_1", "product_1", "store_42"}},
		{"dashboard no store", protocol.SpaceDashboard, nil, []string{}},
		{"marketplace whole space", protocol.SpaceMarketplace, nil, []string{"product_1", "product_2", "store_42"}},
		{"marketplace two stores", protocol.SpaceMarketplace, []string{"store_7", "store_42", "store_7"}, []string{"product_1", "product_2", "store_42"}},
		{"global cart", protocol.SpaceGlobal, []string{"cart_1"}, []string{"cart_1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withManager(t, s, tt.space, "g1", tt.subspaces, func(m *Manager) {
				rec, err := m.GetNewSpaceRecord(ctx, "key-"+tt.name)
				require.NoError(t, err)

				ids := []string{}
				for _, e := range rec.Record.Entries() {
					ids = append(ids, e.ID)
				}
				assert.Equal(t, tt.want, ids)

				stored, found, err := m.GetOldSpaceRecord(ctx, "key-"+tt.name)
				require.NoError(t, err)
				require.True(t, found, "new record must be stored unconditionally")
				assert.Equal(t, rec.Record.Entries(), stored.Record.Entries())
			})
		})
	}
}

func TestGetOldSpaceRecord_NotFoundCases(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	withManager(t, s, protocol.SpaceDashboard, "g1", []string{"store_42"}, func(m *Manager) {
		_, err := m.GetNewSpaceRecord(ctx, "k1")
		require.NoError(t, err)
	})

	tests := []struct {
		name      string
		space     protocol.Space
		group     string
		subspaces []string
		key       string
		found     bool
	}{
		{"same scope", protocol.SpaceDashboard, "g1", []string{"store_42", "store_42"}, "k1", true},
		{"empty key", protocol.SpaceDashboard, "g1", []string{"store_42"}, "", false},
		{"unknown key", protocol.SpaceDashboard, "g1", []string{"store_42"}, "nope", false},
		{"other group", protocol.SpaceDashboard, "g2", []string{"store_42"}, "k1", false},
		{"other space", protocol.SpaceMarketplace, "g1", []string{"store_42"}, "k1", false},
		{"other subspaces", protocol.SpaceDashboard, "g1", []string{"store_7"}, "k1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withManager(t, s, tt.space, tt.group, tt.subspaces, func(m *Manager) {
				_, found, err := m.GetOldSpaceRecord(ctx, tt.key)
				require.NoError(t, err)
				assert.Equal(t, tt.found, found)
			})
		})
	}
}

func TestClientRecords(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, store.MutationTx, func(tx *store.Tx) error {
		require.NoError(t, tx.WriteClient(ctx, store.Client{ID: "c1", ClientGroupID: "g1", LastMutationID: 3}))
		return tx.WriteClient(ctx, store.Client{ID: "c9", ClientGroupID: "g9", LastMutationID: 1})
	}))

	withManager(t, s, protocol.SpaceGlobal, "g1", nil, func(m *Manager) {
		rec, err := m.GetNewClientRecord(ctx, "ck1")
		require.NoError(t, err)
		assert.Equal(t, map[string]int64{"c1": 3}, rec.Record)

		old, found, err := m.GetOldClientRecord(ctx, "ck1")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, rec.Record, old.Record)

		require.NoError(t, m.DeleteClientRecord(ctx, "ck1"))
		_, found, err = m.GetOldClientRecord(ctx, "ck1")
		require.NoError(t, err)
		assert.False(t, found)
	})

	withManager(t, s, protocol.SpaceGlobal, "g9", nil, func(m *Manager) {
		_, err := m.GetNewClientRecord(ctx, "ck9")
		require.NoError(t, err)
	})
	withManager(t, s, protocol.SpaceGlobal, "g1", nil, func(m *Manager) {
		_, found, err := m.GetOldClientRecord(ctx, "ck9")
		require.NoError(t, err)
		assert.False(t, found)
	})
}

func TestClientGroupObject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	withManager(t, s, protocol.SpaceGlobal, "g1", nil, func(m *Manager) {
		group, err := m.GetClientGroupObject(ctx)
		require.NoError(t, err)
		assert.Equal(t, store.ClientGroup{ID: "g1"}, group)

		group.SpaceRecordVersion = 3
		require.NoError(t, m.SetClientGroupObject(ctx, group))
	})

	withManager(t, s, protocol.SpaceGlobal, "g1", nil, func(m *Manager) {
		group, err := m.GetClientGroupObject(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), group.SpaceRecordVersion)
	})
}

func TestDeleteSpaceRecord(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	withManager(t, s, protocol.SpaceMarketplace, "g1", nil, func(m *Manager) {
		_, err := m.GetNewSpaceRecord(ctx, "k1")
		require.NoError(t, err)
		require.NoError(t, m.DeleteSpaceRecord(ctx, "k1"))
		_, found, err := m.GetOldSpaceRecord(ctx, "k1")
		require.NoError(t, err)
		assert.False(t, found)
	})
}
