package spaces

import (
	"context"
	"errors"
	"fmt"
	"slices"

	log "github.com/sirupsen/logrus"

	"github.com/roach88/spacesync/internal/store"
)

// Manager reads and writes the sync state of one client group pulling one
// space scope. A Manager is bound to a single pull transaction.
type Manager struct {
	tx            *store.Tx
	def           Definition
	clientGroupID string
	subspaceIDs   []string
}

// NewManager binds a Manager to tx. subspaceIDs are normalized.
func NewManager(tx *store.Tx, def Definition, clientGroupID string, subspaceIDs []string) *Manager {
	return &Manager{
		tx:            tx,
		def:           def,
		clientGroupID: clientGroupID,
		subspaceIDs:   NormalizeSubspaces(subspaceIDs),
	}
}

// SubspaceIDs returns the normalized subspace scope.
func (m *Manager) SubspaceIDs() []string {
	return slices.Clone(m.subspaceIDs)
}

// GetOldSpaceRecord loads the snapshot a cookie refers to. found is false when
// the key is empty, unknown, or belongs to another client group, space or
// subspace scope; the caller then performs a full resync.
func (m *Manager) GetOldSpaceRecord(ctx context.Context, key string) (rec store.SpaceRecord, found bool, err error) {
	if key == "" {
		return store.SpaceRecord{}, false, nil
	}
	rec, err = m.tx.ReadSpaceRecord(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.SpaceRecord{}, false, nil
	}
	if err != nil {
		return store.SpaceRecord{}, false, err
	}
	if rec.ClientGroupID != m.clientGroupID || rec.Space != m.def.Name || !slices.Equal(rec.SubspaceIDs, m.subspaceIDs) {
		log.WithFields(log.Fields{
			"key":            key,
			"clientGroupID":  m.clientGroupID,
			"space":          m.def.Name,
			"subspaces":      m.subspaceIDs,
			"cookieGroupID":  rec.ClientGroupID,
			"cookieSpace":    rec.Space,
			"cookieSubspace": rec.SubspaceIDs,
		}).Warn("ignoring cookie from another sync scope")
		return store.SpaceRecord{}, false, nil
	}
	return rec, true, nil
}

// GetNewSpaceRecord computes the current snapshot of the scope from the
// entity table and stores it under newKey.
func (m *Manager) GetNewSpaceRecord(ctx context.Context, newKey string) (store.SpaceRecord, error) {
	record, err := m.tx.ReadVersions(ctx, m.def.Kinds, m.def.PartitionKeys(m.subspaceIDs))
	if err != nil {
		return store.SpaceRecord{}, fmt.Errorf("compute space record: %w", err)
	}
	rec := store.SpaceRecord{
		Key:           newKey,
		ClientGroupID: m.clientGroupID,
		Space:         m.def.Name,
		SubspaceIDs:   m.SubspaceIDs(),
		Record:        record,
	}
	if err := m.SetSpaceRecord(ctx, rec); err != nil {
		return store.SpaceRecord{}, err
	}
	return rec, nil
}

// GetOldClientRecord loads the client record a cookie refers to. found is
// false when the key is empty, unknown or owned by another client group.
func (m *Manager) GetOldClientRecord(ctx context.Context, key string) (rec store.ClientRecord, found bool, err error) {
	if key == "" {
		return store.ClientRecord{}, false, nil
	}
	rec, err = m.tx.ReadClientRecord(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.ClientRecord{}, false, nil
	}
	if err != nil {
		return store.ClientRecord{}, false, err
	}
	if rec.ClientGroupID != m.clientGroupID {
		log.WithFields(log.Fields{
			"key":           key,
			"clientGroupID": m.clientGroupID,
			"cookieGroupID": rec.ClientGroupID,
		}).Warn("ignoring client record from another client group")
		return store.ClientRecord{}, false, nil
	}
	return rec, true, nil
}

// GetNewClientRecord snapshots clientID→lastMutationID for the client group
// and stores it under newKey.
func (m *Manager) GetNewClientRecord(ctx context.Context, newKey string) (store.ClientRecord, error) {
	clients, err := m.tx.ReadClientsInGroup(ctx, m.clientGroupID)
	if err != nil {
		return store.ClientRecord{}, fmt.Errorf("compute client record: %w", err)
	}
	rec := store.ClientRecord{Key: newKey, ClientGroupID: m.clientGroupID, Record: clients}
	if err := m.SetClientRecord(ctx, rec); err != nil {
		return store.ClientRecord{}, err
	}
	return rec, nil
}

// GetClientGroupObject returns the client group, or a fresh one at version 0.
func (m *Manager) GetClientGroupObject(ctx context.Context) (store.ClientGroup, error) {
	group, err := m.tx.ReadClientGroup(ctx, m.clientGroupID)
	if errors.Is(err, store.ErrNotFound) {
		return store.ClientGroup{ID: m.clientGroupID}, nil
	}
	return group, err
}

// SetClientGroupObject persists the client group.
func (m *Manager) SetClientGroupObject(ctx context.Context, group store.ClientGroup) error {
	return m.tx.WriteClientGroup(ctx, group)
}

// SetSpaceRecord persists a snapshot.
func (m *Manager) SetSpaceRecord(ctx context.Context, rec store.SpaceRecord) error {
	return m.tx.WriteSpaceRecord(ctx, rec)
}

// SetClientRecord persists a client record snapshot.
func (m *Manager) SetClientRecord(ctx context.Context, rec store.ClientRecord) error {
	return m.tx.WriteClientRecord(ctx, rec)
}

// DeleteSpaceRecord removes a snapshot.
func (m *Manager) DeleteSpaceRecord(ctx context.Context, key string) error {
	return m.tx.DeleteSpaceRecord(ctx, key)
}

// DeleteClientRecord removes a client record snapshot.
func (m *Manager) DeleteClientRecord(ctx context.Context, key string) error {
	return m.tx.DeleteClientRecord(ctx, key)
}
