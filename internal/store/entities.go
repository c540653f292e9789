package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/spacesync/internal/protocol"
)

// Entity is one domain row.
type Entity struct {
	ID           string          `json:"id"`
	Kind         string          `json:"kind"`
	PartitionKey string          `json:"partitionKey"`
	Version      int64           `json:"version"`
	Payload      json.RawMessage `json:"payload"`
}

// EntityWrite is an upsert of one row. When ExpectedVersion is set the write
// only succeeds if the stored version matches; 0 means "must not exist".
type EntityWrite struct {
	ID              string
	PartitionKey    string
	Payload         json.RawMessage
	ExpectedVersion *int64
}

// WriteEntities upserts rows and returns their new versions in input order.
// Inserts start at version 1; updates bump the stored version by one. An id
// that was deleted continues from the version it was deleted at, so a client
// holding the old row always sees the re-created one as changed.
// Payloads are stored as canonical JSON.
func (t *Tx) WriteEntities(ctx context.Context, writes ...EntityWrite) ([]int64, error) {
	versions := make([]int64, 0, len(writes))
	for _, w := range writes {
		v, err := t.WriteEntity(ctx, w)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// WriteEntity upserts one row and returns its new version.
func (t *Tx) WriteEntity(ctx context.Context, w EntityWrite) (int64, error) {
	kind := protocol.EntityKind(w.ID)
	if kind == "" {
		return 0, fmt.Errorf("write entity %q: %w: id must be prefixed by its kind", w.ID, ErrInvalidInput)
	}
	payload, err := protocol.CanonicalizeJSON(w.Payload)
	if err != nil {
		return 0, fmt.Errorf("write entity %s: payload: %w", w.ID, err)
	}

	current, err := t.currentVersion(ctx, w.ID)
	if err != nil {
		return 0, fmt.Errorf("write entity %s: %w", w.ID, err)
	}
	if w.ExpectedVersion != nil && *w.ExpectedVersion != current {
		return 0, &ConflictError{ID: w.ID, ExpectedVersion: *w.ExpectedVersion, CurrentVersion: current}
	}

	if current == 0 {
		version, err := t.recreatedVersion(ctx, w.ID)
		if err != nil {
			return 0, fmt.Errorf("write entity %s: %w", w.ID, err)
		}
		_, err = t.exec(ctx, `
			INSERT INTO entities (id, kind, partition_key, version, payload)
			VALUES (?, ?, ?, ?, ?)
		`, w.ID, kind, w.PartitionKey, version, string(payload))
		if err != nil {
			return 0, fmt.Errorf("insert entity %s: %w", w.ID, err)
		}
		return version, nil
	}

	_, err = t.exec(ctx, `
		UPDATE entities
		SET version = version + 1, partition_key = ?, payload = ?
		WHERE id = ?
	`, w.PartitionKey, string(payload), w.ID)
	if err != nil {
		return 0, fmt.Errorf("update entity %s: %w", w.ID, err)
	}
	return current + 1, nil
}

// currentVersion returns the stored version of id, 0 when the row is absent.
func (t *Tx) currentVersion(ctx context.Context, id string) (int64, error) {
	var version int64
	err := t.queryRow(ctx, []any{&version}, "SELECT version FROM entities WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read version: %w", err)
	}
	return version, nil
}

// recreatedVersion returns the version for a fresh insert of id: one past its
// tombstone, or 1 when it was never deleted. The tombstone is consumed.
func (t *Tx) recreatedVersion(ctx context.Context, id string) (int64, error) {
	var deletedAt int64
	err := t.queryRow(ctx, []any{&deletedAt}, "SELECT version FROM entity_tombstones WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return 1, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read tombstone: %w", err)
	}
	if _, err := t.exec(ctx, "DELETE FROM entity_tombstones WHERE id = ?", id); err != nil {
		return 0, fmt.Errorf("clear tombstone: %w", err)
	}
	return deletedAt + 1, nil
}

// DeleteEntities removes rows and returns how many existed. Each removed row
// leaves a tombstone carrying its last version.
func (t *Tx) DeleteEntities(ctx context.Context, ids ...string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	_, err := t.exec(ctx, `
		INSERT INTO entity_tombstones (id, version)
		SELECT id, version FROM entities WHERE id IN (`+placeholders(len(ids))+`)
		ON CONFLICT (id) DO UPDATE SET version = excluded.version
	`, stringArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete entities: tombstones: %w", err)
	}
	res, err := t.exec(ctx,
		"DELETE FROM entities WHERE id IN ("+placeholders(len(ids))+")",
		stringArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete entities: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete entities: rows affected: %w", err)
	}
	return n, nil
}

// ReadEntity returns one row or ErrNotFound.
func (t *Tx) ReadEntity(ctx context.Context, id string) (Entity, error) {
	rows, err := t.ReadEntities(ctx, id)
	if err != nil {
		return Entity{}, err
	}
	if len(rows) == 0 {
		return Entity{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return rows[0], nil
}

// maxIDsPerQuery keeps IN lists well under SQLite's bound-variable limit.
const maxIDsPerQuery = 500

// ReadEntities returns the rows that exist among ids, ordered by id.
func (t *Tx) ReadEntities(ctx context.Context, ids ...string) ([]Entity, error) {
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	entities := []Entity{}
	for chunk := range slices.Chunk(sorted, maxIDsPerQuery) {
		rows, err := t.readEntities(ctx,
			"WHERE id IN ("+placeholders(len(chunk))+")",
			stringArgs(chunk)...)
		if err != nil {
			return nil, err
		}
		entities = append(entities, rows...)
	}
	return entities, nil
}

// ReadByPartition returns every row in a partition, ordered by id.
func (t *Tx) ReadByPartition(ctx context.Context, partitionKey string) ([]Entity, error) {
	return t.readEntities(ctx, "WHERE partition_key = ?", partitionKey)
}

func (t *Tx) readEntities(ctx context.Context, where string, args ...any) ([]Entity, error) {
	entities := []Entity{}
	err := t.query(ctx, func(rows *sql.Rows) error {
		var e Entity
		var payload string
		if err := rows.Scan(&e.ID, &e.Kind, &e.PartitionKey, &e.Version, &payload); err != nil {
			return fmt.Errorf("scan entity: %w", err)
		}
		e.Payload = json.RawMessage(payload)
		entities = append(entities, e)
		return nil
	}, `
		SELECT id, kind, partition_key, version, payload
		FROM entities
		`+where+`
		ORDER BY `+t.store.idOrder()+`
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("read entities: %w", err)
	}
	return entities, nil
}

// ReadVersions builds the id→version record of every row whose kind is in
// kinds. A nil partitionKeys slice selects all partitions; an empty non-nil
// slice selects none. Entries are ordered by id.
func (t *Tx) ReadVersions(ctx context.Context, kinds []string, partitionKeys []string) (protocol.Record, error) {
	var record protocol.Record
	if len(kinds) == 0 || (partitionKeys != nil && len(partitionKeys) == 0) {
		return record, nil
	}

	var where strings.Builder
	args := stringArgs(kinds)
	where.WriteString("WHERE kind IN (" + placeholders(len(kinds)) + ")")
	if partitionKeys != nil {
		where.WriteString(" AND partition_key IN (" + placeholders(len(partitionKeys)) + ")")
		args = append(args, stringArgs(partitionKeys)...)
	}

	err := t.query(ctx, func(rows *sql.Rows) error {
		var id string
		var version int64
		if err := rows.Scan(&id, &version); err != nil {
			return fmt.Errorf("scan version: %w", err)
		}
		record.Set(id, version)
		return nil
	}, "SELECT id, version FROM entities "+where.String()+" ORDER BY "+t.store.idOrder(), args...)
	if err != nil {
		return protocol.Record{}, fmt.Errorf("read versions: %w", err)
	}
	return record, nil
}

// ReadPayloads returns the payload of each existing id.
func (t *Tx) ReadPayloads(ctx context.Context, ids ...string) (map[string]json.RawMessage, error) {
	entities, err := t.ReadEntities(ctx, ids...)
	if err != nil {
		return nil, err
	}
	payloads := make(map[string]json.RawMessage, len(entities))
	for _, e := range entities {
		payloads[e.ID] = e.Payload
	}
	return payloads, nil
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
