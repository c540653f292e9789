package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/spacesync/internal/protocol"
)

// ClientGroup is the per-group sync bookkeeping row.
type ClientGroup struct {
	ID                 string
	SpaceRecordVersion int64
}

// Client is one logical client connection.
type Client struct {
	ID             string
	ClientGroupID  string
	LastMutationID int64
}

// SpaceRecord is an immutable id→version snapshot of one space, scoped to a
// sorted subspace set, as observed by one client group.
type SpaceRecord struct {
	Key           string
	ClientGroupID string
	Space         protocol.Space
	SubspaceIDs   []string
	Record        protocol.Record
}

// ClientRecord is an immutable clientID→lastMutationID snapshot of one group.
type ClientRecord struct {
	Key           string
	ClientGroupID string
	Record        map[string]int64
}

// ReadClientGroup returns the group row, or ErrNotFound.
func (t *Tx) ReadClientGroup(ctx context.Context, id string) (ClientGroup, error) {
	group := ClientGroup{ID: id}
	err := t.queryRow(ctx, []any{&group.SpaceRecordVersion},
		"SELECT space_record_version FROM client_groups WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return ClientGroup{}, fmt.Errorf("client group %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return ClientGroup{}, fmt.Errorf("read client group: %w", err)
	}
	return group, nil
}

// WriteClientGroup upserts the group row.
func (t *Tx) WriteClientGroup(ctx context.Context, group ClientGroup) error {
	_, err := t.exec(ctx, `
		INSERT INTO client_groups (id, space_record_version)
		VALUES (?, ?)
		ON CONFLICT (id) DO UPDATE SET space_record_version = excluded.space_record_version
	`, group.ID, group.SpaceRecordVersion)
	if err != nil {
		return fmt.Errorf("write client group: %w", err)
	}
	return nil
}

// ReadClient returns the client row, or ErrNotFound.
func (t *Tx) ReadClient(ctx context.Context, id string) (Client, error) {
	client := Client{ID: id}
	err := t.queryRow(ctx, []any{&client.ClientGroupID, &client.LastMutationID},
		"SELECT client_group_id, last_mutation_id FROM clients WHERE id = ?", id)
	if errors.Is(err, sql.ErrNoRows) {
		return Client{}, fmt.Errorf("client %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Client{}, fmt.Errorf("read client: %w", err)
	}
	return client, nil
}

// WriteClient upserts the client row.
func (t *Tx) WriteClient(ctx context.Context, client Client) error {
	_, err := t.exec(ctx, `
		INSERT INTO clients (id, client_group_id, last_mutation_id)
		VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			client_group_id = excluded.client_group_id,
			last_mutation_id = excluded.last_mutation_id
	`, client.ID, client.ClientGroupID, client.LastMutationID)
	if err != nil {
		return fmt.Errorf("write client: %w", err)
	}
	return nil
}

// ReadClientsInGroup returns clientID→lastMutationID for every client of a group.
func (t *Tx) ReadClientsInGroup(ctx context.Context, clientGroupID string) (map[string]int64, error) {
	clients := map[string]int64{}
	err := t.query(ctx, func(rows *sql.Rows) error {
		var id string
		var last int64
		if err := rows.Scan(&id, &last); err != nil {
			return fmt.Errorf("scan client: %w", err)
		}
		clients[id] = last
		return nil
	}, "SELECT id, last_mutation_id FROM clients WHERE client_group_id = ?", clientGroupID)
	if err != nil {
		return nil, fmt.Errorf("read clients in group: %w", err)
	}
	return clients, nil
}

// ReadSpaceRecord returns a snapshot by key, or ErrNotFound.
func (t *Tx) ReadSpaceRecord(ctx context.Context, key string) (SpaceRecord, error) {
	rec := SpaceRecord{Key: key}
	var space, subspaces, data string
	err := t.queryRow(ctx, []any{&rec.ClientGroupID, &space, &subspaces, &data}, `
		SELECT client_group_id, space, subspace_ids, record
		FROM space_records
		WHERE record_key = ?
	`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return SpaceRecord{}, fmt.Errorf("space record %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return SpaceRecord{}, fmt.Errorf("read space record: %w", err)
	}
	rec.Space = protocol.Space(space)
	if err := json.Unmarshal([]byte(subspaces), &rec.SubspaceIDs); err != nil {
		return SpaceRecord{}, fmt.Errorf("read space record %s: subspaces: %w", key, err)
	}
	if rec.SubspaceIDs == nil {
		rec.SubspaceIDs = []string{}
	}
	if err := json.Unmarshal([]byte(data), &rec.Record); err != nil {
		return SpaceRecord{}, fmt.Errorf("read space record %s: %w", key, err)
	}
	return rec, nil
}

// WriteSpaceRecord stores a snapshot. Keys are never reused.
func (t *Tx) WriteSpaceRecord(ctx context.Context, rec SpaceRecord) error {
	data, err := json.Marshal(rec.Record)
	if err != nil {
		return fmt.Errorf("write space record: %w", err)
	}
	subspaces, err := encodeSubspaces(rec.SubspaceIDs)
	if err != nil {
		return fmt.Errorf("write space record: %w", err)
	}
	_, err = t.exec(ctx, `
		INSERT INTO space_records (record_key, client_group_id, space, subspace_ids, record)
		VALUES (?, ?, ?, ?, ?)
	`, rec.Key, rec.ClientGroupID, string(rec.Space), subspaces, string(data))
	if err != nil {
		return fmt.Errorf("write space record: %w", err)
	}
	return nil
}

// DeleteSpaceRecord removes a snapshot. Deleting a missing key is not an error.
func (t *Tx) DeleteSpaceRecord(ctx context.Context, key string) error {
	if _, err := t.exec(ctx, "DELETE FROM space_records WHERE record_key = ?", key); err != nil {
		return fmt.Errorf("delete space record: %w", err)
	}
	return nil
}

// ReadClientRecord returns a snapshot by key, or ErrNotFound.
func (t *Tx) ReadClientRecord(ctx context.Context, key string) (ClientRecord, error) {
	rec := ClientRecord{Key: key}
	var data string
	err := t.queryRow(ctx, []any{&rec.ClientGroupID, &data},
		"SELECT client_group_id, record FROM client_records WHERE record_key = ?", key)
	if errors.Is(err, sql.ErrNoRows) {
		return ClientRecord{}, fmt.Errorf("client record %s: %w", key, ErrNotFound)
	}
	if err != nil {
		return ClientRecord{}, fmt.Errorf("read client record: %w", err)
	}
	if err := json.Unmarshal([]byte(data), &rec.Record); err != nil {
		return ClientRecord{}, fmt.Errorf("read client record %s: %w", key, err)
	}
	return rec, nil
}

// WriteClientRecord stores a snapshot. Keys are never reused.
func (t *Tx) WriteClientRecord(ctx context.Context, rec ClientRecord) error {
	record := rec.Record
	if record == nil {
		record = map[string]int64{}
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("write client record: %w", err)
	}
	_, err = t.exec(ctx, `
		INSERT INTO client_records (record_key, client_group_id, record)
		VALUES (?, ?, ?)
	`, rec.Key, rec.ClientGroupID, string(data))
	if err != nil {
		return fmt.Errorf("write client record: %w", err)
	}
	return nil
}

// DeleteClientRecord removes a snapshot. Deleting a missing key is not an error.
func (t *Tx) DeleteClientRecord(ctx context.Context, key string) error {
	if _, err := t.exec(ctx, "DELETE FROM client_records WHERE record_key = ?", key); err != nil {
		return fmt.Errorf("delete client record: %w", err)
	}
	return nil
}

// encodeSubspaces stores a subspace set as a JSON array. Ids round-trip byte
// for byte, separators and non-normalized text included.
func encodeSubspaces(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("encode subspaces: %w", err)
	}
	return string(b), nil
}
