package protocol

import (
	"encoding/json"
	"fmt"
)

// RecordEntry is one id→version pair of a Record.
type RecordEntry struct {
	ID      string
	Version int64
}

// Record is an insertion-ordered id→version mapping.
//
// Order matters: the diff engine emits puts in the order of the new record,
// and the store builds records ORDER BY id, so the same database state
// always yields the same record.
type Record struct {
	entries []RecordEntry
	index   map[string]int
}

// NewRecord builds a record from entries. Later duplicates overwrite the
// version of the first occurrence without changing its position.
func NewRecord(entries ...RecordEntry) Record {
	var r Record
	for _, e := range entries {
		r.Set(e.ID, e.Version)
	}
	return r
}

// Set records version for id, appending id if it is new.
func (r *Record) Set(id string, version int64) {
	if r.index == nil {
		r.index = make(map[string]int)
	}
	if i, ok := r.index[id]; ok {
		r.entries[i].Version = version
		return
	}
	r.index[id] = len(r.entries)
	r.entries = append(r.entries, RecordEntry{ID: id, Version: version})
}

// Get returns the version for id.
func (r Record) Get(id string) (int64, bool) {
	i, ok := r.index[id]
	if !ok {
		return 0, false
	}
	return r.entries[i].Version, true
}

// Len returns the number of entries.
func (r Record) Len() int {
	return len(r.entries)
}

// Entries returns a copy of the entries in insertion order.
func (r Record) Entries() []RecordEntry {
	out := make([]RecordEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// MarshalJSON encodes the record as an array of [id, version] pairs so
// insertion order survives a round trip through storage.
func (r Record) MarshalJSON() ([]byte, error) {
	pairs := make([]any, 0, len(r.entries))
	for _, e := range r.entries {
		pairs = append(pairs, []any{e.ID, e.Version})
	}
	return MarshalCanonical(pairs)
}

// UnmarshalJSON decodes the [id, version] pair form.
func (r *Record) UnmarshalJSON(data []byte) error {
	var pairs [][2]json.RawMessage
	if err := json.Unmarshal(data, &pairs); err != nil {
		return fmt.Errorf("unmarshal record: %w", err)
	}
	*r = Record{}
	for i, pair := range pairs {
		var id string
		var version int64
		if err := json.Unmarshal(pair[0], &id); err != nil {
			return fmt.Errorf("record[%d] id: %w", i, err)
		}
		if err := json.Unmarshal(pair[1], &version); err != nil {
			return fmt.Errorf("record[%d] version: %w", i, err)
		}
		r.Set(id, version)
	}
	return nil
}
