// Package store is the Record Store: durable relational storage for entity
// rows and the protocol-internal sync state.
//
// Tables:
//   - entities: domain rows tagged with a per-row version and partition key
//   - clients: per-client lastMutationID
//   - client_groups: per-group spaceRecordVersion
//   - space_records: immutable id→version snapshots referenced by cookies
//   - client_records: immutable clientID→lastMutationID snapshots
//
// # Versioning
//
// The entities.version column is the source of truth for "current state".
// A write inserts version 1 or bumps the existing version by one, always
// inside the caller's transaction, so a version never resets while the row
// exists.
//
// # Dialects
//
// Open selects the driver from the DSN: SQLite (mattn/go-sqlite3) for plain
// paths and sqlite:// or file: DSNs, PostgreSQL (lib/pq) for postgres://.
// Queries are written with ? placeholders and rebound for PostgreSQL.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// All multi-statement work goes through InTx. Queries inside a Tx are
// serialized, so a Tx may be shared by goroutines of one request.
package store
