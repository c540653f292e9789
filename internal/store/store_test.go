package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// inTx runs fn in a committed serializable transaction and fails the test on error.
func inTx(t *testing.T, s *Store, fn func(*Tx) error) {
	t.Helper()
	require.NoError(t, s.InTx(context.Background(), MutationTx, fn))
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.Equal(t, DialectSQLite, s.Dialect())
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	tables := []string{"entities", "entity_tombstones", "client_groups", "clients", "space_records", "client_records"}
	for _, table := range tables {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}

	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, version)
}

func TestOpen_MigratesV2Snapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.db.Exec("UPDATE schema_version SET version = 2")
	require.NoError(t, err)
	_, err = s.db.Exec(`INSERT INTO space_records (record_key, client_group_id, space, subspace_ids, record)
		VALUES ('k1', 'g1', 'dashboard', 'store_1' || char(10) || 'store_2', '[]')`)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	version, err := s.SchemaVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	inTx(t, s, func(tx *Tx) error {
		_, err := tx.ReadSpaceRecord(context.Background(), "k1")
		assert.ErrorIs(t, err, ErrNotFound, "old-format snapshots are dropped")
		return nil
	})
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := setupTestStore(t)

	var journalMode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, s.db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout))
	assert.Equal(t, 5000, busyTimeout)
}

func TestParseDSN(t *testing.T) {
	tests := []struct {
		dsn       string
		dialect   Dialect
		driverDSN string
		wantErr   bool
	}{
		{dsn: "./spacesync.db", dialect: DialectSQLite, driverDSN: "./spacesync.db"},
		{dsn: "/var/lib/spacesync.db", dialect: DialectSQLite, driverDSN: "/var/lib/spacesync.db"},
		{dsn: "sqlite:///tmp/x.db", dialect: DialectSQLite, driverDSN: "/tmp/x.db"},
		{dsn: "sqlite3://data.db", dialect: DialectSQLite, driverDSN: "data.db"},
		{dsn: "file:test.db?cache=shared", dialect: DialectSQLite, driverDSN: "file:test.db?cache=shared"},
		{dsn: "postgres://u:p@db/sync?sslmode=disable", dialect: DialectPostgres, driverDSN: "postgres://u:p@db/sync?sslmode=disable"},
		{dsn: "postgresql://db/sync", dialect: DialectPostgres, driverDSN: "postgresql://db/sync"},
		{dsn: "", wantErr: true},
		{dsn: "mysql://db/sync", wantErr: true},
		{dsn: "sqlite://", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			dialect, driverDSN, err := parseDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.dialect, dialect)
			assert.Equal(t, tt.driverDSN, driverDSN)
		})
	}
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: DialectPostgres}
	lite := &Store{dialect: DialectSQLite}

	query := "SELECT id FROM entities WHERE kind IN (?, ?) AND partition_key = ?"
	assert.Equal(t, "SELECT id FROM entities WHERE kind IN ($1, $2) AND partition_key = $3", pg.rebind(query))
	assert.Equal(t, query, lite.rebind(query))
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "", placeholders(0))
	assert.Equal(t, "?", placeholders(1))
	assert.Equal(t, "?, ?, ?", placeholders(3))
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.InTx(ctx, MutationTx, func(tx *Tx) error {
		_, err := tx.WriteEntity(ctx, EntityWrite{ID: "store_1", PartitionKey: "store_1", Payload: []byte(`{}`)})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	inTx(t, s, func(tx *Tx) error {
		_, err := tx.ReadEntity(ctx, "store_1")
		assert.ErrorIs(t, err, ErrNotFound)
		return nil
	})
}
