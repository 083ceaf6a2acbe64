package database

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T, profile DatabaseProfile) *DB {
	t.Helper()

	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "test.db"),
		Profile: profile,
		Name:    "test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewAndHealthCheck(t *testing.T) {
	db := newTestDB(t, ProfileLedger)

	assert.Equal(t, "test", db.Name())
	assert.Equal(t, ProfileLedger, db.Profile())
	assert.True(t, filepath.IsAbs(db.Path()))

	ctx := context.Background()
	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.HealthCheck(ctx))
}

func TestBuildConnectionString(t *testing.T) {
	ledger := buildConnectionString("/tmp/x.db", ProfileLedger)
	assert.Contains(t, ledger, "journal_mode(WAL)")
	assert.Contains(t, ledger, "synchronous(FULL)")
	assert.Contains(t, ledger, "auto_vacuum(NONE)")

	standard := buildConnectionString("/tmp/x.db", ProfileStandard)
	assert.Contains(t, standard, "synchronous(NORMAL)")
	assert.Contains(t, standard, "temp_store(MEMORY)")
}

func TestExecQueryRoundTrip(t *testing.T) {
	db := newTestDB(t, ProfileStandard)

	_, err := db.Exec("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)")
	require.NoError(t, err)

	_, err = db.Exec("INSERT INTO notes (body) VALUES (?)", "hello")
	require.NoError(t, err)

	var body string
	require.NoError(t, db.QueryRow("SELECT body FROM notes WHERE id = 1").Scan(&body))
	assert.Equal(t, "hello", body)
}

func TestWithTransactionRollsBackOnError(t *testing.T) {
	db := newTestDB(t, ProfileStandard)

	_, err := db.Exec("CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)")
	require.NoError(t, err)

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO notes (body) VALUES (?)", "doomed"); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.Error(t, err)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransactionRecoversPanic(t *testing.T) {
	db := newTestDB(t, ProfileStandard)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestGetStats(t *testing.T) {
	db := newTestDB(t, ProfileLedger)

	_, err := db.Exec("CREATE TABLE notes (id INTEGER PRIMARY KEY)")
	require.NoError(t, err)

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Greater(t, stats.PageCount, int64(0))
	assert.Greater(t, stats.PageSize, int64(0))
}
