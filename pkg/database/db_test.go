package database

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
)

func TestRebind(t *testing.T) {
	q := "SELECT id FROM screenshots WHERE id > ? AND is_ocr_complete = ? LIMIT ?"

	assert.Equal(t, q, Rebind(config.DriverSQLite, q))
	assert.Equal(t,
		"SELECT id FROM screenshots WHERE id > $1 AND is_ocr_complete = $2 LIMIT $3",
		Rebind(config.DriverPgx, q))
}

func TestInClause(t *testing.T) {
	clause, args := InClause([]int64{4, 5, 6})
	assert.Equal(t, "(?, ?, ?)", clause)
	assert.Equal(t, []any{int64(4), int64(5), int64(6)}, args)

	clause, args = InClause([]string{})
	assert.Equal(t, "(NULL)", clause)
	assert.Empty(t, args)
}

func openMigrated(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLiteMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, RunMigrations(db, zap.NewNop()))
	return db
}

func TestRunMigrations_SQLite(t *testing.T) {
	db := openMigrated(t)

	tables := []string{
		"screenshots", "sessions", "app_segments", "accessibility_events",
		"zip_manifests", "log_events", "users", "restricted_apps",
		"settings", "upload_history", "upload_daily",
	}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}

	// Second run is a no-op.
	require.NoError(t, RunMigrations(db, zap.NewNop()))
}

func TestRunMigrations_RestrictedRowsCannotReferenceFiles(t *testing.T) {
	db := openMigrated(t)

	_, err := db.Exec(`INSERT INTO screenshots (epoch_timestamp, is_app_restricted, file_path) VALUES (1, 1, '/tmp/x.jpg')`)
	assert.Error(t, err)

	_, err = db.Exec(`INSERT INTO screenshots (epoch_timestamp, is_app_restricted, file_path) VALUES (1, 1, '')`)
	assert.NoError(t, err)
}

func TestWithTx_CommitAndRollback(t *testing.T) {
	db := openMigrated(t)
	ctx := context.Background()

	err := db.WithTx(ctx, func(ctx context.Context) error {
		_, err := db.Conn(ctx).ExecContext(ctx, "INSERT INTO log_events (event) VALUES (?)", "A")
		return err
	})
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := db.Conn(ctx).ExecContext(ctx, "INSERT INTO log_events (event) VALUES (?)", "B"); err != nil {
			return err
		}
		// nested call joins the outer transaction
		return db.WithTx(ctx, func(ctx context.Context) error {
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM log_events").Scan(&count))
	assert.Equal(t, 1, count)
}
