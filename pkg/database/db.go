package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx" for database/sql
	"go.uber.org/zap"
	_ "modernc.org/sqlite" // registers "sqlite" for database/sql

	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
)

// DB wraps a database/sql handle with the dialect it speaks.
// Queries are written with "?" placeholders and rebound for Postgres.
type DB struct {
	*sql.DB
	Driver string
}

// Open connects to the configured store and verifies the connection.
func Open(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	if cfg.Driver == config.DriverSQLite {
		if dir := filepath.Dir(cfg.Path); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	sqlDB, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// One writer at a time; WAL lets readers proceed alongside it.
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxConnections)
		sqlDB.SetConnMaxLifetime(time.Hour)
		sqlDB.SetConnMaxIdleTime(30 * time.Minute)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Connected to store",
		zap.String("driver", cfg.Driver),
		zap.String("dsn", logging.SanitizeConnectionString(cfg.DSN())))

	return &DB{DB: sqlDB, Driver: cfg.Driver}, nil
}

// OpenSQLiteMemory opens a private in-memory SQLite store. Used by tests and
// dry runs.
func OpenSQLiteMemory(ctx context.Context) (*DB, error) {
	sqlDB, err := sql.Open(config.DriverSQLite, "file::memory:?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// Every connection to :memory: is a separate database.
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &DB{DB: sqlDB, Driver: config.DriverSQLite}, nil
}

// Rebind converts "?" placeholders to the dialect's bind syntax.
func (db *DB) Rebind(query string) string {
	return Rebind(db.Driver, query)
}

// Rebind converts "?" placeholders to "$n" for the pgx driver.
func Rebind(driver, query string) string {
	if driver != config.DriverPgx {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// InClause returns "(?, ?, ...)" with n placeholders and the ids as args.
func InClause[T any](ids []T) (string, []any) {
	if len(ids) == 0 {
		return "(NULL)", nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")", args
}
