package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
)

// deleteChunkSize bounds the placeholders in one bulk delete.
const deleteChunkSize = 500

// store is embedded by every repository. Queries use "?" placeholders and go
// through the transaction carried by ctx when there is one.
type store struct {
	db *database.DB
}

func (s store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.Conn(ctx).ExecContext(ctx, s.db.Rebind(query), args...)
}

func (s store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.Conn(ctx).QueryContext(ctx, s.db.Rebind(query), args...)
}

func (s store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.Conn(ctx).QueryRowContext(ctx, s.db.Rebind(query), args...)
}

// insert runs an INSERT and returns the generated id.
func (s store) insert(ctx context.Context, query string, args ...any) (int64, error) {
	var id int64
	if err := s.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func (s store) count(ctx context.Context, query string, args ...any) (int, error) {
	var n int
	if err := s.queryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// deleteIn deletes rows whose column matches any of values, in chunks.
func deleteIn[T any](ctx context.Context, s store, table, column string, values []T) (int64, error) {
	var total int64
	for start := 0; start < len(values); start += deleteChunkSize {
		end := min(start+deleteChunkSize, len(values))
		clause, args := database.InClause(values[start:end])
		res, err := s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE %s IN %s", table, column, clause), args...)
		if err != nil {
			return total, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// scanAll collects rows with scan, closing rows when done.
func scanAll[T any](rows *sql.Rows, scan func(*sql.Rows) (*T, error)) ([]*T, error) {
	defer rows.Close()

	var out []*T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
