package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// LogRepository defines the interface for diagnostic log event access.
type LogRepository interface {
	// Save scrubs msg and records it under event for user.
	Save(ctx context.Context, event, msg, user string) error
	Create(ctx context.Context, e *models.LogEvent) error
	FetchOldest(ctx context.Context, limit int) ([]*models.LogEvent, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

type logRepository struct {
	store
	now func() time.Time
}

var _ LogRepository = (*logRepository)(nil)

// NewLogRepository creates a new log repository.
func NewLogRepository(db *database.DB) LogRepository {
	return &logRepository{store: store{db: db}, now: time.Now}
}

func scanLogEvent(rows *sql.Rows) (*models.LogEvent, error) {
	var e models.LogEvent
	if err := rows.Scan(&e.ID, &e.Event, &e.Msg, &e.User, &e.Timestamp); err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *logRepository) Save(ctx context.Context, event, msg, user string) error {
	return r.Create(ctx, &models.LogEvent{Event: event, Msg: msg, User: user})
}

func (r *logRepository) Create(ctx context.Context, e *models.LogEvent) error {
	e.Msg = logging.CleanText(e.Msg)
	if e.Timestamp == "" {
		e.Timestamp = r.now().Format(models.LogTimestampLayout)
	}

	id, err := r.insert(ctx, `
		INSERT INTO log_events (event, msg, user_email, timestamp)
		VALUES (?, ?, ?, ?)`,
		e.Event, e.Msg, e.User, e.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to create log event: %w", err)
	}
	e.ID = id
	return nil
}

func (r *logRepository) FetchOldest(ctx context.Context, limit int) ([]*models.LogEvent, error) {
	rows, err := r.query(ctx, `SELECT id, event, msg, user_email, timestamp
		FROM log_events ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch log events: %w", err)
	}
	out, err := scanAll(rows, scanLogEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to scan log events: %w", err)
	}
	return out, nil
}

func (r *logRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	n, err := deleteIn(ctx, r.store, "log_events", "id", ids)
	if err != nil {
		return n, fmt.Errorf("failed to delete log events: %w", err)
	}
	return n, nil
}

func (r *logRepository) Count(ctx context.Context) (int, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM log_events`)
	if err != nil {
		return 0, fmt.Errorf("failed to count log events: %w", err)
	}
	return n, nil
}

func (r *logRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, `DELETE FROM log_events`); err != nil {
		return fmt.Errorf("failed to clear log events: %w", err)
	}
	return nil
}
