package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// AccessibilityEventRepository defines the interface for accessibility event data access.
type AccessibilityEventRepository interface {
	CreateBatch(ctx context.Context, events []*models.AccessibilityEvent) error
	// FetchOldest returns up to limit events ordered by event time.
	FetchOldest(ctx context.Context, limit int) ([]*models.AccessibilityEvent, error)
	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

type accessibilityEventRepository struct {
	store
}

var _ AccessibilityEventRepository = (*accessibilityEventRepository)(nil)

// NewAccessibilityEventRepository creates a new accessibility event repository.
func NewAccessibilityEventRepository(db *database.DB) AccessibilityEventRepository {
	return &accessibilityEventRepository{store: store{db: db}}
}

const accessibilityEventColumns = `id, user_email, event_group_id, session_id,
	accessibility_session_id, app_interval_id, event_type, event_time,
	package_name, class_name, text, content_description`

func scanAccessibilityEvent(rows *sql.Rows) (*models.AccessibilityEvent, error) {
	var e models.AccessibilityEvent
	err := rows.Scan(
		&e.ID,
		&e.User,
		&e.EventGroupID,
		&e.SessionID,
		&e.AccessibilitySessionID,
		&e.AppIntervalID,
		&e.EventType,
		&e.EventTime,
		&e.PackageName,
		&e.ClassName,
		&e.Text,
		&e.ContentDescription,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *accessibilityEventRepository) CreateBatch(ctx context.Context, events []*models.AccessibilityEvent) error {
	if len(events) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, e := range events {
			id, err := r.insert(ctx, `
				INSERT INTO accessibility_events (user_email, event_group_id, session_id,
					accessibility_session_id, app_interval_id, event_type, event_time,
					package_name, class_name, text, content_description)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				e.User,
				e.EventGroupID,
				e.SessionID,
				e.AccessibilitySessionID,
				e.AppIntervalID,
				e.EventType,
				e.EventTime,
				e.PackageName,
				e.ClassName,
				e.Text,
				e.ContentDescription,
			)
			if err != nil {
				return fmt.Errorf("failed to create accessibility event: %w", err)
			}
			e.ID = id
		}
		return nil
	})
}

func (r *accessibilityEventRepository) FetchOldest(ctx context.Context, limit int) ([]*models.AccessibilityEvent, error) {
	rows, err := r.query(ctx, `SELECT `+accessibilityEventColumns+` FROM accessibility_events
		ORDER BY event_time, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch accessibility events: %w", err)
	}
	out, err := scanAll(rows, scanAccessibilityEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to scan accessibility events: %w", err)
	}
	return out, nil
}

func (r *accessibilityEventRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	n, err := deleteIn(ctx, r.store, "accessibility_events", "id", ids)
	if err != nil {
		return n, fmt.Errorf("failed to delete accessibility events: %w", err)
	}
	return n, nil
}

func (r *accessibilityEventRepository) Count(ctx context.Context) (int, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM accessibility_events`)
	if err != nil {
		return 0, fmt.Errorf("failed to count accessibility events: %w", err)
	}
	return n, nil
}

func (r *accessibilityEventRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, `DELETE FROM accessibility_events`); err != nil {
		return fmt.Errorf("failed to clear accessibility events: %w", err)
	}
	return nil
}
