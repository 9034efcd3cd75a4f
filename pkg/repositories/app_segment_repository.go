package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// AppSegmentRepository defines the interface for app segment data access.
type AppSegmentRepository interface {
	CreateBatch(ctx context.Context, segments []*models.AppSegment) error
	GetBySessionIDs(ctx context.Context, sessionIDs []string) ([]*models.AppSegment, error)
	DeleteBySessionIDs(ctx context.Context, sessionIDs []string) (int64, error)
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

type appSegmentRepository struct {
	store
}

var _ AppSegmentRepository = (*appSegmentRepository)(nil)

// NewAppSegmentRepository creates a new app segment repository.
func NewAppSegmentRepository(db *database.DB) AppSegmentRepository {
	return &appSegmentRepository{store: store{db: db}}
}

const appSegmentColumns = `id, app_segment_id, session_id, app_title, app_segment_start,
	app_segment_end, app_segment_duration, user_id, app_prev_1, app_prev_2,
	app_prev_3, app_prev_4, app_next_1`

func scanAppSegment(rows *sql.Rows) (*models.AppSegment, error) {
	var a models.AppSegment
	err := rows.Scan(
		&a.ID,
		&a.AppSegmentID,
		&a.SessionID,
		&a.AppTitle,
		&a.AppSegmentStart,
		&a.AppSegmentEnd,
		&a.AppSegmentDuration,
		&a.UserID,
		&a.AppPrev1,
		&a.AppPrev2,
		&a.AppPrev3,
		&a.AppPrev4,
		&a.AppNext1,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *appSegmentRepository) CreateBatch(ctx context.Context, segments []*models.AppSegment) error {
	if len(segments) == 0 {
		return nil
	}
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, a := range segments {
			id, err := r.insert(ctx, `
				INSERT INTO app_segments (app_segment_id, session_id, app_title, app_segment_start,
					app_segment_end, app_segment_duration, user_id, app_prev_1, app_prev_2,
					app_prev_3, app_prev_4, app_next_1)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				a.AppSegmentID,
				a.SessionID,
				a.AppTitle,
				a.AppSegmentStart,
				a.AppSegmentEnd,
				a.AppSegmentDuration,
				a.UserID,
				a.AppPrev1,
				a.AppPrev2,
				a.AppPrev3,
				a.AppPrev4,
				a.AppNext1,
			)
			if err != nil {
				return fmt.Errorf("failed to create app segment: %w", err)
			}
			a.ID = id
		}
		return nil
	})
}

func (r *appSegmentRepository) GetBySessionIDs(ctx context.Context, sessionIDs []string) ([]*models.AppSegment, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	clause, args := database.InClause(sessionIDs)
	rows, err := r.query(ctx, `SELECT `+appSegmentColumns+` FROM app_segments
		WHERE session_id IN `+clause+` ORDER BY app_segment_start, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get app segments: %w", err)
	}
	out, err := scanAll(rows, scanAppSegment)
	if err != nil {
		return nil, fmt.Errorf("failed to scan app segments: %w", err)
	}
	return out, nil
}

func (r *appSegmentRepository) DeleteBySessionIDs(ctx context.Context, sessionIDs []string) (int64, error) {
	n, err := deleteIn(ctx, r.store, "app_segments", "session_id", sessionIDs)
	if err != nil {
		return n, fmt.Errorf("failed to delete app segments: %w", err)
	}
	return n, nil
}

func (r *appSegmentRepository) Count(ctx context.Context) (int, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM app_segments`)
	if err != nil {
		return 0, fmt.Errorf("failed to count app segments: %w", err)
	}
	return n, nil
}

func (r *appSegmentRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, `DELETE FROM app_segments`); err != nil {
		return fmt.Errorf("failed to clear app segments: %w", err)
	}
	return nil
}
