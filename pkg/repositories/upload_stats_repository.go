package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// UploadStatsRepository defines the interface for upload feedback counters.
type UploadStatsRepository interface {
	// Increment bumps the user's total and the counter for day (YYYY-MM-DD).
	Increment(ctx context.Context, user, day string) error
	Get(ctx context.Context, user, day string) (*models.UploadStats, error)
	DeleteAll(ctx context.Context) error
}

type uploadStatsRepository struct {
	store
}

var _ UploadStatsRepository = (*uploadStatsRepository)(nil)

// NewUploadStatsRepository creates a new upload stats repository.
func NewUploadStatsRepository(db *database.DB) UploadStatsRepository {
	return &uploadStatsRepository{store: store{db: db}}
}

func (r *uploadStatsRepository) Increment(ctx context.Context, user, day string) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.exec(ctx, `
			INSERT INTO upload_history (user_email, total_uploaded) VALUES (?, 1)
			ON CONFLICT (user_email) DO UPDATE
			SET total_uploaded = upload_history.total_uploaded + 1`, user); err != nil {
			return fmt.Errorf("failed to increment upload total: %w", err)
		}
		if _, err := r.exec(ctx, `
			INSERT INTO upload_daily (user_email, day, uploads) VALUES (?, ?, 1)
			ON CONFLICT (user_email, day) DO UPDATE
			SET uploads = upload_daily.uploads + 1`, user, day); err != nil {
			return fmt.Errorf("failed to increment daily uploads: %w", err)
		}
		return nil
	})
}

func (r *uploadStatsRepository) Get(ctx context.Context, user, day string) (*models.UploadStats, error) {
	stats := &models.UploadStats{Day: day}

	err := r.queryRow(ctx, `SELECT total_uploaded FROM upload_history WHERE user_email = ?`, user).
		Scan(&stats.TotalUploaded)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get upload total: %w", err)
	}

	err = r.queryRow(ctx, `SELECT uploads FROM upload_daily WHERE user_email = ? AND day = ?`, user, day).
		Scan(&stats.TodayUploads)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to get daily uploads: %w", err)
	}

	return stats, nil
}

func (r *uploadStatsRepository) DeleteAll(ctx context.Context) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for _, table := range []string{"upload_history", "upload_daily"} {
			if _, err := r.exec(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}
		return nil
	})
}
