package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// DefaultFPS is the capture rate used before the user picks one.
const DefaultFPS = 0.33

// SettingsRepository defines the interface for user preferences.
type SettingsRepository interface {
	// Get returns the stored settings or defaults when none were saved.
	Get(ctx context.Context) (*models.Settings, error)
	Save(ctx context.Context, s *models.Settings) error
	// SaveDefaults stores s only when no settings row exists yet.
	SaveDefaults(ctx context.Context, s *models.Settings) error
}

type settingsRepository struct {
	store
}

var _ SettingsRepository = (*settingsRepository)(nil)

// NewSettingsRepository creates a new settings repository.
func NewSettingsRepository(db *database.DB) SettingsRepository {
	return &settingsRepository{store: store{db: db}}
}

func (r *settingsRepository) Get(ctx context.Context) (*models.Settings, error) {
	var s models.Settings
	err := r.queryRow(ctx, `SELECT fps, limit_data_usage, limit_power_usage FROM settings WHERE id = 1`).
		Scan(&s.FPS, &s.LimitDataUsage, &s.LimitPowerUsage)
	if errors.Is(err, sql.ErrNoRows) {
		return &models.Settings{FPS: DefaultFPS}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &s, nil
}

func (r *settingsRepository) Save(ctx context.Context, s *models.Settings) error {
	_, err := r.exec(ctx, `
		INSERT INTO settings (id, fps, limit_data_usage, limit_power_usage)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET fps = excluded.fps,
		    limit_data_usage = excluded.limit_data_usage,
		    limit_power_usage = excluded.limit_power_usage`,
		s.FPS, s.LimitDataUsage, s.LimitPowerUsage)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (r *settingsRepository) SaveDefaults(ctx context.Context, s *models.Settings) error {
	_, err := r.exec(ctx, `
		INSERT INTO settings (id, fps, limit_data_usage, limit_power_usage)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`,
		s.FPS, s.LimitDataUsage, s.LimitPowerUsage)
	if err != nil {
		return fmt.Errorf("failed to save default settings: %w", err)
	}
	return nil
}
