package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// UserRepository defines the interface for the device owner record.
type UserRepository interface {
	// Get returns the enrolled owner or ErrNotFound.
	Get(ctx context.Context) (*models.User, error)
	// Save replaces the owner record.
	Save(ctx context.Context, user *models.User) error
	Delete(ctx context.Context) error
}

type userRepository struct {
	store
}

var _ UserRepository = (*userRepository)(nil)

// NewUserRepository creates a new user repository.
func NewUserRepository(db *database.DB) UserRepository {
	return &userRepository{store: store{db: db}}
}

func (r *userRepository) Get(ctx context.Context) (*models.User, error) {
	var u models.User
	err := r.queryRow(ctx, `
		SELECT id, email, email_hash, tenant_id, tenant_name, panel_id, panel_name,
			upload_images, device, model
		FROM users ORDER BY id LIMIT 1`).Scan(
		&u.ID,
		&u.Email,
		&u.EmailHash,
		&u.TenantID,
		&u.TenantName,
		&u.PanelID,
		&u.PanelName,
		&u.UploadImages,
		&u.Device,
		&u.Model,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) Save(ctx context.Context, user *models.User) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		if _, err := r.exec(ctx, `DELETE FROM users`); err != nil {
			return fmt.Errorf("failed to replace user: %w", err)
		}
		id, err := r.insert(ctx, `
			INSERT INTO users (email, email_hash, tenant_id, tenant_name, panel_id, panel_name,
				upload_images, device, model)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			user.Email,
			user.EmailHash,
			user.TenantID,
			user.TenantName,
			user.PanelID,
			user.PanelName,
			user.UploadImages,
			user.Device,
			user.Model,
		)
		if err != nil {
			return fmt.Errorf("failed to save user: %w", err)
		}
		user.ID = id
		return nil
	})
}

func (r *userRepository) Delete(ctx context.Context) error {
	if _, err := r.exec(ctx, `DELETE FROM users`); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return nil
}
