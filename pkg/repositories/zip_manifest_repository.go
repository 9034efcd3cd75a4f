package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// ZipManifestRepository defines the interface for zip manifest data access.
type ZipManifestRepository interface {
	Create(ctx context.Context, m *models.ZipManifest) error
	// FetchPending returns up to limit manifests, oldest first.
	FetchPending(ctx context.Context, limit int) ([]*models.ZipManifest, error)
	// HasFile reports whether a manifest references file.
	HasFile(ctx context.Context, file string) (bool, error)
	Delete(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	DeleteAll(ctx context.Context) error
}

type zipManifestRepository struct {
	store
}

var _ ZipManifestRepository = (*zipManifestRepository)(nil)

// NewZipManifestRepository creates a new zip manifest repository.
func NewZipManifestRepository(db *database.DB) ZipManifestRepository {
	return &zipManifestRepository{store: store{db: db}}
}

func scanZipManifest(rows *sql.Rows) (*models.ZipManifest, error) {
	var m models.ZipManifest
	err := rows.Scan(
		&m.ID,
		&m.File,
		&m.Timestamp,
		&m.LocalTimestamp,
		&m.User,
		&m.PanelID,
		&m.PanelName,
		&m.TenantID,
		&m.ToDelete,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *zipManifestRepository) Create(ctx context.Context, m *models.ZipManifest) error {
	id, err := r.insert(ctx, `
		INSERT INTO zip_manifests (file, timestamp, local_timestamp, user_email,
			panel_id, panel_name, tenant_id, to_delete)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		m.File,
		m.Timestamp,
		m.LocalTimestamp,
		m.User,
		m.PanelID,
		m.PanelName,
		m.TenantID,
		m.ToDelete,
	)
	if err != nil {
		return fmt.Errorf("failed to create zip manifest: %w", err)
	}
	m.ID = id
	return nil
}

func (r *zipManifestRepository) FetchPending(ctx context.Context, limit int) ([]*models.ZipManifest, error) {
	rows, err := r.query(ctx, `
		SELECT id, file, timestamp, local_timestamp, user_email, panel_id, panel_name, tenant_id, to_delete
		FROM zip_manifests
		ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch zip manifests: %w", err)
	}
	out, err := scanAll(rows, scanZipManifest)
	if err != nil {
		return nil, fmt.Errorf("failed to scan zip manifests: %w", err)
	}
	return out, nil
}

func (r *zipManifestRepository) HasFile(ctx context.Context, file string) (bool, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM zip_manifests WHERE file = ?`, file)
	if err != nil {
		return false, fmt.Errorf("failed to look up zip manifest: %w", err)
	}
	return n > 0, nil
}

func (r *zipManifestRepository) Delete(ctx context.Context, id int64) error {
	if _, err := r.exec(ctx, `DELETE FROM zip_manifests WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete zip manifest: %w", err)
	}
	return nil
}

func (r *zipManifestRepository) Count(ctx context.Context) (int, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM zip_manifests`)
	if err != nil {
		return 0, fmt.Errorf("failed to count zip manifests: %w", err)
	}
	return n, nil
}

func (r *zipManifestRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, `DELETE FROM zip_manifests`); err != nil {
		return fmt.Errorf("failed to clear zip manifests: %w", err)
	}
	return nil
}
