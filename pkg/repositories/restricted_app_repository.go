package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// RestrictedAppRepository defines the interface for the capture block list.
type RestrictedAppRepository interface {
	List(ctx context.Context) ([]*models.RestrictedApp, error)
	IsRestricted(ctx context.Context, packageName string) (bool, error)
	// Upsert adds or updates an app by package name.
	Upsert(ctx context.Context, app *models.RestrictedApp) error
	// Seed inserts apps that are not present yet; existing rows are untouched.
	Seed(ctx context.Context, apps []*models.RestrictedApp) (int, error)
	Delete(ctx context.Context, packageName string) error
}

type restrictedAppRepository struct {
	store
}

var _ RestrictedAppRepository = (*restrictedAppRepository)(nil)

// NewRestrictedAppRepository creates a new restricted app repository.
func NewRestrictedAppRepository(db *database.DB) RestrictedAppRepository {
	return &restrictedAppRepository{store: store{db: db}}
}

func scanRestrictedApp(rows *sql.Rows) (*models.RestrictedApp, error) {
	var a models.RestrictedApp
	if err := rows.Scan(&a.ID, &a.AppName, &a.PackageName, &a.IsUserRestricted, &a.Timestamp); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *restrictedAppRepository) List(ctx context.Context) ([]*models.RestrictedApp, error) {
	rows, err := r.query(ctx, `SELECT id, app_name, package_name, is_user_restricted, timestamp
		FROM restricted_apps ORDER BY app_name, package_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list restricted apps: %w", err)
	}
	out, err := scanAll(rows, scanRestrictedApp)
	if err != nil {
		return nil, fmt.Errorf("failed to scan restricted apps: %w", err)
	}
	return out, nil
}

func (r *restrictedAppRepository) IsRestricted(ctx context.Context, packageName string) (bool, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM restricted_apps WHERE package_name = ?`, packageName)
	if err != nil {
		return false, fmt.Errorf("failed to check restricted app: %w", err)
	}
	return n > 0, nil
}

func (r *restrictedAppRepository) Upsert(ctx context.Context, app *models.RestrictedApp) error {
	if app.Timestamp == "" {
		app.Timestamp = models.FormatUTC(time.Now())
	}
	id, err := r.insert(ctx, `
		INSERT INTO restricted_apps (app_name, package_name, is_user_restricted, timestamp)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (package_name) DO UPDATE
		SET app_name = excluded.app_name,
		    is_user_restricted = excluded.is_user_restricted,
		    timestamp = excluded.timestamp`,
		app.AppName, app.PackageName, app.IsUserRestricted, app.Timestamp)
	if err != nil {
		return fmt.Errorf("failed to upsert restricted app: %w", err)
	}
	app.ID = id
	return nil
}

func (r *restrictedAppRepository) Seed(ctx context.Context, apps []*models.RestrictedApp) (int, error) {
	var added int
	err := r.db.WithTx(ctx, func(ctx context.Context) error {
		now := models.FormatUTC(time.Now())
		for _, app := range apps {
			res, err := r.exec(ctx, `
				INSERT INTO restricted_apps (app_name, package_name, is_user_restricted, timestamp)
				VALUES (?, ?, ?, ?)
				ON CONFLICT (package_name) DO NOTHING`,
				app.AppName, app.PackageName, app.IsUserRestricted, now)
			if err != nil {
				return fmt.Errorf("failed to seed restricted app %s: %w", app.PackageName, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				added++
			}
		}
		return nil
	})
	return added, err
}

func (r *restrictedAppRepository) Delete(ctx context.Context, packageName string) error {
	if _, err := r.exec(ctx, `DELETE FROM restricted_apps WHERE package_name = ?`, packageName); err != nil {
		return fmt.Errorf("failed to delete restricted app: %w", err)
	}
	return nil
}
