// Package testhelpers provides stores and fixtures for testing ekaya-recorder components.
package testhelpers

import (
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
)

// PipelineTables lists every table the migrations create, children first.
var PipelineTables = []string{
	"screenshots",
	"accessibility_events",
	"app_segments",
	"sessions",
	"zip_manifests",
	"log_events",
	"restricted_apps",
	"users",
	"settings",
	"upload_history",
	"upload_daily",
}

// NewSQLiteStore returns a migrated in-memory store closed at test cleanup.
func NewSQLiteStore(t *testing.T) *database.DB {
	t.Helper()

	db, err := database.OpenSQLiteMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.RunMigrations(db, zap.NewNop()))
	return db
}

// TruncateAll empties every pipeline table.
func TruncateAll(t *testing.T, db *database.DB) {
	t.Helper()
	for _, table := range PipelineTables {
		_, err := db.ExecContext(context.Background(), "DELETE FROM "+table)
		require.NoError(t, err, "failed to clear %s", table)
	}
}

// WriteJPEG writes a small solid-color JPEG and returns its path.
func WriteJPEG(t *testing.T, dir, name string) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for x := 0; x < 8; x++ {
		for y := 0; y < 8; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 40, B: 40, A: 255})
		}
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, jpeg.Encode(f, img, &jpeg.Options{Quality: 50}))
	return path
}
