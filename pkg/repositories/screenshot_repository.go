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

// ScreenshotRepository defines the interface for screenshot data access.
type ScreenshotRepository interface {
	Create(ctx context.Context, s *models.Screenshot) error
	GetByID(ctx context.Context, id int64) (*models.Screenshot, error)
	ListBySession(ctx context.Context, sessionID string) ([]*models.Screenshot, error)

	// CountEligibleForOcr counts unrestricted captures whose text has not been extracted.
	CountEligibleForOcr(ctx context.Context) (int, error)
	// FetchEligibleForOcr returns up to limit OCR candidates, newest first.
	FetchEligibleForOcr(ctx context.Context, limit int) ([]*models.Screenshot, error)
	SetOcrComplete(ctx context.Context, id int64, text string) error

	// FetchWithoutSegment returns segment-less screenshots of every session
	// except excludeSessionID, ordered by capture time.
	FetchWithoutSegment(ctx context.Context, excludeSessionID string) ([]*models.Screenshot, error)
	// AssignSegments sets app_segment_id for each screenshot id in the map.
	AssignSegments(ctx context.Context, segmentByID map[int64]string) error

	// FetchArchivablePage returns up to limit archivable screenshots with id > afterID, ordered by id.
	FetchArchivablePage(ctx context.Context, afterID int64, limit int) ([]*models.Screenshot, error)
	CountArchivable(ctx context.Context) (int, error)

	DeleteByIDs(ctx context.Context, ids []int64) (int64, error)
	DeleteAll(ctx context.Context) error
	Counts(ctx context.Context) (*models.ScreenshotCounts, error)
	CountByApp(ctx context.Context) ([]models.AppCount, error)
}

type screenshotRepository struct {
	store
}

var _ ScreenshotRepository = (*screenshotRepository)(nil)

// NewScreenshotRepository creates a new screenshot repository.
func NewScreenshotRepository(db *database.DB) ScreenshotRepository {
	return &screenshotRepository{store: store{db: db}}
}

const screenshotColumns = `id, user_email, file_path, file_name, current_app_in_use,
	current_app_real_name_in_use, session_id, app_segment_id, epoch_timestamp,
	timestamp, local_timestamp, type, text, is_ocr_complete, is_app_restricted,
	zip_file_id, session_depth`

// archivablePredicate selects rows whose OCR (or restricted placeholder) and
// segment assignment are both done.
const archivablePredicate = `((is_ocr_complete = TRUE AND app_segment_id IS NOT NULL)
	OR (is_app_restricted = TRUE AND app_segment_id IS NOT NULL))`

const ocrEligiblePredicate = `is_ocr_complete = FALSE AND is_app_restricted = FALSE AND type = 'SCREENSHOT'`

func scanScreenshot(row interface{ Scan(...any) error }) (*models.Screenshot, error) {
	var s models.Screenshot
	err := row.Scan(
		&s.ID,
		&s.User,
		&s.FilePath,
		&s.FileName,
		&s.CurrentAppInUse,
		&s.CurrentAppRealNameInUse,
		&s.SessionID,
		&s.AppSegmentID,
		&s.EpochTimestamp,
		&s.Timestamp,
		&s.LocalTimestamp,
		&s.Type,
		&s.Text,
		&s.IsOcrComplete,
		&s.IsAppRestricted,
		&s.ZipFileID,
		&s.SessionDepth,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanScreenshotRows(rows *sql.Rows) (*models.Screenshot, error) {
	return scanScreenshot(rows)
}

func (r *screenshotRepository) Create(ctx context.Context, s *models.Screenshot) error {
	if s.IsAppRestricted && s.FilePath != "" {
		return fmt.Errorf("restricted screenshot must not reference a file")
	}
	if s.Type == "" {
		s.Type = models.ScreenshotTypeCapture
	}

	id, err := r.insert(ctx, `
		INSERT INTO screenshots (user_email, file_path, file_name, current_app_in_use,
			current_app_real_name_in_use, session_id, app_segment_id, epoch_timestamp,
			timestamp, local_timestamp, type, text, is_ocr_complete, is_app_restricted,
			zip_file_id, session_depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.User,
		s.FilePath,
		s.FileName,
		s.CurrentAppInUse,
		s.CurrentAppRealNameInUse,
		s.SessionID,
		s.AppSegmentID,
		s.EpochTimestamp,
		s.Timestamp,
		s.LocalTimestamp,
		s.Type,
		s.Text,
		s.IsOcrComplete,
		s.IsAppRestricted,
		s.ZipFileID,
		s.SessionDepth,
	)
	if err != nil {
		return fmt.Errorf("failed to create screenshot: %w", err)
	}

	s.ID = id
	return nil
}

func (r *screenshotRepository) GetByID(ctx context.Context, id int64) (*models.Screenshot, error) {
	s, err := scanScreenshot(r.queryRow(ctx, `SELECT `+screenshotColumns+` FROM screenshots WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get screenshot: %w", err)
	}
	return s, nil
}

func (r *screenshotRepository) ListBySession(ctx context.Context, sessionID string) ([]*models.Screenshot, error) {
	rows, err := r.query(ctx, `SELECT `+screenshotColumns+` FROM screenshots
		WHERE session_id = ? ORDER BY epoch_timestamp, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list screenshots by session: %w", err)
	}
	out, err := scanAll(rows, scanScreenshotRows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan screenshots: %w", err)
	}
	return out, nil
}

func (r *screenshotRepository) CountEligibleForOcr(ctx context.Context) (int, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM screenshots WHERE `+ocrEligiblePredicate)
	if err != nil {
		return 0, fmt.Errorf("failed to count OCR backlog: %w", err)
	}
	return n, nil
}

func (r *screenshotRepository) FetchEligibleForOcr(ctx context.Context, limit int) ([]*models.Screenshot, error) {
	rows, err := r.query(ctx, `SELECT `+screenshotColumns+` FROM screenshots
		WHERE `+ocrEligiblePredicate+` ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch OCR backlog: %w", err)
	}
	out, err := scanAll(rows, scanScreenshotRows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan screenshots: %w", err)
	}
	return out, nil
}

func (r *screenshotRepository) SetOcrComplete(ctx context.Context, id int64, text string) error {
	res, err := r.exec(ctx, `UPDATE screenshots SET text = ?, is_ocr_complete = TRUE WHERE id = ?`, text, id)
	if err != nil {
		return fmt.Errorf("failed to mark OCR complete: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *screenshotRepository) FetchWithoutSegment(ctx context.Context, excludeSessionID string) ([]*models.Screenshot, error) {
	rows, err := r.query(ctx, `SELECT `+screenshotColumns+` FROM screenshots
		WHERE app_segment_id IS NULL AND session_id IS NOT NULL AND session_id <> ?
		ORDER BY epoch_timestamp, id`, excludeSessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsegmented screenshots: %w", err)
	}
	out, err := scanAll(rows, scanScreenshotRows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan screenshots: %w", err)
	}
	return out, nil
}

func (r *screenshotRepository) AssignSegments(ctx context.Context, segmentByID map[int64]string) error {
	return r.db.WithTx(ctx, func(ctx context.Context) error {
		for id, segmentID := range segmentByID {
			if _, err := r.exec(ctx, `UPDATE screenshots SET app_segment_id = ? WHERE id = ?`, segmentID, id); err != nil {
				return fmt.Errorf("failed to assign segment: %w", err)
			}
		}
		return nil
	})
}

func (r *screenshotRepository) FetchArchivablePage(ctx context.Context, afterID int64, limit int) ([]*models.Screenshot, error) {
	rows, err := r.query(ctx, `SELECT `+screenshotColumns+` FROM screenshots
		WHERE `+archivablePredicate+` AND id > ?
		ORDER BY id LIMIT ?`, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archivable page: %w", err)
	}
	out, err := scanAll(rows, scanScreenshotRows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan screenshots: %w", err)
	}
	return out, nil
}

func (r *screenshotRepository) CountArchivable(ctx context.Context) (int, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM screenshots WHERE `+archivablePredicate)
	if err != nil {
		return 0, fmt.Errorf("failed to count archivable screenshots: %w", err)
	}
	return n, nil
}

func (r *screenshotRepository) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	n, err := deleteIn(ctx, r.store, "screenshots", "id", ids)
	if err != nil {
		return n, fmt.Errorf("failed to delete screenshots: %w", err)
	}
	return n, nil
}

func (r *screenshotRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, `DELETE FROM screenshots`); err != nil {
		return fmt.Errorf("failed to clear screenshots: %w", err)
	}
	return nil
}

func (r *screenshotRepository) Counts(ctx context.Context) (*models.ScreenshotCounts, error) {
	var c models.ScreenshotCounts
	err := r.queryRow(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN is_ocr_complete = TRUE THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_ocr_complete = TRUE OR is_app_restricted = TRUE THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_app_restricted = TRUE THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN is_app_restricted = FALSE THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN app_segment_id IS NULL THEN 1 ELSE 0 END), 0)
		FROM screenshots`).Scan(
		&c.Total,
		&c.OcrComplete,
		&c.OcrCompleteOrRestricted,
		&c.Restricted,
		&c.Unrestricted,
		&c.NullSegment,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count screenshots: %w", err)
	}
	return &c, nil
}

func (r *screenshotRepository) CountByApp(ctx context.Context) ([]models.AppCount, error) {
	rows, err := r.query(ctx, `
		SELECT current_app_in_use, COUNT(*)
		FROM screenshots
		GROUP BY current_app_in_use
		ORDER BY COUNT(*) DESC, current_app_in_use`)
	if err != nil {
		return nil, fmt.Errorf("failed to count screenshots by app: %w", err)
	}
	defer rows.Close()

	var out []models.AppCount
	for rows.Next() {
		var c models.AppCount
		if err := rows.Scan(&c.AppPackage, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan app count: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
