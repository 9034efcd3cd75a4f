package services

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
	"github.com/ekaya-inc/ekaya-recorder/pkg/transform"
)

// File name prefixes in the files directory.
const (
	LogDataPrefix       = "log_data_"
	ArchivePrefix       = "image_zip_"
	accessibilityPrefix = "app_accessibility_data_csv_"
	screenshotPrefix    = "screenshot_data_csv_"
	sessionPrefix       = "session_data_csv_"
	appSegmentPrefix    = "app_segment_data_csv_"
)

// batchTempPrefixes are the per-batch CSVs that live only until their
// archive's manifest is committed.
var batchTempPrefixes = []string{accessibilityPrefix, screenshotPrefix, sessionPrefix, appSegmentPrefix}

// ZipService batches archivable records into compressed archives.
type ZipService interface {
	// ZipBatch archives every archivable screenshot, pageSize rows per
	// archive. A pass already in progress makes this call a no-op.
	ZipBatch(ctx context.Context, pageSize int) (*PassResult, error)
}

// ZipDeps are the collaborators of the zip pass.
type ZipDeps struct {
	DB          *database.DB
	Screenshots repositories.ScreenshotRepository
	Sessions    repositories.SessionRepository
	Segments    repositories.AppSegmentRepository
	Events      repositories.AccessibilityEventRepository
	Manifests   repositories.ZipManifestRepository
	Logs        repositories.LogRepository
	Users       repositories.UserRepository
	SegmentSvc  SegmentService
	Duplicates  *status.DuplicateTracker
	State       *status.State
}

type zipService struct {
	ZipDeps
	cfg      config.ZipConfig
	filesDir string
	loc      *time.Location
	logger   *zap.Logger

	now func() time.Time
	mu  sync.Mutex
}

// NewZipService creates a ZipService writing archives into filesDir.
func NewZipService(deps ZipDeps, cfg config.ZipConfig, filesDir string, loc *time.Location, logger *zap.Logger) ZipService {
	if loc == nil {
		loc = time.Local
	}
	if cfg.LogFetchLimit <= 0 {
		cfg.LogFetchLimit = 1000
	}
	if cfg.AccessibilityFetchLimit <= 0 {
		cfg.AccessibilityFetchLimit = 500
	}
	return &zipService{
		ZipDeps:  deps,
		cfg:      cfg,
		filesDir: filesDir,
		loc:      loc,
		logger:   logger.Named("zip-service"),
		now:      time.Now,
	}
}

var _ ZipService = (*zipService)(nil)

func (s *zipService) ZipBatch(ctx context.Context, pageSize int) (*PassResult, error) {
	result := &PassResult{RunID: uuid.NewString()}
	logger := s.logger.With(zap.String("run_id", result.RunID))

	if pageSize <= 0 {
		pageSize = s.cfg.PageSize
	}
	if pageSize <= 0 {
		return result, fmt.Errorf("page size must be positive")
	}

	user := currentOwner(ctx, s.Users, logger)
	if !s.mu.TryLock() {
		logger.Info("Zip pass already running, skipping")
		recordEvent(ctx, s.Logs, logger, models.LogEventZipBusy, "zip pass already running", user.Email)
		result.Skipped = true
		return result, nil
	}
	defer s.mu.Unlock()
	defer func() { s.State.LastZipPass.Set(s.now()) }()

	if _, err := s.SegmentSvc.SaveAllSessionSegments(ctx); err != nil {
		logger.Warn("Failed to derive segments before zipping", zap.Error(err))
	}
	if _, err := s.FlushLogs(ctx, user); err != nil {
		logger.Warn("Failed to flush log events", zap.Error(err))
	}
	if removed := s.SweepOrphans(ctx); removed > 0 {
		logger.Info("Removed orphaned batch files", zap.Int("removed", removed))
	}

	total, err := s.Screenshots.CountArchivable(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to count archivable screenshots: %w", err)
	}
	if total == 0 {
		logger.Debug("Nothing to archive")
		return result, nil
	}

	// Bounded even if rows keep arriving while we page.
	maxIterations := total/pageSize + 1
	var lastID int64
	for i := 0; i < maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		page, err := s.Screenshots.FetchArchivablePage(ctx, lastID, pageSize)
		if err != nil {
			return result, s.fail(ctx, logger, user, fmt.Errorf("failed to fetch archivable page: %w", err))
		}
		if len(page) == 0 {
			break
		}
		lastID = page[len(page)-1].ID

		archive, err := s.archivePage(ctx, logger, page, user)
		if err != nil {
			return result, s.fail(ctx, logger, user, err)
		}
		result.Batches++
		result.Processed += len(page)
		logger.Info("Archived batch",
			zap.String("archive", filepath.Base(archive)),
			zap.Int("screenshots", len(page)))

		if len(page) < pageSize {
			break
		}
	}

	logger.Info("Zip pass completed",
		zap.Int("batches", result.Batches),
		zap.Int("screenshots", result.Processed))
	return result, nil
}

func (s *zipService) fail(ctx context.Context, logger *zap.Logger, user *models.User, err error) error {
	logger.Error("Zip pass aborted", zap.Error(err))
	recordEvent(ctx, s.Logs, logger, models.LogEventZipFailed, logging.ScrubStackTrace(err, nil), user.Email)
	return err
}

// archivePage writes one archive for page and commits it. Files are written
// first, then the manifest insert and the source-row deletes run in one
// transaction, then the temp files are removed. A crash before the commit
// leaves only files, which SweepOrphans removes later.
func (s *zipService) archivePage(ctx context.Context, logger *zap.Logger, page []*models.Screenshot, user *models.User) (string, error) {
	zipID := uuid.NewString()
	archiveName := fmt.Sprintf("%s%s_%d.zip", ArchivePrefix, zipID, len(page))
	archivePath := filepath.Join(s.filesDir, archiveName)

	sessionIDs := uniqueSessionIDs(page)
	sessions, err := s.Sessions.GetBySessionIDs(ctx, sessionIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load sessions: %w", err)
	}
	segments, err := s.Segments.GetBySessionIDs(ctx, sessionIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load app segments: %w", err)
	}
	events, err := s.Events.FetchOldest(ctx, s.cfg.AccessibilityFetchLimit)
	if err != nil {
		return "", fmt.Errorf("failed to load accessibility events: %w", err)
	}

	transform.CorrelateAccessibilityEvents(events, page)
	if len(events) > 0 {
		report := transform.MatchScreenshotsToEvents(page, events)
		logger.Debug("Screenshot to event matching",
			zap.Int("matched", len(report.Matched)),
			zap.Int("unmatched_screenshots", len(report.UnmatchedScreenshots)),
			zap.Int("unmatched_events", len(report.UnmatchedEvents)),
			zap.Bool("count_mismatch", report.CountMismatch))
	}

	for _, shot := range page {
		shot.ZipFileID = &archiveName
	}

	csvFiles := []struct {
		name string
		data []byte
	}{
		{accessibilityPrefix + zipID + ".csv", transform.AccessibilityCSV(events)},
		{screenshotPrefix + zipID + ".csv", transform.ScreenshotCSV(page, s.loc)},
		{sessionPrefix + zipID + ".csv", transform.SessionCSV(sessions, s.loc)},
		{appSegmentPrefix + zipID + ".csv", transform.AppSegmentCSV(segments)},
	}

	var temps []string
	cleanup := func(paths []string) {
		for _, p := range paths {
			if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
				logger.Warn("Failed to remove batch file", zap.String("file", filepath.Base(p)), zap.Error(err))
			}
		}
	}

	for _, f := range csvFiles {
		p := filepath.Join(s.filesDir, f.name)
		if err := os.WriteFile(p, f.data, 0o600); err != nil {
			cleanup(temps)
			return "", fmt.Errorf("failed to write %s: %w", f.name, err)
		}
		temps = append(temps, p)
	}

	members := append([]string(nil), temps...)
	var imagePaths, archivedNames []string
	for _, shot := range page {
		if !shot.HasImage() {
			continue
		}
		imagePaths = append(imagePaths, shot.FilePath)
		if !user.UploadImages {
			continue
		}
		if _, err := os.Stat(shot.FilePath); err != nil {
			logger.Debug("Image missing, archiving row only", zap.String("file", shot.FileName))
			continue
		}
		// A repeat is reported but still archived.
		if s.Duplicates.Contains(shot.FileName) {
			logger.Warn("Duplicate image archived again", zap.String("file", shot.FileName))
			recordEvent(ctx, s.Logs, logger, models.LogEventDuplicateFile, shot.FileName, user.Email)
		}
		members = append(members, shot.FilePath)
		archivedNames = append(archivedNames, shot.FileName)
	}

	if err := writeArchive(archivePath, members); err != nil {
		cleanup(append(temps, archivePath))
		return "", err
	}

	now := s.now()
	manifest := &models.ZipManifest{
		File:           archivePath,
		Timestamp:      models.FormatUTC(now),
		LocalTimestamp: now.In(s.loc).Format(localTimestampLayout),
		User:           user.Email,
		PanelID:        user.PanelID,
		PanelName:      user.PanelName,
		TenantID:       user.TenantID,
	}

	ids := make([]int64, len(page))
	for i, shot := range page {
		ids[i] = shot.ID
	}
	eventIDs := make([]int64, len(events))
	for i, e := range events {
		eventIDs[i] = e.ID
	}

	err = s.DB.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Manifests.Create(ctx, manifest); err != nil {
			return err
		}
		if _, err := s.Screenshots.DeleteByIDs(ctx, ids); err != nil {
			return err
		}
		if _, err := s.Sessions.DeleteBySessionIDs(ctx, sessionIDs); err != nil {
			return err
		}
		if _, err := s.Segments.DeleteBySessionIDs(ctx, sessionIDs); err != nil {
			return err
		}
		if _, err := s.Events.DeleteByIDs(ctx, eventIDs); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		cleanup(append(temps, archivePath))
		return "", fmt.Errorf("failed to commit archive %s: %w", archiveName, err)
	}

	s.Duplicates.Add(archivedNames...)
	cleanup(append(temps, imagePaths...))
	return archivePath, nil
}

// FlushLogs writes pending log events to a log_data CSV for upload and
// removes them from the table. Returns the CSV path, or "" when the table
// holds no more than the flush threshold.
func (s *zipService) FlushLogs(ctx context.Context, user *models.User) (string, error) {
	count, err := s.Logs.Count(ctx)
	if err != nil {
		return "", err
	}
	if count <= s.cfg.LogFlushThreshold {
		return "", nil
	}

	rows, err := s.Logs.FetchOldest(ctx, s.cfg.LogFetchLimit)
	if err != nil {
		return "", err
	}
	if len(rows) == 0 {
		return "", nil
	}

	path := filepath.Join(s.filesDir, LogDataPrefix+uuid.NewString()+".csv")
	if err := os.WriteFile(path, transform.LogCSV(rows), 0o600); err != nil {
		return "", fmt.Errorf("failed to write log CSV: %w", err)
	}

	ids := make([]int64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}
	chunk := s.cfg.LogDeleteChunk
	if chunk <= 0 {
		chunk = len(ids)
	}
	for start := 0; start < len(ids); start += chunk {
		end := min(start+chunk, len(ids))
		if _, err := s.Logs.DeleteByIDs(ctx, ids[start:end]); err != nil {
			// Rows from earlier chunks are gone; keep the CSV so they are not lost.
			if start == 0 {
				_ = os.Remove(path)
			}
			return "", fmt.Errorf("failed to delete flushed log events: %w", err)
		}
	}

	s.logger.Debug("Flushed log events",
		zap.String("file", filepath.Base(path)),
		zap.Int("events", len(rows)),
		zap.String("user", user.EmailHash))
	return path, nil
}

// SweepOrphans removes batch CSVs and archives left behind by a pass that
// died before its manifest was committed. Only files older than the orphan
// age are considered so a concurrent pass is never disturbed.
func (s *zipService) SweepOrphans(ctx context.Context) int {
	entries, err := os.ReadDir(s.filesDir)
	if err != nil {
		s.logger.Warn("Failed to list files directory", zap.Error(err))
		return 0
	}

	cutoff := s.now().Add(-s.cfg.OrphanMaxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}

		path := filepath.Join(s.filesDir, name)
		orphan := hasAnyPrefix(name, batchTempPrefixes)
		if !orphan && strings.HasPrefix(name, ArchivePrefix) && strings.HasSuffix(name, ".zip") {
			known, err := s.Manifests.HasFile(ctx, path)
			if err != nil {
				s.logger.Warn("Failed to check archive manifest", zap.String("file", name), zap.Error(err))
				continue
			}
			orphan = !known
		}
		if !orphan {
			continue
		}

		if err := os.Remove(path); err != nil {
			s.logger.Warn("Failed to remove orphaned file", zap.String("file", name), zap.Error(err))
			continue
		}
		removed++
	}
	return removed
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func uniqueSessionIDs(page []*models.Screenshot) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, shot := range page {
		id := models.Deref(shot.SessionID)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// writeArchive creates a flat zip at path holding members by base name.
func writeArchive(path string, members []string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("failed to close archive: %w", cerr)
		}
	}()

	zw := zip.NewWriter(f)
	for _, member := range members {
		if err := addToArchive(zw, member); err != nil {
			zw.Close()
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func addToArchive(zw *zip.Writer, path string) error {
	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filepath.Base(path), err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", filepath.Base(path), err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("failed to build header for %s: %w", filepath.Base(path), err)
	}
	header.Name = filepath.Base(path)
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to add %s: %w", header.Name, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to compress %s: %w", header.Name, err)
	}
	return nil
}
