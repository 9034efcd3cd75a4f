package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/device"
	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
	"github.com/ekaya-inc/ekaya-recorder/pkg/upload"
)

// statsDayLayout keys the per-day upload counter.
const statsDayLayout = "2006-01-02"

// UploadService moves archives and log CSVs to remote storage.
type UploadService interface {
	// UploadPass uploads up to one batch of pending files. Returns
	// ErrPassInProgress when another pass is running and
	// ErrUploadConstraintsUnmet when network or power preferences forbid it.
	UploadPass(ctx context.Context) (*PassResult, error)
}

// UploadDeps are the collaborators of the upload pass.
type UploadDeps struct {
	Manifests    repositories.ZipManifestRepository
	Users        repositories.UserRepository
	Settings     repositories.SettingsRepository
	Logs         repositories.LogRepository
	Stats        repositories.UploadStatsRepository
	Transport    upload.Transport
	Connectivity device.Connectivity
	Power        device.PowerSource
	State        *status.State
}

type uploadService struct {
	UploadDeps
	cfg      config.UploadConfig
	filesDir string
	loc      *time.Location
	logger   *zap.Logger

	now func() time.Time
	mu  sync.Mutex
}

// NewUploadService creates an UploadService for files in filesDir.
func NewUploadService(deps UploadDeps, cfg config.UploadConfig, filesDir string, loc *time.Location, logger *zap.Logger) UploadService {
	if loc == nil {
		loc = time.Local
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	return &uploadService{
		UploadDeps: deps,
		cfg:        cfg,
		filesDir:   filesDir,
		loc:        loc,
		logger:     logger.Named("upload-service"),
		now:        time.Now,
	}
}

var _ UploadService = (*uploadService)(nil)

func (s *uploadService) UploadPass(ctx context.Context) (*PassResult, error) {
	if !s.mu.TryLock() {
		return nil, apperrors.ErrPassInProgress
	}
	defer s.mu.Unlock()

	result := &PassResult{RunID: uuid.NewString()}
	logger := s.logger.With(zap.String("run_id", result.RunID))

	if err := s.checkConstraints(ctx); err != nil {
		logger.Debug("Upload constraints unmet", zap.Error(err))
		return result, err
	}
	defer s.refreshNotUploaded(ctx)

	user := currentOwner(ctx, s.Users, logger)
	entries, err := s.pendingEntries(ctx)
	if err != nil {
		return result, err
	}
	if len(entries) == 0 {
		return result, nil
	}

	opts := upload.PathOptions{TestMode: s.cfg.TestMode, BuildVersion: s.cfg.BuildVersion}
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		uploaded, err := s.uploadEntry(ctx, logger, entry, user, opts)
		switch {
		case err != nil:
			result.Failed++
			s.onFailure(ctx, logger, entry, user, err)
		case uploaded:
			result.Processed++
			s.onSuccess(ctx, logger, entry, user)
		}
	}

	if result.Processed > 0 {
		runtime.GC()
	}
	logger.Info("Upload pass completed",
		zap.Int("uploaded", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int("entries", len(entries)))
	return result, nil
}

func (s *uploadService) checkConstraints(ctx context.Context) error {
	if !s.Connectivity.IsConnected(ctx) {
		return fmt.Errorf("%w: %w", apperrors.ErrUploadConstraintsUnmet, apperrors.ErrNoNetwork)
	}
	settings, err := s.Settings.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if settings.LimitDataUsage && !s.Connectivity.IsUnmetered(ctx) {
		return fmt.Errorf("%w: metered network", apperrors.ErrUploadConstraintsUnmet)
	}
	if settings.LimitPowerUsage && !s.Power.IsCharging(ctx) {
		return fmt.Errorf("%w: not charging", apperrors.ErrUploadConstraintsUnmet)
	}
	return nil
}

// pendingEntries returns a batch of manifests plus any log CSVs sitting in
// the files directory. Log CSVs have no manifest row.
func (s *uploadService) pendingEntries(ctx context.Context) ([]*models.ZipManifest, error) {
	entries, err := s.Manifests.FetchPending(ctx, s.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pending archives: %w", err)
	}

	strays, err := filepath.Glob(filepath.Join(s.filesDir, LogDataPrefix+"*.csv"))
	if err != nil {
		return nil, fmt.Errorf("failed to list log CSVs: %w", err)
	}
	sort.Strings(strays)
	for _, p := range strays {
		entries = append(entries, &models.ZipManifest{File: p})
	}
	return entries, nil
}

// uploadEntry uploads one file. Returns false with a nil error when the file
// was skipped.
func (s *uploadService) uploadEntry(ctx context.Context, logger *zap.Logger, entry *models.ZipManifest, user *models.User, opts upload.PathOptions) (bool, error) {
	body, err := os.ReadFile(entry.File)
	if errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Pending file missing, dropping entry", zap.String("file", filepath.Base(entry.File)))
		if entry.Persisted() {
			if err := s.Manifests.Delete(ctx, entry.ID); err != nil {
				return false, fmt.Errorf("failed to drop manifest for missing file: %w", err)
			}
		}
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", filepath.Base(entry.File), err)
	}

	remote := upload.BuildUploadPath(entry.File, user, opts)
	dest, err := s.Transport.GetSignedDestination(ctx, entry.File, remote)
	if err != nil {
		return false, fmt.Errorf("failed to get signed destination: %w", err)
	}
	if dest == "" {
		logger.Debug("No destination issued, keeping file", zap.String("file", filepath.Base(entry.File)))
		return false, nil
	}

	if err := s.Transport.PutBytes(ctx, dest, body); err != nil {
		return false, fmt.Errorf("failed to upload %s: %w", filepath.Base(entry.File), err)
	}
	return true, nil
}

func (s *uploadService) onSuccess(ctx context.Context, logger *zap.Logger, entry *models.ZipManifest, user *models.User) {
	name := filepath.Base(entry.File)
	if err := os.Remove(entry.File); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to remove uploaded file", zap.String("file", name), zap.Error(err))
	}
	if entry.Persisted() {
		if err := s.Manifests.Delete(ctx, entry.ID); err != nil {
			logger.Error("Failed to delete manifest for uploaded file", zap.String("file", name), zap.Error(err))
		}
	}

	recordEvent(ctx, s.Logs, logger, models.LogEventLastUpload, name, user.Email)
	logger.Info("Uploaded file", zap.String("file", name))

	if upload.IsCSV(entry.File) {
		return
	}
	now := s.now()
	if err := s.Stats.Increment(ctx, user.Email, now.In(s.loc).Format(statsDayLayout)); err != nil {
		logger.Warn("Failed to update upload stats", zap.Error(err))
	}
	s.State.LastUploadSuccessful.Set(true)
	s.State.LastUploadTime.Set(now)
}

func (s *uploadService) onFailure(ctx context.Context, logger *zap.Logger, entry *models.ZipManifest, user *models.User, err error) {
	name := filepath.Base(entry.File)
	msg := fmt.Sprintf("%s: %s", name, logging.ScrubStackTrace(err, debug.Stack()))
	recordEvent(ctx, s.Logs, logger, models.LogEventUploadFailed, msg, user.Email)
	logger.Error("Upload failed",
		zap.String("file", name),
		zap.String("error", logging.SanitizeError(err)))
	if !upload.IsCSV(entry.File) {
		s.State.LastUploadSuccessful.Set(false)
	}
}

func (s *uploadService) refreshNotUploaded(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	n, err := s.Manifests.Count(ctx)
	if err != nil {
		s.logger.Warn("Failed to count pending archives", zap.Error(err))
		return
	}
	strays, _ := filepath.Glob(filepath.Join(s.filesDir, LogDataPrefix+"*.csv"))
	s.State.NotUploadedCount.Set(n + len(strays))
}

