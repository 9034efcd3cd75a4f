package services

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/device"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/retry"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
)

// Capture file name layout: img_{uuid}Screenshot_{timestamp}.jpg
const captureTimeLayout = "2006-01-02_15-04-05"

// localTimestampLayout renders LocalTimestamp columns.
const localTimestampLayout = "2006-01-02T15:04:05.000-07:00"

// errTickSkipped marks a tick that did no work without counting as a failure.
var errTickSkipped = errors.New("capture tick skipped")

// CaptureService runs the periodic screen capture loop.
type CaptureService interface {
	// Start launches the loop. A second Start returns ErrCaptureAlreadyRunning.
	Start(ctx context.Context) error
	// Stop cancels the loop and waits for it to exit.
	Stop()
	IsRunning() bool
	// CaptureTick performs one capture.
	CaptureTick(ctx context.Context) error
}

// CaptureDeps are the collaborators of the capture loop.
type CaptureDeps struct {
	Screenshots repositories.ScreenshotRepository
	Restricted  repositories.RestrictedAppRepository
	Logs        repositories.LogRepository
	Users       repositories.UserRepository
	Settings    repositories.SettingsRepository
	Device      device.State
	Frames      device.FrameSource
	Storage     device.StorageProbe
	Tracker     *SessionTracker
	State       *status.State
}

type captureService struct {
	CaptureDeps
	cfg      config.CaptureConfig
	filesDir string
	loc      *time.Location
	logger   *zap.Logger

	now         func() time.Time
	intervalFor func(fps float64) time.Duration
	permit      *semaphore.Weighted
	lowStorage  *rate.Limiter

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewCaptureService creates the capture loop.
func NewCaptureService(deps CaptureDeps, cfg config.CaptureConfig, filesDir string, loc *time.Location, logger *zap.Logger) CaptureService {
	if loc == nil {
		loc = time.Local
	}
	if cfg.JPEGQuality <= 0 {
		cfg.JPEGQuality = 50
	}
	if cfg.MaxConsecutiveFailures <= 0 {
		cfg.MaxConsecutiveFailures = 3
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = 20
	}
	warnEvery := cfg.LowStorageWarnEvery
	if warnEvery <= 0 {
		warnEvery = 30 * time.Minute
	}
	return &captureService{
		CaptureDeps: deps,
		cfg:         cfg,
		filesDir:    filesDir,
		loc:         loc,
		logger:      logger.Named("capture-service"),
		now:         time.Now,
		intervalFor: config.IntervalForFPS,
		permit:      semaphore.NewWeighted(1),
		lowStorage:  rate.NewLimiter(rate.Every(warnEvery), 1),
	}
}

var _ CaptureService = (*captureService)(nil)

func (s *captureService) Start(ctx context.Context) error {
	if !s.permit.TryAcquire(1) {
		return apperrors.ErrCaptureAlreadyRunning
	}

	if !s.Device.ProjectionValid() {
		s.permit.Release(1)
		s.projectionInvalid(ctx, "capture grant missing at start")
		return apperrors.ErrPermissionRevoked
	}

	if err := s.Frames.Reset(ctx); err != nil {
		s.permit.Release(1)
		return fmt.Errorf("failed to open frame source: %w", err)
	}

	interval := config.DefaultCaptureInterval
	if settings, err := s.Settings.Get(ctx); err != nil {
		s.logger.Warn("Failed to load settings, using default interval", zap.Error(err))
	} else {
		interval = s.intervalFor(settings.FPS)
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	s.State.ProjectionInvalid.Set(false)
	s.State.CaptureRestarts.Set(0)
	s.State.CaptureInterval.Set(interval)
	s.State.IsRecording.Set(true)

	s.logger.Info("Capture loop started", zap.Duration("interval", interval))
	go s.run(loopCtx, interval, done)
	return nil
}

func (s *captureService) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *captureService) IsRunning() bool {
	return s.State.IsRecording.Get()
}

func (s *captureService) run(ctx context.Context, interval time.Duration, done chan struct{}) {
	defer close(done)
	defer s.permit.Release(1)
	defer s.teardown(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	base := interval
	failures, restarts := 0, 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		err := s.CaptureTick(ctx)
		switch {
		case err == nil:
			failures = 0
			continue
		case ctx.Err() != nil:
			return
		case errors.Is(err, apperrors.ErrPermissionRevoked):
			return
		case errors.Is(err, errTickSkipped):
			s.logger.Debug("Capture tick skipped", zap.Error(err))
			continue
		}

		failures++
		s.logger.Warn("Capture tick failed",
			zap.Int("consecutive_failures", failures),
			zap.Error(err))
		if failures < s.cfg.MaxConsecutiveFailures {
			continue
		}

		failures = 0
		restarts++
		s.State.CaptureRestarts.Set(restarts)
		if restarts > s.cfg.MaxRestarts {
			s.projectionInvalid(ctx, fmt.Sprintf("capture gave up after %d restarts", s.cfg.MaxRestarts))
			return
		}

		if !s.restart(ctx, restarts) {
			return
		}
		if next := restartInterval(base, restarts); next != interval {
			interval = next
			ticker.Reset(interval)
			s.State.CaptureInterval.Set(interval)
			s.logger.Info("Capture interval backed off",
				zap.Int("restarts", restarts),
				zap.Duration("interval", interval))
		}
	}
}

// teardown runs when the loop exits, whether stopped or given up.
func (s *captureService) teardown(done chan struct{}) {
	s.State.IsRecording.Set(false)
	if err := s.Frames.Close(); err != nil {
		s.logger.Warn("Failed to close frame source", zap.Error(err))
	}

	s.mu.Lock()
	if s.done == done {
		s.cancel()
		s.cancel, s.done = nil, nil
	}
	s.mu.Unlock()
	s.logger.Info("Capture loop stopped")
}

// restart waits the restart delay and resets the frame source. Returns false
// when ctx ended while waiting.
func (s *captureService) restart(ctx context.Context, restarts int) bool {
	user := currentOwner(ctx, s.Users, s.logger)
	recordEvent(ctx, s.Logs, s.logger, models.LogEventCaptureRestart,
		fmt.Sprintf("restart %d after consecutive failures", restarts), user.Email)

	select {
	case <-ctx.Done():
		return false
	case <-time.After(s.cfg.RestartDelay):
	}

	if err := s.Frames.Reset(ctx); err != nil {
		s.logger.Warn("Failed to reset frame source", zap.Error(err))
	}
	return true
}

// restartInterval is the backoff ladder: 10s after 5 restarts, 30s after 10,
// 90s after 15.
func restartInterval(base time.Duration, restarts int) time.Duration {
	switch {
	case restarts >= 15:
		return 90 * time.Second
	case restarts >= 10:
		return 30 * time.Second
	case restarts >= 5:
		return 10 * time.Second
	default:
		return base
	}
}

func (s *captureService) projectionInvalid(ctx context.Context, reason string) {
	s.State.ProjectionInvalid.Set(true)
	user := currentOwner(ctx, s.Users, s.logger)
	recordEvent(ctx, s.Logs, s.logger, models.LogEventProjectionInvalid, reason, user.Email)
	s.logger.Error("Capture grant invalid", zap.String("reason", reason))
}

func (s *captureService) CaptureTick(ctx context.Context) error {
	if !s.Device.ProjectionValid() {
		s.projectionInvalid(ctx, "capture grant revoked")
		return apperrors.ErrPermissionRevoked
	}

	locked := s.Device.IsLocked()
	s.State.ScreenLocked.Set(locked)
	if locked {
		return nil
	}

	now := s.now()
	app := s.Device.Foreground()
	user := currentOwner(ctx, s.Users, s.logger)
	sessionID, depth := s.Tracker.Current(ctx)

	record := &models.Screenshot{
		User:                    user.Email,
		CurrentAppInUse:         app.Package,
		CurrentAppRealNameInUse: app.Name,
		SessionID:               models.StringPtr(sessionID),
		EpochTimestamp:          now.UnixMilli(),
		Timestamp:               models.FormatUTC(now),
		LocalTimestamp:          now.In(s.loc).Format(localTimestampLayout),
		Type:                    models.ScreenshotTypeCapture,
		SessionDepth:            &depth,
	}

	restricted, err := s.Restricted.IsRestricted(ctx, app.Package)
	if err != nil {
		return fmt.Errorf("failed to check restricted apps: %w", err)
	}
	if restricted {
		text := models.RestrictedPlaceholderText
		record.IsAppRestricted = true
		record.Text = &text
		return s.persist(ctx, record)
	}

	if err := s.checkStorage(ctx, user.Email); err != nil {
		return err
	}

	img, err := s.acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire frame: %w", err)
	}

	name := fmt.Sprintf("img_%sScreenshot_%s.jpg", uuid.NewString(), now.In(s.loc).Format(captureTimeLayout))
	path := filepath.Join(s.filesDir, name)
	if err := s.writeJPEG(path, img); err != nil {
		return fmt.Errorf("%w: %w", errTickSkipped, err)
	}
	record.FileName = name
	record.FilePath = path

	if err := s.persist(ctx, record); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func (s *captureService) persist(ctx context.Context, record *models.Screenshot) error {
	if err := s.Screenshots.Create(ctx, record); err != nil {
		return fmt.Errorf("failed to save screenshot: %w", err)
	}
	if _, err := s.Tracker.CaptureRecorded(ctx); err != nil {
		s.logger.Warn("Failed to rotate session", zap.Error(err))
	}
	return nil
}

// checkStorage skips the tick when free space is below the configured floor.
func (s *captureService) checkStorage(ctx context.Context, user string) error {
	free, err := s.Storage.FreePercent(ctx)
	if err != nil {
		s.logger.Debug("Storage probe failed, capturing anyway", zap.Error(err))
		return nil
	}
	if free >= s.cfg.MinFreeStoragePercent {
		s.State.LowStorage.Set(false)
		return nil
	}

	s.State.LowStorage.Set(true)
	if s.lowStorage.Allow() {
		msg := fmt.Sprintf("free storage %.1f%% below %.1f%%", free, s.cfg.MinFreeStoragePercent)
		recordEvent(ctx, s.Logs, s.logger, models.LogEventLowStorage, msg, user)
		s.logger.Warn("Low storage, skipping captures", zap.Float64("free_percent", free))
	}
	return fmt.Errorf("%w: %w", errTickSkipped, apperrors.ErrLowStorage)
}

func (s *captureService) acquire(ctx context.Context) (image.Image, error) {
	timeout := s.cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	return retry.DoWithResult(ctx, retry.FixedConfig(s.cfg.FrameRetryAttempts, s.cfg.FrameRetryDelay), func() (image.Image, error) {
		return s.Frames.Acquire(ctx)
	})
}

func (s *captureService) writeJPEG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create capture file: %w", err)
	}
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: s.cfg.JPEGQuality}); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("failed to encode capture: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("failed to write capture: %w", err)
	}
	return nil
}
