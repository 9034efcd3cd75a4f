package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/device"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
)

// Task names, also used to deduplicate pending triggers.
const (
	TaskSegmentPass = "segment-pass"
	TaskOcrPass     = "ocr-pass"
	TaskZipPass     = "zip-pass"
	TaskUploadPass  = "upload-pass"
)

// ioLaneWidth lets a zip pass and an upload pass overlap.
const ioLaneWidth = 2

// SchedulerDeps are the collaborators of the pipeline scheduler.
type SchedulerDeps struct {
	DB           *database.DB
	Capture      CaptureService
	Tracker      *SessionTracker
	Segments     SegmentService
	Ocr          OcrService
	Zip          ZipService
	Upload       UploadService
	Screenshots  repositories.ScreenshotRepository
	Sessions     repositories.SessionRepository
	AppSegments  repositories.AppSegmentRepository
	Events       repositories.AccessibilityEventRepository
	Manifests    repositories.ZipManifestRepository
	Logs         repositories.LogRepository
	Users        repositories.UserRepository
	Stats        repositories.UploadStatsRepository
	Connectivity device.Connectivity
	Power        device.PowerSource
	Duplicates   *status.DuplicateTracker
	State        *status.State
	Mirror       *status.RedisMirror
}

// PipelineScheduler fires the OCR, zip and upload passes on their intervals
// and on demand, running each firing as a workqueue task.
type PipelineScheduler struct {
	SchedulerDeps
	cfg         config.ScheduleConfig
	zipPageSize int
	filesDir    string
	queue       *workqueue.Queue
	logger      *zap.Logger

	mu        sync.Mutex
	unmetered bool
}

// NewPipelineScheduler creates a scheduler. Call Run to start the tickers.
func NewPipelineScheduler(deps SchedulerDeps, cfg config.ScheduleConfig, zipPageSize int, filesDir string, logger *zap.Logger) *PipelineScheduler {
	return &PipelineScheduler{
		SchedulerDeps: deps,
		cfg:           cfg,
		zipPageSize:   zipPageSize,
		filesDir:      filesDir,
		queue:         workqueue.New(logger, workqueue.WithStrategy(workqueue.NewThrottledIOStrategy(ioLaneWidth))),
		logger:        logger.Named("pipeline-scheduler"),
	}
}

// Run drives the periodic passes until ctx is cancelled.
func (p *PipelineScheduler) Run(ctx context.Context) error {
	p.logger.Info("Pipeline scheduler started",
		zap.Duration("ocr_interval", p.cfg.OcrInterval),
		zap.Duration("zip_interval", p.cfg.ZipInterval),
		zap.Duration("upload_interval", p.cfg.UploadInterval),
		zap.Duration("metrics_interval", p.cfg.MetricsInterval))

	ocrTicker := newTicker(p.cfg.OcrInterval)
	defer ocrTicker.Stop()
	zipTicker := newTicker(p.cfg.ZipInterval)
	defer zipTicker.Stop()
	uploadTicker := newTicker(p.cfg.UploadInterval)
	defer uploadTicker.Stop()
	metricsTicker := newTicker(p.cfg.MetricsInterval)
	defer metricsTicker.Stop()
	statusTicker := newTicker(p.cfg.StatusInterval)
	defer statusTicker.Stop()

	p.RefreshStatus(ctx)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Pipeline scheduler stopped")
			return nil
		case <-ocrTicker.C:
			p.TriggerOcr(false)
		case <-zipTicker.C:
			p.TriggerZip()
		case <-uploadTicker.C:
			p.TriggerUpload()
		case <-metricsTicker.C:
			p.RecordMetrics(ctx)
		case <-statusTicker.C:
			p.RefreshStatus(ctx)
		}
	}
}

// newTicker returns a ticker, treating non-positive intervals as one hour.
func newTicker(d time.Duration) *time.Ticker {
	if d <= 0 {
		d = time.Hour
	}
	return time.NewTicker(d)
}

// Wait cancels queued passes and waits for running ones, up to ctx.
func (p *PipelineScheduler) Wait(ctx context.Context) error {
	return p.queue.Drain(ctx)
}

// Tasks returns snapshots of recent pass tasks.
func (p *PipelineScheduler) Tasks() []workqueue.TaskSnapshot {
	return p.queue.GetTasks()
}

// SetMaintenance toggles maintenance mode. Triggers are ignored while it is on.
func (p *PipelineScheduler) SetMaintenance(on bool) {
	if p.State.Maintenance.Set(on) {
		p.logger.Info("Maintenance mode changed", zap.Bool("maintenance", on))
	}
}

func (p *PipelineScheduler) enqueue(name string, cpuBound bool, fn func(ctx context.Context) error) bool {
	if p.State.Maintenance.Get() {
		p.logger.Debug("Maintenance mode, trigger ignored", zap.String("task", name))
		return false
	}
	return p.queue.EnqueueUnique(workqueue.NewFuncTask(name, cpuBound, fn))
}

// TriggerSegments queues segment derivation for closed sessions.
func (p *PipelineScheduler) TriggerSegments() bool {
	return p.enqueue(TaskSegmentPass, false, func(ctx context.Context) error {
		_, err := p.Segments.SaveAllSessionSegments(ctx)
		return err
	})
}

// TriggerOcr queues an OCR pass. Manual passes ignore the backlog minimum.
func (p *PipelineScheduler) TriggerOcr(manual bool) bool {
	return p.enqueue(TaskOcrPass, true, func(ctx context.Context) error {
		_, err := p.Ocr.RunOcrPass(ctx, manual)
		return err
	})
}

// TriggerZip queues a zip pass.
func (p *PipelineScheduler) TriggerZip() bool {
	return p.enqueue(TaskZipPass, false, func(ctx context.Context) error {
		_, err := p.Zip.ZipBatch(ctx, p.zipPageSize)
		return err
	})
}

// TriggerUpload queues an upload pass. Unmet constraints and a pass already
// in flight are not failures.
func (p *PipelineScheduler) TriggerUpload() bool {
	return p.enqueue(TaskUploadPass, false, func(ctx context.Context) error {
		_, err := p.Upload.UploadPass(ctx)
		if errors.Is(err, apperrors.ErrUploadConstraintsUnmet) || errors.Is(err, apperrors.ErrPassInProgress) {
			p.logger.Debug("Upload pass skipped", zap.Error(err))
			return nil
		}
		return err
	})
}

// OnScreenUnlocked starts a new capture session.
func (p *PipelineScheduler) OnScreenUnlocked(ctx context.Context) error {
	p.State.ScreenLocked.Set(false)
	sessionID, err := p.Tracker.OnScreenUnlocked(ctx)
	if err != nil {
		return fmt.Errorf("failed to close previous session: %w", err)
	}
	p.logger.Debug("Screen unlocked", zap.String("session_id", sessionID))
	return nil
}

// OnScreenOff closes the session, then queues segment derivation and OCR.
func (p *PipelineScheduler) OnScreenOff(ctx context.Context) error {
	p.State.ScreenLocked.Set(true)
	session, err := p.Tracker.OnScreenOff(ctx)
	if err != nil {
		return fmt.Errorf("failed to finalize session: %w", err)
	}
	if session != nil {
		p.logger.Debug("Screen off, session closed",
			zap.String("session_id", session.SessionID),
			zap.Int64("duration_ms", session.SessionDuration))
	}
	p.TriggerSegments()
	p.TriggerOcr(false)
	return nil
}

// RefreshStatus recomputes the counters shown to the user, publishes the
// status mirror and fires an upload the first time an unmetered network
// appears.
func (p *PipelineScheduler) RefreshStatus(ctx context.Context) {
	if n, err := p.Screenshots.CountEligibleForOcr(ctx); err == nil {
		p.State.OcrBacklog.Set(n)
	}
	if n, err := p.Manifests.Count(ctx); err == nil {
		strays, _ := filepath.Glob(filepath.Join(p.filesDir, LogDataPrefix+"*.csv"))
		p.State.NotUploadedCount.Set(n + len(strays))
	}

	unmetered := p.Connectivity.IsConnected(ctx) && p.Connectivity.IsUnmetered(ctx)
	p.mu.Lock()
	becameUnmetered := unmetered && !p.unmetered
	p.unmetered = unmetered
	p.mu.Unlock()
	if becameUnmetered {
		p.logger.Info("Unmetered network available, uploading now")
		p.TriggerUpload()
	}

	if p.Mirror.Enabled() {
		if err := p.Mirror.Publish(ctx, p.State.Snapshot()); err != nil {
			p.logger.Warn("Failed to publish status", zap.Error(err))
		}
	}
}

// RecordMetrics writes the periodic health events to the log table.
func (p *PipelineScheduler) RecordMetrics(ctx context.Context) {
	user := currentOwner(ctx, p.Users, p.logger)
	record := func(event, msg string) {
		recordEvent(ctx, p.Logs, p.logger, event, msg, user.Email)
	}

	record(models.LogEventIsRecording, strconv.FormatBool(p.State.IsRecording.Get()))
	record(models.LogEventIsConnected, strconv.FormatBool(p.Connectivity.IsConnected(ctx)))
	record(models.LogEventIsPowered, strconv.FormatBool(p.Power.IsCharging(ctx)))

	counts, err := p.Screenshots.Counts(ctx)
	if err != nil {
		p.logger.Warn("Failed to count screenshots for metrics", zap.Error(err))
		return
	}
	record(models.LogEventOcrNot, strconv.Itoa(counts.Unrestricted-counts.OcrComplete))
	record(models.LogEventOcrDone, strconv.Itoa(counts.OcrComplete))
}

// ClearLocalData stops capture and removes every pipeline row and file.
// Capture stays stopped afterwards. Settings, the owner and the restricted
// app list are kept.
func (p *PipelineScheduler) ClearLocalData(ctx context.Context) error {
	p.SetMaintenance(true)
	defer p.SetMaintenance(false)

	p.Capture.Stop()
	if _, err := p.Tracker.OnScreenOff(ctx); err != nil {
		p.logger.Warn("Failed to close session before clearing", zap.Error(err))
	}

	err := p.DB.WithTx(ctx, func(ctx context.Context) error {
		clears := []func(context.Context) error{
			p.Screenshots.DeleteAll,
			p.Events.DeleteAll,
			p.AppSegments.DeleteAll,
			p.Sessions.DeleteAll,
			p.Manifests.DeleteAll,
			p.Logs.DeleteAll,
			p.Stats.DeleteAll,
		}
		for _, del := range clears {
			if err := del(ctx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to clear local data: %w", err)
	}

	removed, err := removePipelineFiles(p.filesDir)
	if err != nil {
		return fmt.Errorf("failed to remove local files: %w", err)
	}
	p.Duplicates.Reset()
	p.State.OcrBacklog.Set(0)
	p.State.NotUploadedCount.Set(0)

	p.logger.Info("Local data cleared", zap.Int("files_removed", removed))
	return nil
}

func removePipelineFiles(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !isPipelineFile(entry.Name()) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// isPipelineFile reports whether name is a capture, batch or archive file.
func isPipelineFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".zip", ".csv":
		return true
	}
	return false
}
