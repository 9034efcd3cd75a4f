package services

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/ocr"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
)

// gcHintThreshold is the processed count after which a pass asks for a GC.
const gcHintThreshold = 50

// OcrService extracts text from captured screenshots.
type OcrService interface {
	// RunOcrPass recognizes a bounded batch of pending screenshots. Scheduled
	// passes wait for a minimum backlog; manual passes run regardless. A pass
	// already in progress makes this call a no-op.
	RunOcrPass(ctx context.Context, manual bool) (*PassResult, error)
}

type ocrService struct {
	screenshots repositories.ScreenshotRepository
	users       repositories.UserRepository
	logs        repositories.LogRepository
	engine      ocr.Engine
	state       *status.State
	cfg         config.OCRConfig
	logger      *zap.Logger

	mu sync.Mutex
}

// NewOcrService creates an OcrService.
func NewOcrService(
	screenshots repositories.ScreenshotRepository,
	users repositories.UserRepository,
	logs repositories.LogRepository,
	engine ocr.Engine,
	state *status.State,
	cfg config.OCRConfig,
	logger *zap.Logger,
) OcrService {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.FetchLimit <= 0 {
		cfg.FetchLimit = 200
	}
	return &ocrService{
		screenshots: screenshots,
		users:       users,
		logs:        logs,
		engine:      engine,
		state:       state,
		cfg:         cfg,
		logger:      logger.Named("ocr-service"),
	}
}

var _ OcrService = (*ocrService)(nil)

func (s *ocrService) RunOcrPass(ctx context.Context, manual bool) (*PassResult, error) {
	result := &PassResult{RunID: uuid.NewString()}
	logger := s.logger.With(zap.String("run_id", result.RunID))

	if !s.mu.TryLock() {
		logger.Info("OCR pass already running, skipping")
		result.Skipped = true
		return result, nil
	}
	defer s.mu.Unlock()
	defer s.refreshBacklog(ctx)

	backlog, err := s.screenshots.CountEligibleForOcr(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to count OCR backlog: %w", err)
	}
	s.state.OcrBacklog.Set(backlog)
	if backlog == 0 || (!manual && backlog < s.cfg.MinBacklog) {
		logger.Debug("OCR backlog below threshold",
			zap.Int("backlog", backlog),
			zap.Int("min_backlog", s.cfg.MinBacklog))
		result.Skipped = true
		return result, nil
	}

	if err := s.engine.Init(ctx, s.cfg.DataPath, s.cfg.Language, s.cfg.Mode); err != nil {
		return result, fmt.Errorf("failed to initialize OCR engine: %w", err)
	}
	if !s.cfg.KeepWarm {
		defer s.engine.Shutdown()
	}

	rows, err := s.screenshots.FetchEligibleForOcr(ctx, s.cfg.FetchLimit)
	if err != nil {
		return result, fmt.Errorf("failed to fetch OCR backlog: %w", err)
	}

	user := currentOwner(ctx, s.users, logger)
	for start := 0; start < len(rows); start += s.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := min(start+s.cfg.BatchSize, len(rows))
		for _, shot := range rows[start:end] {
			if err := s.recognize(ctx, logger, shot, user); err != nil {
				if ctx.Err() != nil {
					return result, ctx.Err()
				}
				result.Failed++
				continue
			}
			result.Processed++
		}
		result.Batches++
	}

	s.state.LastOcrPass.Set(time.Now())
	if result.Processed >= gcHintThreshold {
		runtime.GC()
	}

	logger.Info("OCR pass completed",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int("backlog", backlog))
	return result, nil
}

func (s *ocrService) recognize(ctx context.Context, logger *zap.Logger, shot *models.Screenshot, user *models.User) error {
	if _, err := os.Stat(shot.FilePath); shot.FilePath == "" || errors.Is(err, fs.ErrNotExist) {
		// Left pending so a later pass retries it.
		recordEvent(ctx, s.logs, logger, models.LogEventOcrProcess,
			fmt.Sprintf("%s: image file missing", shot.FileName), user.Email)
		logger.Warn("Screenshot file missing, OCR deferred",
			zap.Int64("screenshot_id", shot.ID),
			zap.String("file", shot.FileName))
		return fmt.Errorf("screenshot %d: %w", shot.ID, fs.ErrNotExist)
	}

	recCtx := ctx
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		recCtx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	text, err := s.engine.Recognize(recCtx, shot.FilePath)
	if err != nil {
		recordEvent(ctx, s.logs, logger, models.LogEventOcrProcess,
			fmt.Sprintf("%s: %s", shot.FileName, logging.ScrubStackTrace(err, nil)), user.Email)
		logger.Warn("OCR failed",
			zap.Int64("screenshot_id", shot.ID),
			zap.Error(err))
		return err
	}

	text = strings.ToLower(logging.CleanText(text))
	if err := s.screenshots.SetOcrComplete(ctx, shot.ID, text); err != nil {
		logger.Error("Failed to store OCR text",
			zap.Int64("screenshot_id", shot.ID),
			zap.Error(err))
		return err
	}

	if !user.UploadImages {
		if err := os.Remove(shot.FilePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("Failed to delete recognized image", zap.String("file", shot.FileName), zap.Error(err))
		}
	}
	return nil
}

func (s *ocrService) refreshBacklog(ctx context.Context) {
	if n, err := s.screenshots.CountEligibleForOcr(context.WithoutCancel(ctx)); err == nil {
		s.state.OcrBacklog.Set(n)
	}
}
