package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
)

// CommandEngine runs a tesseract-compatible binary once per image.
type CommandEngine struct {
	binary string
	logger *zap.Logger

	mu          sync.RWMutex
	path        string // resolved binary, empty until Init
	dataPath    string
	language    string
	mode        int
	initialized bool
}

var _ Engine = (*CommandEngine)(nil)

// NewCommandEngine creates an engine for the given binary name or path.
func NewCommandEngine(binary string, logger *zap.Logger) *CommandEngine {
	if binary == "" {
		binary = "tesseract"
	}
	return &CommandEngine{binary: binary, logger: logger.Named("ocr-command")}
}

func (e *CommandEngine) Init(_ context.Context, dataPath, language string, mode int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}
	path, err := exec.LookPath(e.binary)
	if err != nil {
		return fmt.Errorf("failed to locate ocr binary %q: %w", e.binary, err)
	}
	e.path = path
	e.dataPath = dataPath
	e.language = language
	e.mode = mode
	e.initialized = true

	e.logger.Info("OCR engine initialized",
		zap.String("binary", path),
		zap.String("language", language),
		zap.Int("mode", mode))
	return nil
}

func (e *CommandEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	e.mu.RLock()
	if !e.initialized {
		e.mu.RUnlock()
		return "", apperrors.ErrEngineNotInitialized
	}
	args := []string{imagePath, "stdout"}
	if e.language != "" {
		args = append(args, "-l", e.language)
	}
	args = append(args, "--oem", strconv.Itoa(e.mode))
	if e.dataPath != "" {
		args = append(args, "--tessdata-dir", e.dataPath)
	}
	path := e.path
	e.mu.RUnlock()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", &Error{Message: "recognition timed out", Retryable: true, Cause: ctx.Err()}
		}
		return "", &Error{
			Message: "ocr command failed: " + logging.TruncateString(stderr.String(), 200),
			Cause:   err,
		}
	}
	return stdout.String(), nil
}

func (e *CommandEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
}

func (e *CommandEngine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}
