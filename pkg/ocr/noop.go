package ocr

import (
	"context"
	"sync"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
)

// NoopEngine returns fixed text for every image. Used for dry runs and tests.
type NoopEngine struct {
	text string

	mu          sync.Mutex
	initialized bool
	inits       int
	calls       int
}

var _ Engine = (*NoopEngine)(nil)

// NewNoopEngine returns an engine that recognizes text in every image.
func NewNoopEngine(text string) *NoopEngine {
	return &NoopEngine{text: text}
}

func (e *NoopEngine) Init(context.Context, string, string, int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		e.initialized = true
		e.inits++
	}
	return nil
}

func (e *NoopEngine) Recognize(ctx context.Context, _ string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return "", apperrors.ErrEngineNotInitialized
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	e.calls++
	return e.text, nil
}

func (e *NoopEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
}

func (e *NoopEngine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// Calls returns how many images were recognized.
func (e *NoopEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// Inits returns how many times the engine went from idle to initialized.
func (e *NoopEngine) Inits() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inits
}
