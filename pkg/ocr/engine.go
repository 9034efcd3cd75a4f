// Package ocr provides text-recognition engines for captured frames. The
// pipeline treats every engine as a black box: a path in, text out.
package ocr

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
)

// Engine extracts text from an image file.
type Engine interface {
	// Init prepares the engine. Calling it again while initialized is a no-op.
	Init(ctx context.Context, dataPath, language string, mode int) error
	// Recognize returns the text found in the image at imagePath.
	Recognize(ctx context.Context, imagePath string) (string, error)
	// Shutdown releases engine resources. Init may be called again afterwards.
	Shutdown()
	IsInitialized() bool
}

// New builds the engine selected by cfg.Engine.
func New(cfg *config.OCRConfig, logger *zap.Logger) (Engine, error) {
	switch cfg.Engine {
	case config.OCREngineTesseract:
		return NewCommandEngine(cfg.TesseractPath, logger), nil
	case config.OCREngineOpenAI:
		return NewOpenAIEngine(&OpenAIConfig{
			Endpoint: cfg.Endpoint,
			Model:    cfg.Model,
			APIKey:   cfg.APIKey,
		}, logger)
	case config.OCREngineNoop:
		return NewNoopEngine(""), nil
	default:
		return nil, fmt.Errorf("unsupported ocr engine %q", cfg.Engine)
	}
}
