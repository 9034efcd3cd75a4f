package ocr

import (
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
)

const transcribePrompt = "Transcribe all text visible in this screenshot. " +
	"Reply with the text only, in reading order, without commentary."

// OpenAIConfig holds the vision endpoint settings.
type OpenAIConfig struct {
	Endpoint string // Base URL, e.g., "https://api.openai.com/v1"
	Model    string
	APIKey   string // Optional for local endpoints
}

// OpenAIEngine sends frames to an OpenAI-compatible vision model.
type OpenAIEngine struct {
	cfg    OpenAIConfig
	logger *zap.Logger

	mu       sync.RWMutex
	client   *openai.Client
	language string
}

var _ Engine = (*OpenAIEngine)(nil)

// NewOpenAIEngine validates cfg. The HTTP client is created by Init.
func NewOpenAIEngine(cfg *OpenAIConfig, logger *zap.Logger) (*OpenAIEngine, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &OpenAIEngine{cfg: *cfg, logger: logger.Named("ocr-openai")}, nil
}

func (e *OpenAIEngine) Init(_ context.Context, _, language string, _ int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.client != nil {
		return nil
	}
	clientConfig := openai.DefaultConfig(e.cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(e.cfg.Endpoint, "/")
	e.client = openai.NewClientWithConfig(clientConfig)
	e.language = language

	e.logger.Info("OCR engine initialized", zap.String("model", e.cfg.Model))
	return nil
}

func (e *OpenAIEngine) Recognize(ctx context.Context, imagePath string) (string, error) {
	e.mu.RLock()
	client, language := e.client, e.language
	e.mu.RUnlock()
	if client == nil {
		return "", apperrors.ErrEngineNotInitialized
	}

	data, err := os.ReadFile(imagePath)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	prompt := transcribePrompt
	if language != "" {
		prompt += " Expected language: " + language + "."
	}

	start := time.Now()
	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: e.cfg.Model,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: prompt},
				{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{
					URL:    dataURL(imagePath, data),
					Detail: openai.ImageURLDetailAuto,
				}},
			},
		}},
		Temperature: 0,
	})
	if err != nil {
		e.logger.Error("OCR request failed",
			zap.String("file", filepath.Base(imagePath)),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", &Error{Message: "no choices in response", Retryable: true}
	}

	e.logger.Debug("OCR request completed",
		zap.String("file", filepath.Base(imagePath)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Duration("elapsed", time.Since(start)))

	return resp.Choices[0].Message.Content, nil
}

func (e *OpenAIEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.client = nil
}

func (e *OpenAIEngine) IsInitialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.client != nil
}

func dataURL(path string, data []byte) string {
	mimeType := mime.TypeByExtension(strings.ToLower(filepath.Ext(path)))
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
