package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
	"github.com/ekaya-inc/ekaya-recorder/pkg/retry"
)

// DefaultTimeout bounds a single broker or storage request.
const DefaultTimeout = 60 * time.Second

// maxErrorBody bounds the response body kept on a StatusError.
const maxErrorBody = 512

// Transport is the object-storage boundary.
type Transport interface {
	// GetSignedDestination returns a URL the file can be PUT to. An empty URL
	// with a nil error means the broker declined the upload for now.
	GetSignedDestination(ctx context.Context, localPath, remotePath string) (string, error)
	PutBytes(ctx context.Context, url string, body []byte) error
}

// StatusError is a non-2xx response from the broker or the storage endpoint.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable implements retry.RetryableError.
func (e *StatusError) IsRetryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// HTTPTransport asks a broker for presigned URLs and PUTs the bytes there.
type HTTPTransport struct {
	httpClient *http.Client
	brokerURL  string
	token      string
	retryCfg   *retry.Config
	logger     *zap.Logger
}

var _ Transport = (*HTTPTransport)(nil)

// NewHTTPTransport creates a transport for the broker at brokerURL.
func NewHTTPTransport(brokerURL, token string, timeout time.Duration, logger *zap.Logger) *HTTPTransport {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPTransport{
		httpClient: &http.Client{Timeout: timeout},
		brokerURL:  brokerURL,
		token:      token,
		retryCfg:   retry.DefaultConfig(),
		logger:     logger.Named("upload-transport"),
	}
}

type signRequest struct {
	Path     string `json:"path"`
	FileName string `json:"file_name"`
}

type signResponse struct {
	URL string `json:"url"`
}

func (t *HTTPTransport) GetSignedDestination(ctx context.Context, localPath, remotePath string) (string, error) {
	endpoint, err := buildURL(t.brokerURL, "api", "v1", "uploads", "sign")
	if err != nil {
		return "", fmt.Errorf("failed to build URL: %w", err)
	}
	payload, err := json.Marshal(signRequest{Path: remotePath, FileName: filepath.Base(localPath)})
	if err != nil {
		return "", fmt.Errorf("failed to marshal sign request: %w", err)
	}

	var signed signResponse
	err = retry.DoIfRetryable(ctx, t.retryCfg, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if t.token != "" {
			req.Header.Set("Authorization", "Bearer "+t.token)
		}

		body, err := t.do(req, "signed URL request")
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, &signed); err != nil {
			return fmt.Errorf("failed to parse sign response: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	t.logger.Debug("Got signed destination",
		zap.String("remote_path", remotePath),
		zap.String("url", logging.SanitizeURL(signed.URL)))
	return signed.URL, nil
}

func (t *HTTPTransport) PutBytes(ctx context.Context, dest string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, dest, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.ContentLength = int64(len(body))

	if _, err := t.do(req, "upload"); err != nil {
		return err
	}

	t.logger.Debug("Uploaded object",
		zap.String("url", logging.SanitizeURL(dest)),
		zap.Int("bytes", len(body)))
	return nil
}

// do executes req and returns the body of a 2xx response.
func (t *HTTPTransport) do(req *http.Request, op string) ([]byte, error) {
	resp, err := t.httpClient.Do(req)
	if err != nil {
		if ctxErr := req.Context().Err(); ctxErr != nil {
			return nil, fmt.Errorf("failed to call %s: %w", op, ctxErr)
		}
		// The transport error embeds the request URL, which may be signed.
		return nil, fmt.Errorf("failed to call %s: %s", op, logging.SanitizeError(err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.logger.Error("Upload endpoint returned error",
			zap.String("op", op),
			zap.Int("status", resp.StatusCode))
		return nil, &StatusError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       logging.TruncateString(string(body), maxErrorBody),
		}
	}
	return body, nil
}

// buildURL constructs a URL by parsing the base and joining path segments.
func buildURL(baseURL string, pathSegments ...string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid base URL %q", baseURL)
	}

	segments := append([]string{u.Path}, pathSegments...)
	u.Path = path.Join(segments...)
	return u.String(), nil
}

// DisabledTransport declines every upload. Used when no broker is configured
// so archives accumulate locally until one is.
type DisabledTransport struct{}

var _ Transport = DisabledTransport{}

func (DisabledTransport) GetSignedDestination(context.Context, string, string) (string, error) {
	return "", nil
}

func (DisabledTransport) PutBytes(context.Context, string, []byte) error {
	return fmt.Errorf("upload disabled: no broker configured")
}
