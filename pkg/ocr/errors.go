package ocr

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sashabaranov/go-openai"
)

// Error is a classified recognition failure.
type Error struct {
	Message    string
	Retryable  bool
	StatusCode int
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable implements retry.RetryableError.
func (e *Error) IsRetryable() bool {
	return e.Retryable
}

// classifyError maps go-openai failures onto Error.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var ocrErr *Error
	if errors.As(err, &ocrErr) {
		return ocrErr
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Message: "recognition timed out", Retryable: true, Cause: err}
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Message: "authentication failed", StatusCode: status, Cause: err}
	case status == http.StatusNotFound:
		return &Error{Message: "model or endpoint not found", StatusCode: status, Cause: err}
	case status == http.StatusTooManyRequests:
		return &Error{Message: "rate limited", Retryable: true, StatusCode: status, Cause: err}
	case status >= 500:
		return &Error{Message: "server error", Retryable: true, StatusCode: status, Cause: err}
	case status > 0:
		return &Error{Message: "request rejected", StatusCode: status, Cause: err}
	}
	return &Error{Message: "recognition failed", Retryable: true, Cause: err}
}
