package apperrors

import "errors"

var (
	ErrNotFound               = errors.New("not found")
	ErrPassInProgress         = errors.New("pass already in progress")
	ErrPermissionRevoked      = errors.New("capture permission revoked")
	ErrCaptureAlreadyRunning  = errors.New("capture loop already running")
	ErrCaptureNotRunning      = errors.New("capture loop not running")
	ErrFrameUnavailable       = errors.New("frame unavailable")
	ErrLowStorage             = errors.New("storage below safety margin")
	ErrNoNetwork              = errors.New("network unreachable")
	ErrUploadConstraintsUnmet = errors.New("upload constraints not met")
	ErrEngineNotInitialized   = errors.New("ocr engine not initialized")
)
