package tools

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
)

// ErrorResponse represents a structured error in tool results.
// Returned as a tool result so the caller sees the error details
// instead of a bare protocol error.
type ErrorResponse struct {
	Error   bool   `json:"error"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// NewErrorResult creates a tool result containing a structured error.
// Use this for recoverable errors the caller can act on (bad parameters,
// a pass that is already running). System failures still return Go errors.
//
// Example:
//
//	if pageSize < 1 {
//	    return NewErrorResult("invalid_parameters", "page_size must be positive"), nil
//	}
func NewErrorResult(code, message string) *mcp.CallToolResult {
	return NewErrorResultWithDetails(code, message, nil)
}

// NewErrorResultWithDetails creates an error result with additional context.
func NewErrorResultWithDetails(code, message string, details any) *mcp.CallToolResult {
	resp := ErrorResponse{
		Error:   true,
		Code:    code,
		Message: message,
		Details: details,
	}
	jsonBytes, _ := json.Marshal(resp)
	result := mcp.NewToolResultText(string(jsonBytes))
	result.IsError = true
	return result
}

// NewPassErrorResult maps the expected refusals of a pipeline pass to an
// error result. Returns nil when err is an actual failure.
func NewPassErrorResult(err error) *mcp.CallToolResult {
	switch {
	case errors.Is(err, apperrors.ErrPassInProgress):
		return NewErrorResult("pass_in_progress", "another pass of this kind is running")
	case errors.Is(err, apperrors.ErrNoNetwork):
		return NewErrorResult("no_network", "network is unreachable")
	case errors.Is(err, apperrors.ErrUploadConstraintsUnmet):
		return NewErrorResult("constraints_unmet", err.Error())
	case errors.Is(err, apperrors.ErrPermissionRevoked):
		return NewErrorResult("permission_revoked", "capture permission must be granted again on the device")
	}
	return nil
}

// inputErrorPatterns are substrings of errors caused by caller input rather
// than a server failure.
var inputErrorPatterns = []string{
	"not found",
	"invalid",
	"must be",
	"missing required",
	"cannot be empty",
}

// IsInputError returns true if the error appears to be caused by user input
// or is an expected pass refusal. These are logged at DEBUG, not ERROR.
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	if NewPassErrorResult(err) != nil {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range inputErrorPatterns {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}
