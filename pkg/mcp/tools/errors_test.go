package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
)

// getTextContent extracts the text string from the first text content item
func getTextContent(result *mcp.CallToolResult) string {
	if len(result.Content) == 0 {
		return ""
	}
	jsonBytes, _ := json.Marshal(result.Content[0])
	var textContent struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	_ = json.Unmarshal(jsonBytes, &textContent)
	return textContent.Text
}

func decodeErrorResult(t *testing.T, result *mcp.CallToolResult) ErrorResponse {
	t.Helper()
	require.NotNil(t, result)
	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(getTextContent(result)), &errResp))
	return errResp
}

func TestNewErrorResult(t *testing.T) {
	result := NewErrorResult("test_error", "this is a test error")

	require.Len(t, result.Content, 1)
	assert.True(t, result.IsError)

	errResp := decodeErrorResult(t, result)
	assert.True(t, errResp.Error, "error field should be true")
	assert.Equal(t, "test_error", errResp.Code)
	assert.Equal(t, "this is a test error", errResp.Message)
	assert.Nil(t, errResp.Details, "details should be nil when not provided")
}

func TestNewErrorResultWithDetails(t *testing.T) {
	result := NewErrorResultWithDetails("invalid_parameters", "page_size out of range", map[string]any{"page_size": 0})

	errResp := decodeErrorResult(t, result)
	assert.Equal(t, "invalid_parameters", errResp.Code)
	details, ok := errResp.Details.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(0), details["page_size"])
}

func TestNewPassErrorResult(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"in progress", apperrors.ErrPassInProgress, "pass_in_progress"},
		{"no network", fmt.Errorf("%w: %w", apperrors.ErrUploadConstraintsUnmet, apperrors.ErrNoNetwork), "no_network"},
		{"metered", fmt.Errorf("%w: metered network", apperrors.ErrUploadConstraintsUnmet), "constraints_unmet"},
		{"revoked", apperrors.ErrPermissionRevoked, "permission_revoked"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCode, decodeErrorResult(t, NewPassErrorResult(tt.err)).Code)
		})
	}

	assert.Nil(t, NewPassErrorResult(errors.New("disk I/O error")))
}

func TestIsInputError(t *testing.T) {
	assert.False(t, IsInputError(nil))
	assert.True(t, IsInputError(apperrors.ErrPassInProgress))
	assert.True(t, IsInputError(errors.New("page_size must be between 1 and 500")))
	assert.True(t, IsInputError(fmt.Errorf("lookup: %w", apperrors.ErrNotFound)))
	assert.False(t, IsInputError(errors.New("database is locked")))
}
