package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// serveMCP sends reqBody through the logger to a handler answering respBody.
func serveMCP(t *testing.T, reqBody, respBody string) []observer.LoggedEntry {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respBody))
	})

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(reqBody))
	rec := httptest.NewRecorder()
	MCPRequestLogger(zap.New(core))(handler).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	return logs.All()
}

func TestMCPRequestLogger_ZipPass(t *testing.T) {
	entries := serveMCP(t,
		`{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run_zip_pass","arguments":{"page_size":50}}}`,
		`{"jsonrpc":"2.0","id":1,"result":{"content":[{"type":"text","text":"{\"batches\":1}"}]}}`)
	require.Len(t, entries, 2)

	req := entries[0].ContextMap()
	assert.Equal(t, "MCP request", entries[0].Message)
	assert.Equal(t, "tools/call", req["method"])
	assert.Equal(t, "run_zip_pass", req["tool"])
	assert.Equal(t, map[string]any{"page_size": float64(50)}, req["arguments"])

	assert.Equal(t, "MCP response success", entries[1].Message)
	assert.Equal(t, "run_zip_pass", entries[1].ContextMap()["tool"])
}

func TestMCPRequestLogger_PassBusyError(t *testing.T) {
	entries := serveMCP(t,
		`{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"run_ocr_pass","arguments":{"manual":true}}}`,
		`{"jsonrpc":"2.0","id":2,"error":{"code":-32603,"message":"pass already in progress"}}`)
	require.Len(t, entries, 2)

	resp := entries[1].ContextMap()
	assert.Equal(t, "MCP response error", entries[1].Message)
	assert.Equal(t, "run_ocr_pass", resp["tool"])
	assert.Equal(t, int64(-32603), resp["error_code"])
	assert.Equal(t, "pass already in progress", resp["error_message"])
}

func TestMCPRequestLogger_ScrubsUploadErrorMessage(t *testing.T) {
	entries := serveMCP(t,
		`{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"run_upload_pass"}}`,
		`{"jsonrpc":"2.0","id":3,"error":{"code":-32603,"message":"Put https://bucket/a.zip?X-Amz-Signature=s3cr3t: connection reset"}}`)
	require.Len(t, entries, 2)

	msg := entries[1].ContextMap()["error_message"].(string)
	assert.NotContains(t, msg, "s3cr3t")
	assert.Contains(t, msg, "connection reset")
}

func TestMCPRequestLogger_NilLoggerPassesThrough(t *testing.T) {
	called := false
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })

	req := httptest.NewRequest(http.MethodPost, "/mcp", bytes.NewBufferString(`{}`))
	MCPRequestLogger(nil)(handler).ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, called)
}

func TestMCPRequestLogger_MalformedRequestStillServed(t *testing.T) {
	entries := serveMCP(t, `{invalid json`, `{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"parse error"}}`)
	require.NotEmpty(t, entries)
	assert.Equal(t, "MCP response error", entries[len(entries)-1].Message)
}

func TestSanitizeArguments(t *testing.T) {
	result := sanitizeArguments(map[string]any{
		"upload_token":     "abc123",
		"Api_Key":          "sk-123",
		"broker_secret":    "hidden",
		"package_name":     "com.mail",
		"manual":           true,
		"page_size":        float64(50),
		"destination":      "https://storage.example.com/o?X-Amz-Signature=topsecret",
		"note":             strings.Repeat("x", 250),
		"credential_scope": "us-east-1",
	})

	assert.Equal(t, "[REDACTED]", result["upload_token"])
	assert.Equal(t, "[REDACTED]", result["Api_Key"])
	assert.Equal(t, "[REDACTED]", result["broker_secret"])
	assert.Equal(t, "[REDACTED]", result["credential_scope"])
	assert.Equal(t, "com.mail", result["package_name"])
	assert.Equal(t, true, result["manual"])
	assert.Equal(t, float64(50), result["page_size"])
	assert.NotContains(t, result["destination"], "topsecret")
	assert.Len(t, result["note"], maxLoggedArgument+len("..."))

	assert.Nil(t, sanitizeArguments(nil))
}
