package mcp

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/testhelpers"
)

func newAuditedServer(t *testing.T) (*Server, *AuditLogger, repositories.LogRepository) {
	t.Helper()
	db := testhelpers.NewSQLiteStore(t)
	logs := repositories.NewLogRepository(db)
	users := repositories.NewUserRepository(db)
	if err := users.Save(context.Background(), &models.User{Email: "owner@example.com"}); err != nil {
		t.Fatalf("failed to save owner: %v", err)
	}

	audit := NewAuditLogger(logs, users, zap.NewNop())
	s := NewServer("ekaya-recorder", "test", zap.NewNop(), server.WithHooks(audit.Hooks()))

	s.RegisterTool(mcplib.NewTool("run_zip_pass"), func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return mcplib.NewToolResultText(`{"processed":3}`), nil
	})
	s.RegisterTool(mcplib.NewTool("run_upload_pass"), func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return tools.NewPassErrorResult(apperrors.ErrPassInProgress), nil
	})
	s.RegisterTool(mcplib.NewTool("run_ocr_pass"), func(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		return nil, errors.New("database is locked")
	})
	return s, audit, logs
}

func callTool(s *Server, body string) {
	s.MCP().HandleMessage(context.Background(), []byte(body))
}

func TestAuditLogger_RecordsSuccessfulCall(t *testing.T) {
	s, audit, logs := newAuditedServer(t)

	callTool(s, `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"run_zip_pass","arguments":{"page_size":20}}}`)
	audit.Wait()

	events, err := logs.FetchOldest(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to fetch logs: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Event != models.LogEventMCPTool {
		t.Errorf("expected event %q, got %q", models.LogEventMCPTool, e.Event)
	}
	if e.User != "owner@example.com" {
		t.Errorf("expected owner email, got %q", e.User)
	}
	if !strings.Contains(e.Msg, "tool=run_zip_pass") || !strings.Contains(e.Msg, "page_size=20") {
		t.Errorf("unexpected message %q", e.Msg)
	}
}

func TestAuditLogger_RecordsErrorResult(t *testing.T) {
	s, audit, logs := newAuditedServer(t)

	callTool(s, `{"jsonrpc":"2.0","id":2,"method":"tools/call","params":{"name":"run_upload_pass"}}`)
	audit.Wait()

	events, err := logs.FetchOldest(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to fetch logs: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Event != models.LogEventMCPToolError {
		t.Errorf("expected event %q, got %q", models.LogEventMCPToolError, events[0].Event)
	}
	if !strings.Contains(events[0].Msg, "error pass_in_progress") {
		t.Errorf("expected error code in message, got %q", events[0].Msg)
	}
}

func TestAuditLogger_RecordsHandlerFailure(t *testing.T) {
	s, audit, logs := newAuditedServer(t)

	callTool(s, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"run_ocr_pass"}}`)
	audit.Wait()

	events, err := logs.FetchOldest(context.Background(), 10)
	if err != nil {
		t.Fatalf("failed to fetch logs: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Event != models.LogEventMCPToolError {
		t.Errorf("expected event %q, got %q", models.LogEventMCPToolError, events[0].Event)
	}
	if !strings.Contains(events[0].Msg, "database is locked") {
		t.Errorf("expected failure in message, got %q", events[0].Msg)
	}
}

func TestAuditLogger_IgnoresOtherMethods(t *testing.T) {
	s, audit, logs := newAuditedServer(t)

	callTool(s, `{"jsonrpc":"2.0","id":4,"method":"tools/list"}`)
	audit.Wait()

	n, err := logs.Count(context.Background())
	if err != nil {
		t.Fatalf("failed to count logs: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no events, got %d", n)
	}
}

func TestFormatAuditMessage(t *testing.T) {
	got := formatAuditMessage(&auditEvent{
		tool:     "run_zip_pass",
		params:   map[string]any{"z": 1, "a": "x"},
		duration: 1500 * time.Millisecond,
		outcome:  "ok",
	})
	want := "tool=run_zip_pass duration_ms=1500 ok a=x z=1"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}

func TestSanitizeParams(t *testing.T) {
	if sanitizeParams(nil) != nil {
		t.Error("expected nil for empty params")
	}

	got := sanitizeParams(map[string]any{
		"url":  "https://storage.example.com/o?X-Amz-Signature=topsecret",
		"long": strings.Repeat("a", 300),
		"n":    5,
	})
	if strings.Contains(got["url"].(string), "topsecret") {
		t.Error("expected signature to be redacted")
	}
	if len(got["long"].(string)) != maxParamLength+len("...") {
		t.Errorf("expected truncated value, got length %d", len(got["long"].(string)))
	}
	if got["n"] != 5 {
		t.Errorf("expected non-string value preserved, got %v", got["n"])
	}
}

func TestResultErrorCode(t *testing.T) {
	if code := resultErrorCode(tools.NewErrorResult("constraints_unmet", "metered")); code != "constraints_unmet" {
		t.Errorf("expected constraints_unmet, got %q", code)
	}
	if code := resultErrorCode(mcplib.NewToolResultText("plain")); code != "unknown" {
		t.Errorf("expected unknown, got %q", code)
	}
}
