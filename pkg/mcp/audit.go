package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/logging"
	"github.com/ekaya-inc/ekaya-recorder/pkg/mcp/tools"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
)

// maxParamLength bounds a single argument value in the recorded message.
const maxParamLength = 200

// recordTimeout bounds the write of one audit event.
const recordTimeout = 5 * time.Second

// AuditLogger records MCP tool calls as diagnostic log events, which are
// flushed to CSV and uploaded with the rest of the device logs.
type AuditLogger struct {
	logs   repositories.LogRepository
	users  repositories.UserRepository
	logger *zap.Logger

	// startTimes tracks when tool calls begin, keyed by request ID.
	startTimes sync.Map
	pending    sync.WaitGroup
}

// NewAuditLogger creates an AuditLogger that writes to logs.
func NewAuditLogger(logs repositories.LogRepository, users repositories.UserRepository, logger *zap.Logger) *AuditLogger {
	return &AuditLogger{
		logs:   logs,
		users:  users,
		logger: logger.Named("mcp-audit"),
	}
}

// Hooks returns mcp-go Hooks configured to capture tool call events.
func (a *AuditLogger) Hooks() *server.Hooks {
	hooks := &server.Hooks{}
	hooks.AddBeforeCallTool(a.beforeCallTool)
	hooks.AddAfterCallTool(a.afterCallTool)
	hooks.AddOnError(a.onError)
	return hooks
}

// Wait blocks until every recorded event has been written.
func (a *AuditLogger) Wait() {
	a.pending.Wait()
}

type auditEvent struct {
	event    string
	tool     string
	params   map[string]any
	duration time.Duration
	outcome  string
}

func (a *AuditLogger) beforeCallTool(_ context.Context, id any, _ *mcplib.CallToolRequest) {
	a.startTimes.Store(id, time.Now())
}

func (a *AuditLogger) afterCallTool(_ context.Context, id any, req *mcplib.CallToolRequest, result *mcplib.CallToolResult) {
	e := a.buildEvent(id, req)
	e.event = models.LogEventMCPTool
	e.outcome = "ok"
	if result != nil && result.IsError {
		e.event = models.LogEventMCPToolError
		e.outcome = "error " + resultErrorCode(result)
	}
	a.recordAsync(e)
}

func (a *AuditLogger) onError(_ context.Context, id any, method mcplib.MCPMethod, message any, err error) {
	if method != mcplib.MethodToolsCall {
		return
	}
	req, ok := message.(*mcplib.CallToolRequest)
	if !ok {
		return
	}

	e := a.buildEvent(id, req)
	e.event = models.LogEventMCPToolError
	e.outcome = "failed " + logging.SanitizeError(err)
	if tools.IsInputError(err) {
		a.logger.Debug("MCP tool rejected input", zap.String("tool", e.tool), zap.Error(err))
	} else {
		a.logger.Error("MCP tool failed", zap.String("tool", e.tool), zap.Error(err))
	}
	a.recordAsync(e)
}

func (a *AuditLogger) loadAndDeleteStart(id any) time.Time {
	if v, ok := a.startTimes.LoadAndDelete(id); ok {
		return v.(time.Time)
	}
	return time.Now()
}

func (a *AuditLogger) buildEvent(id any, req *mcplib.CallToolRequest) *auditEvent {
	params, _ := req.Params.Arguments.(map[string]any)
	return &auditEvent{
		tool:     req.Params.Name,
		params:   sanitizeParams(params),
		duration: time.Since(a.loadAndDeleteStart(id)),
	}
}

// recordAsync writes the event off the request path.
func (a *AuditLogger) recordAsync(e *auditEvent) {
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		a.record(e)
	}()
}

func (a *AuditLogger) record(e *auditEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	owner := models.NewDefaultUser().Email
	if user, err := a.users.Get(ctx); err == nil {
		owner = user.Email
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		a.logger.Warn("Failed to load device owner for MCP audit event", zap.Error(err))
	}

	if err := a.logs.Save(ctx, e.event, formatAuditMessage(e), owner); err != nil {
		a.logger.Error("Failed to record MCP audit event",
			zap.String("tool", e.tool),
			zap.Error(err))
	}
}

// formatAuditMessage renders the event as key=value pairs, params sorted.
func formatAuditMessage(e *auditEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "tool=%s duration_ms=%d %s", e.tool, e.duration.Milliseconds(), e.outcome)

	keys := make([]string, 0, len(e.params))
	for k := range e.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.params[k])
	}
	return b.String()
}

// sanitizeParams truncates string arguments and scrubs credentials.
func sanitizeParams(params map[string]any) map[string]any {
	if len(params) == 0 {
		return nil
	}
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		if s, ok := v.(string); ok {
			sanitized[k] = logging.TruncateString(logging.SanitizeMessage(s), maxParamLength)
			continue
		}
		sanitized[k] = v
	}
	return sanitized
}

// resultErrorCode pulls the code out of a structured error result.
func resultErrorCode(result *mcplib.CallToolResult) string {
	for _, c := range result.Content {
		text, ok := c.(mcplib.TextContent)
		if !ok {
			continue
		}
		var resp tools.ErrorResponse
		if err := json.Unmarshal([]byte(text.Text), &resp); err == nil && resp.Code != "" {
			return resp.Code
		}
	}
	return "unknown"
}
