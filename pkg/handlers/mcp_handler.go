package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/mcp"
	"github.com/ekaya-inc/ekaya-recorder/pkg/middleware"
)

// MCPHandler handles MCP protocol requests over HTTP.
type MCPHandler struct {
	httpServer *server.StreamableHTTPServer
	logger     *zap.Logger
	mcpConfig  config.MCPConfig
}

// NewMCPHandler creates a new MCP handler from an MCP server.
func NewMCPHandler(mcpServer *mcp.Server, logger *zap.Logger, mcpConfig config.MCPConfig) *MCPHandler {
	return &MCPHandler{
		httpServer: mcpServer.NewStreamableHTTPServer(),
		logger:     logger,
		mcpConfig:  mcpConfig,
	}
}

// RegisterRoutes registers the MCP endpoint at /mcp.
func (h *MCPHandler) RegisterRoutes(mux *http.ServeMux) {
	// Innermost first: JSON-RPC logging, then token check, then method check.
	var requestLogger *zap.Logger
	if h.mcpConfig.LogRequests {
		requestLogger = h.logger
	}
	loggedHandler := middleware.MCPRequestLogger(requestLogger)(h.httpServer)
	authHandler := h.requireToken(loggedHandler)
	mux.Handle("/mcp", h.requirePOST(authHandler))
}

// requirePOST returns 405 Method Not Allowed for non-POST requests.
// MCP over HTTP Streaming requires POST for JSON-RPC requests.
func (h *MCPHandler) requirePOST(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", "POST")
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireToken rejects requests without the configured bearer token.
// With no token configured the endpoint is open; bind to loopback then.
func (h *MCPHandler) requireToken(next http.Handler) http.Handler {
	if h.mcpConfig.Token == "" {
		return next
	}
	want := []byte(h.mcpConfig.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			h.logger.Debug("Rejected MCP request without valid token",
				zap.String("remote_addr", r.RemoteAddr))
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcp"`)
			ErrorResponse(w, http.StatusUnauthorized, "unauthorized", "Valid bearer token required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
