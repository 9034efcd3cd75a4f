package handlers

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/device"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
)

// Screen states reported by the device bridge.
const (
	ScreenUnlocked = "unlocked"
	ScreenOff      = "off"
)

// ScreenEvents reacts to screen transitions.
type ScreenEvents interface {
	OnScreenUnlocked(ctx context.Context) error
	OnScreenOff(ctx context.Context) error
}

// DeviceHandler receives device state pushed by the platform bridge.
type DeviceHandler struct {
	bridge *device.Bridge
	screen ScreenEvents
	events repositories.AccessibilityEventRepository
	users  repositories.UserRepository
	logger *zap.Logger
}

// NewDeviceHandler creates a DeviceHandler.
func NewDeviceHandler(
	bridge *device.Bridge,
	screen ScreenEvents,
	events repositories.AccessibilityEventRepository,
	users repositories.UserRepository,
	logger *zap.Logger,
) *DeviceHandler {
	return &DeviceHandler{
		bridge: bridge,
		screen: screen,
		events: events,
		users:  users,
		logger: logger,
	}
}

// RegisterRoutes registers the device bridge routes on the given mux.
func (h *DeviceHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/device/screen", h.Screen)
	mux.HandleFunc("POST /api/device/foreground", h.Foreground)
	mux.HandleFunc("POST /api/device/projection", h.Projection)
	mux.HandleFunc("POST /api/device/accessibility-events", h.AccessibilityEvents)
}

type screenRequest struct {
	State string `json:"state"`
}

type screenResponse struct {
	State   string `json:"state"`
	Changed bool   `json:"changed"`
}

// Screen handles POST /api/device/screen. Repeated reports of the same state
// do not open or close sessions.
func (h *DeviceHandler) Screen(w http.ResponseWriter, r *http.Request) {
	var req screenRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	var (
		changed bool
		err     error
	)
	switch req.State {
	case ScreenUnlocked:
		if changed = h.bridge.SetLocked(false); changed {
			err = h.screen.OnScreenUnlocked(r.Context())
		}
	case ScreenOff:
		if changed = h.bridge.SetLocked(true); changed {
			err = h.screen.OnScreenOff(r.Context())
		}
	default:
		ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", `state must be "unlocked" or "off"`)
		return
	}
	if err != nil {
		h.logger.Error("Failed to handle screen transition",
			zap.String("state", req.State),
			zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to record screen transition")
		return
	}

	if err := WriteJSON(w, http.StatusOK, screenResponse{State: req.State, Changed: changed}); err != nil {
		h.logger.Error("Failed to write screen response", zap.Error(err))
	}
}

// Foreground handles POST /api/device/foreground.
func (h *DeviceHandler) Foreground(w http.ResponseWriter, r *http.Request) {
	var app device.App
	if err := DecodeJSON(w, r, &app); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if app.Package == "" {
		ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "package is required")
		return
	}
	if app.Name == "" {
		app.Name = app.Package
	}

	h.bridge.SetForeground(app)
	if err := WriteJSON(w, http.StatusOK, app); err != nil {
		h.logger.Error("Failed to write foreground response", zap.Error(err))
	}
}

type projectionRequest struct {
	Valid *bool `json:"valid"`
}

// Projection handles POST /api/device/projection.
func (h *DeviceHandler) Projection(w http.ResponseWriter, r *http.Request) {
	var req projectionRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Valid == nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "valid is required")
		return
	}

	h.bridge.SetProjectionValid(*req.Valid)
	if !*req.Valid {
		h.logger.Warn("Capture grant revoked by device")
	}
	if err := WriteJSON(w, http.StatusOK, map[string]bool{"valid": *req.Valid}); err != nil {
		h.logger.Error("Failed to write projection response", zap.Error(err))
	}
}

// AccessibilityEvents handles POST /api/device/accessibility-events. Events
// without a user are attributed to the device owner.
func (h *DeviceHandler) AccessibilityEvents(w http.ResponseWriter, r *http.Request) {
	var events []*models.AccessibilityEvent
	if err := DecodeJSON(w, r, &events); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	owner := ""
	if user, err := h.users.Get(r.Context()); err == nil {
		owner = user.Email
	}
	for _, e := range events {
		if e == nil {
			ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "events must not be null")
			return
		}
		e.ID = 0
		if e.User == "" {
			e.User = owner
		}
	}

	if err := h.events.CreateBatch(r.Context(), events); err != nil {
		h.logger.Error("Failed to store accessibility events",
			zap.Int("count", len(events)),
			zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to store accessibility events")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]int{"stored": len(events)}); err != nil {
		h.logger.Error("Failed to write accessibility response", zap.Error(err))
	}
}
