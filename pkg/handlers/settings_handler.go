package handlers

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/services"
)

// SettingsHandler manages the device owner, capture preferences and the
// restricted-app list.
type SettingsHandler struct {
	users      repositories.UserRepository
	settings   repositories.SettingsRepository
	restricted repositories.RestrictedAppRepository
	logs       repositories.LogRepository
	capture    services.CaptureService
	logger     *zap.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(
	users repositories.UserRepository,
	settings repositories.SettingsRepository,
	restricted repositories.RestrictedAppRepository,
	logs repositories.LogRepository,
	capture services.CaptureService,
	logger *zap.Logger,
) *SettingsHandler {
	return &SettingsHandler{
		users:      users,
		settings:   settings,
		restricted: restricted,
		logs:       logs,
		capture:    capture,
		logger:     logger.Named("settings-handler"),
	}
}

// RegisterRoutes registers the settings handler's routes on the given mux.
func (h *SettingsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/owner", h.GetOwner)
	mux.HandleFunc("PUT /api/owner", h.PutOwner)
	mux.HandleFunc("DELETE /api/owner", h.DeleteOwner)
	mux.HandleFunc("GET /api/settings", h.GetSettings)
	mux.HandleFunc("PUT /api/settings", h.PutSettings)
	mux.HandleFunc("GET /api/restricted-apps", h.ListRestrictedApps)
	mux.HandleFunc("PUT /api/restricted-apps", h.PutRestrictedApp)
	mux.HandleFunc("DELETE /api/restricted-apps/{package}", h.DeleteRestrictedApp)
}

// GetOwner handles GET /api/owner.
func (h *SettingsHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	user, err := h.users.Get(r.Context())
	if errors.Is(err, apperrors.ErrNotFound) {
		ErrorResponse(w, http.StatusNotFound, "not_enrolled", "No device owner enrolled")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load owner", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load owner")
		return
	}
	if err := WriteJSON(w, http.StatusOK, user); err != nil {
		h.logger.Error("Failed to write owner response", zap.Error(err))
	}
}

// PutOwner handles PUT /api/owner. Enrolling replaces any previous owner.
func (h *SettingsHandler) PutOwner(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := DecodeJSON(w, r, &user); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	user.Email = strings.TrimSpace(user.Email)
	if user.Email == "" {
		ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "email is required")
		return
	}
	if user.EmailHash == "" {
		user.EmailHash = HashEmail(user.Email)
	}
	user.ID = 0

	if err := h.users.Save(r.Context(), &user); err != nil {
		h.logger.Error("Failed to save owner", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to save owner")
		return
	}
	h.logger.Info("Device owner enrolled",
		zap.String("tenant_id", user.TenantID),
		zap.String("panel_id", user.PanelID))
	if err := WriteJSON(w, http.StatusOK, &user); err != nil {
		h.logger.Error("Failed to write owner response", zap.Error(err))
	}
}

// DeleteOwner handles DELETE /api/owner. Capture stops until a new owner
// enrolls and starts it again.
func (h *SettingsHandler) DeleteOwner(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner := models.NewDefaultUser().Email
	if user, err := h.users.Get(ctx); err == nil {
		owner = user.Email
	}

	h.capture.Stop()
	if err := h.users.Delete(ctx); err != nil {
		h.logger.Error("Failed to delete owner", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to delete owner")
		return
	}
	if err := h.logs.Save(ctx, models.LogEventLoggedOut, "owner removed", owner); err != nil {
		h.logger.Warn("Failed to record logout", zap.Error(err))
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSettings handles GET /api/settings.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context())
	if err != nil {
		h.logger.Error("Failed to load settings", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load settings")
		return
	}
	if err := WriteJSON(w, http.StatusOK, s); err != nil {
		h.logger.Error("Failed to write settings response", zap.Error(err))
	}
}

// PutSettings handles PUT /api/settings. A running capture loop is
// restarted when the capture rate changes.
func (h *SettingsHandler) PutSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var next models.Settings
	if err := DecodeJSON(w, r, &next); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if _, ok := config.FPSIntervals[next.FPS]; !ok {
		ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "fps must be one of 0.33, 0.2, 0.1")
		return
	}

	prev, err := h.settings.Get(ctx)
	if err != nil {
		h.logger.Error("Failed to load settings", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to save settings")
		return
	}
	if err := h.settings.Save(ctx, &next); err != nil {
		h.logger.Error("Failed to save settings", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to save settings")
		return
	}

	if prev.FPS != next.FPS && h.capture.IsRunning() {
		if err := h.restartCapture(ctx); err != nil {
			h.logger.Error("Failed to restart capture with new rate", zap.Error(err))
			ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Settings saved but capture could not restart")
			return
		}
	}
	if err := WriteJSON(w, http.StatusOK, &next); err != nil {
		h.logger.Error("Failed to write settings response", zap.Error(err))
	}
}

func (h *SettingsHandler) restartCapture(ctx context.Context) error {
	h.capture.Stop()
	return h.capture.Start(ctx)
}

// ListRestrictedApps handles GET /api/restricted-apps.
func (h *SettingsHandler) ListRestrictedApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.restricted.List(r.Context())
	if err != nil {
		h.logger.Error("Failed to list restricted apps", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to list restricted apps")
		return
	}
	if apps == nil {
		apps = []*models.RestrictedApp{}
	}
	if err := WriteJSON(w, http.StatusOK, apps); err != nil {
		h.logger.Error("Failed to write restricted apps response", zap.Error(err))
	}
}

// PutRestrictedApp handles PUT /api/restricted-apps. Apps added here are
// marked as restricted by the user.
func (h *SettingsHandler) PutRestrictedApp(w http.ResponseWriter, r *http.Request) {
	var app models.RestrictedApp
	if err := DecodeJSON(w, r, &app); err != nil {
		ErrorResponse(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	app.PackageName = strings.TrimSpace(app.PackageName)
	if !ValidPackageName(app.PackageName) {
		ErrorResponse(w, http.StatusBadRequest, "invalid_parameters", "package_name must be an application id")
		return
	}
	if app.AppName == "" {
		app.AppName = app.PackageName
	}
	app.ID = 0
	app.IsUserRestricted = true

	if err := h.restricted.Upsert(r.Context(), &app); err != nil {
		h.logger.Error("Failed to save restricted app", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to save restricted app")
		return
	}
	if err := WriteJSON(w, http.StatusOK, &app); err != nil {
		h.logger.Error("Failed to write restricted app response", zap.Error(err))
	}
}

// DeleteRestrictedApp handles DELETE /api/restricted-apps/{package}.
func (h *SettingsHandler) DeleteRestrictedApp(w http.ResponseWriter, r *http.Request) {
	pkg, ok := ParsePackageName(w, r, h.logger)
	if !ok {
		return
	}
	if err := h.restricted.Delete(r.Context(), pkg); err != nil {
		h.logger.Error("Failed to delete restricted app", zap.String("package", pkg), zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to delete restricted app")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HashEmail is the owner id used in remote paths when enrollment supplies none.
func HashEmail(email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return hex.EncodeToString(sum[:])
}
