package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/services"
	"github.com/ekaya-inc/ekaya-recorder/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
)

// PipelineControl queues pipeline passes and resets local data.
type PipelineControl interface {
	TriggerOcr(manual bool) bool
	TriggerZip() bool
	TriggerUpload() bool
	ClearLocalData(ctx context.Context) error
	Tasks() []workqueue.TaskSnapshot
}

// PipelineHandler exposes pipeline status and manual controls.
type PipelineHandler struct {
	state       *status.State
	control     PipelineControl
	capture     services.CaptureService
	screenshots repositories.ScreenshotRepository
	manifests   repositories.ZipManifestRepository
	users       repositories.UserRepository
	stats       repositories.UploadStatsRepository
	loc         *time.Location
	logger      *zap.Logger
}

// NewPipelineHandler creates a PipelineHandler. loc picks the day for the
// upload counter.
func NewPipelineHandler(
	state *status.State,
	control PipelineControl,
	capture services.CaptureService,
	screenshots repositories.ScreenshotRepository,
	manifests repositories.ZipManifestRepository,
	users repositories.UserRepository,
	stats repositories.UploadStatsRepository,
	loc *time.Location,
	logger *zap.Logger,
) *PipelineHandler {
	if loc == nil {
		loc = time.Local
	}
	return &PipelineHandler{
		state:       state,
		control:     control,
		capture:     capture,
		screenshots: screenshots,
		manifests:   manifests,
		users:       users,
		stats:       stats,
		loc:         loc,
		logger:      logger,
	}
}

// RegisterRoutes registers the pipeline routes on the given mux.
func (h *PipelineHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/pipeline/status", h.Status)
	mux.HandleFunc("POST /api/pipeline/ocr", h.trigger("ocr", func() bool { return h.control.TriggerOcr(true) }))
	mux.HandleFunc("POST /api/pipeline/zip", h.trigger("zip", h.control.TriggerZip))
	mux.HandleFunc("POST /api/pipeline/upload", h.trigger("upload", h.control.TriggerUpload))
	mux.HandleFunc("POST /api/pipeline/capture/start", h.StartCapture)
	mux.HandleFunc("POST /api/pipeline/capture/stop", h.StopCapture)
	mux.HandleFunc("POST /api/pipeline/reset", h.Reset)
}

// StatusResponse is the pipeline state shown to the user.
type StatusResponse struct {
	State           status.Snapshot          `json:"state"`
	Screenshots     *models.ScreenshotCounts `json:"screenshots"`
	PendingArchives int                      `json:"pending_archives"`
	Uploads         *models.UploadStats      `json:"uploads"`
	Tasks           []workqueue.TaskSnapshot `json:"tasks"`
}

// Status handles GET /api/pipeline/status.
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	counts, err := h.screenshots.Counts(ctx)
	if err != nil {
		h.logger.Error("Failed to count screenshots", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load pipeline status")
		return
	}
	pending, err := h.manifests.Count(ctx)
	if err != nil {
		h.logger.Error("Failed to count pending archives", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to load pipeline status")
		return
	}

	owner := models.NewDefaultUser()
	if user, err := h.users.Get(ctx); err == nil {
		owner = user
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		h.logger.Warn("Failed to load device owner", zap.Error(err))
	}
	uploads, err := h.stats.Get(ctx, owner.Email, time.Now().In(h.loc).Format("2006-01-02"))
	if err != nil {
		h.logger.Warn("Failed to load upload stats", zap.Error(err))
	}

	resp := StatusResponse{
		State:           h.state.Snapshot(),
		Screenshots:     counts,
		PendingArchives: pending,
		Uploads:         uploads,
		Tasks:           h.control.Tasks(),
	}
	if err := WriteJSON(w, http.StatusOK, resp); err != nil {
		h.logger.Error("Failed to write status response", zap.Error(err))
	}
}

type triggerResponse struct {
	Pass   string `json:"pass"`
	Queued bool   `json:"queued"`
}

// trigger queues a pass. A pass already pending is not queued twice.
func (h *PipelineHandler) trigger(pass string, enqueue func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.state.Maintenance.Get() {
			ErrorResponse(w, http.StatusServiceUnavailable, "maintenance", "Pipeline is in maintenance mode")
			return
		}
		queued := enqueue()
		h.logger.Debug("Pass requested", zap.String("pass", pass), zap.Bool("queued", queued))
		if err := WriteJSON(w, http.StatusAccepted, triggerResponse{Pass: pass, Queued: queued}); err != nil {
			h.logger.Error("Failed to write trigger response", zap.Error(err))
		}
	}
}

// StartCapture handles POST /api/pipeline/capture/start.
func (h *PipelineHandler) StartCapture(w http.ResponseWriter, r *http.Request) {
	err := h.capture.Start(r.Context())
	switch {
	case errors.Is(err, apperrors.ErrCaptureAlreadyRunning):
		ErrorResponse(w, http.StatusConflict, "already_running", "Capture is already running")
		return
	case errors.Is(err, apperrors.ErrPermissionRevoked):
		ErrorResponse(w, http.StatusForbidden, "permission_revoked", "Capture permission is not granted")
		return
	case err != nil:
		h.logger.Error("Failed to start capture", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to start capture")
		return
	}

	if err := WriteJSON(w, http.StatusOK, map[string]bool{"recording": true}); err != nil {
		h.logger.Error("Failed to write capture response", zap.Error(err))
	}
}

// StopCapture handles POST /api/pipeline/capture/stop.
func (h *PipelineHandler) StopCapture(w http.ResponseWriter, r *http.Request) {
	h.capture.Stop()
	if err := WriteJSON(w, http.StatusOK, map[string]bool{"recording": false}); err != nil {
		h.logger.Error("Failed to write capture response", zap.Error(err))
	}
}

// Reset handles POST /api/pipeline/reset. Capture is stopped and every local
// record and file is removed.
func (h *PipelineHandler) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.control.ClearLocalData(r.Context()); err != nil {
		h.logger.Error("Failed to clear local data", zap.Error(err))
		ErrorResponse(w, http.StatusInternalServerError, "internal_error", "Failed to clear local data")
		return
	}
	if err := WriteJSON(w, http.StatusOK, map[string]bool{"cleared": true}); err != nil {
		h.logger.Error("Failed to write reset response", zap.Error(err))
	}
}
