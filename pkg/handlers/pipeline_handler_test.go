package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/services/workqueue"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
	"github.com/ekaya-inc/ekaya-recorder/pkg/testhelpers"
)

type fakeControl struct {
	ocr, zip, upload int
	manual           bool
	resets           int
	resetErr         error
	tasks            []workqueue.TaskSnapshot
}

func (c *fakeControl) TriggerOcr(manual bool) bool {
	c.ocr++
	c.manual = manual
	return true
}

func (c *fakeControl) TriggerZip() bool {
	c.zip++
	return c.zip == 1
}

func (c *fakeControl) TriggerUpload() bool {
	c.upload++
	return true
}

func (c *fakeControl) ClearLocalData(context.Context) error {
	c.resets++
	return c.resetErr
}

func (c *fakeControl) Tasks() []workqueue.TaskSnapshot { return c.tasks }

type fakeCapture struct {
	startErr error
	running  bool
}

func (c *fakeCapture) Start(context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.running = true
	return nil
}

func (c *fakeCapture) Stop()                             { c.running = false }
func (c *fakeCapture) IsRunning() bool                   { return c.running }
func (c *fakeCapture) CaptureTick(context.Context) error { return nil }

type pipelineHarness struct {
	state       *status.State
	control     *fakeControl
	capture     *fakeCapture
	screenshots repositories.ScreenshotRepository
	manifests   repositories.ZipManifestRepository
	stats       repositories.UploadStatsRepository
	users       repositories.UserRepository
	mux         *http.ServeMux
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	db := testhelpers.NewSQLiteStore(t)
	h := &pipelineHarness{
		state:       status.NewState(),
		control:     &fakeControl{},
		capture:     &fakeCapture{},
		screenshots: repositories.NewScreenshotRepository(db),
		manifests:   repositories.NewZipManifestRepository(db),
		stats:       repositories.NewUploadStatsRepository(db),
		users:       repositories.NewUserRepository(db),
		mux:         http.NewServeMux(),
	}
	NewPipelineHandler(h.state, h.control, h.capture, h.screenshots, h.manifests, h.users, h.stats, time.UTC, zap.NewNop()).
		RegisterRoutes(h.mux)
	return h
}

func (h *pipelineHarness) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.mux.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func TestPipelineHandler_Status(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	require.NoError(t, h.users.Save(ctx, &models.User{Email: "owner@example.com"}))
	require.NoError(t, h.stats.Increment(ctx, "owner@example.com", time.Now().UTC().Format("2006-01-02")))
	require.NoError(t, h.screenshots.Create(ctx, &models.Screenshot{
		CurrentAppInUse: "com.mail",
		SessionID:       models.StringPtr("s1"),
		EpochTimestamp:  1_772_000_000_000,
		Type:            models.ScreenshotTypeCapture,
		FileName:        "a.jpg",
		FilePath:        "/tmp/a.jpg",
	}))
	require.NoError(t, h.manifests.Create(ctx, &models.ZipManifest{File: "/tmp/image_zip_a_1.zip"}))
	h.state.IsRecording.Set(true)
	h.state.OcrBacklog.Set(1)
	h.control.tasks = []workqueue.TaskSnapshot{{ID: "1", Name: "zip-pass", Status: workqueue.TaskStatusRunning}}

	rec := h.do(http.MethodGet, "/api/pipeline/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp StatusResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.State.IsRecording)
	assert.Equal(t, 1, resp.State.OcrBacklog)
	assert.Equal(t, 1, resp.Screenshots.Total)
	assert.Equal(t, 1, resp.PendingArchives)
	require.NotNil(t, resp.Uploads)
	assert.Equal(t, 1, resp.Uploads.TotalUploaded)
	assert.Equal(t, 1, resp.Uploads.TodayUploads)
	require.Len(t, resp.Tasks, 1)
	assert.Equal(t, "zip-pass", resp.Tasks[0].Name)
}

func TestPipelineHandler_Triggers(t *testing.T) {
	h := newPipelineHarness(t)

	rec := h.do(http.MethodPost, "/api/pipeline/ocr")
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"pass":"ocr","queued":true}`, rec.Body.String())
	assert.True(t, h.control.manual, "API-triggered OCR ignores the backlog minimum")

	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/pipeline/zip").Code)
	rec = h.do(http.MethodPost, "/api/pipeline/zip")
	assert.JSONEq(t, `{"pass":"zip","queued":false}`, rec.Body.String())

	require.Equal(t, http.StatusAccepted, h.do(http.MethodPost, "/api/pipeline/upload").Code)
	assert.Equal(t, 1, h.control.upload)
}

func TestPipelineHandler_TriggersBlockedInMaintenance(t *testing.T) {
	h := newPipelineHarness(t)
	h.state.Maintenance.Set(true)

	assert.Equal(t, http.StatusServiceUnavailable, h.do(http.MethodPost, "/api/pipeline/zip").Code)
	assert.Zero(t, h.control.zip)
}

func TestPipelineHandler_Capture(t *testing.T) {
	h := newPipelineHarness(t)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/pipeline/capture/start").Code)
	assert.True(t, h.capture.running)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/pipeline/capture/stop").Code)
	assert.False(t, h.capture.running)
}

func TestPipelineHandler_CaptureStartErrors(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperrors.ErrCaptureAlreadyRunning, http.StatusConflict},
		{apperrors.ErrPermissionRevoked, http.StatusForbidden},
		{errors.New("spool missing"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			h := newPipelineHarness(t)
			h.capture.startErr = tt.err
			assert.Equal(t, tt.want, h.do(http.MethodPost, "/api/pipeline/capture/start").Code)
		})
	}
}

func TestPipelineHandler_Reset(t *testing.T) {
	h := newPipelineHarness(t)

	require.Equal(t, http.StatusOK, h.do(http.MethodPost, "/api/pipeline/reset").Code)
	assert.Equal(t, 1, h.control.resets)

	h.control.resetErr = errors.New("disk full")
	assert.Equal(t, http.StatusInternalServerError, h.do(http.MethodPost, "/api/pipeline/reset").Code)
}
