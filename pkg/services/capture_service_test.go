package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/config"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

type captureHarness struct {
	*pipelineFixture
	device  *fakeDevice
	frames  *fakeFrames
	tracker *SessionTracker
	svc     *captureService
}

func newCaptureHarness(t *testing.T, storage fakeStorage, rotateEvery int) *captureHarness {
	t.Helper()
	f := newPipelineFixture(t)
	f.saveOwner(t, true)

	dev := &fakeDevice{}
	dev.setApp("com.mail")
	frames := &fakeFrames{}
	tracker, _ := newTestTracker(t, f, rotateEvery)

	cfg := config.CaptureConfig{
		MinFreeStoragePercent:  5,
		FrameRetryAttempts:     2,
		FrameRetryDelay:        time.Millisecond,
		Timeout:                time.Second,
		MaxConsecutiveFailures: 2,
		RestartDelay:           time.Millisecond,
		MaxRestarts:            2,
	}
	svc := NewCaptureService(CaptureDeps{
		Screenshots: f.screenshots,
		Restricted:  f.restricted,
		Logs:        f.logs,
		Users:       f.users,
		Settings:    f.settings,
		Device:      dev,
		Frames:      frames,
		Storage:     storage,
		Tracker:     tracker,
		State:       f.state,
	}, cfg, f.filesDir, time.UTC, zap.NewNop()).(*captureService)
	svc.now = func() time.Time { return time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC) }

	return &captureHarness{pipelineFixture: f, device: dev, frames: frames, tracker: tracker, svc: svc}
}

func (h *captureHarness) sessionRows(t *testing.T) []*models.Screenshot {
	t.Helper()
	rows, err := h.screenshots.ListBySession(context.Background(), h.tracker.ActiveSessionID())
	require.NoError(t, err)
	return rows
}

func TestCaptureTick_WritesFrame(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	h.device.locked = false

	require.NoError(t, h.svc.CaptureTick(context.Background()))

	rows := h.sessionRows(t)
	require.Len(t, rows, 1)
	shot := rows[0]
	assert.Equal(t, "com.mail", shot.CurrentAppInUse)
	assert.Equal(t, "owner@example.com", shot.User)
	assert.Equal(t, models.ScreenshotTypeCapture, shot.Type)
	assert.False(t, shot.IsAppRestricted)
	assert.False(t, shot.IsOcrComplete)
	assert.Contains(t, shot.FileName, "Screenshot_2026-03-02_09-30-00.jpg")
	assert.Equal(t, filepath.Join(h.filesDir, shot.FileName), shot.FilePath)
	assert.Equal(t, "2026-03-02T09:30:00.000Z", shot.Timestamp)
	require.NotNil(t, shot.SessionDepth)

	_, err := os.Stat(shot.FilePath)
	assert.NoError(t, err, "capture file written")
}

func TestCaptureTick_RestrictedAppStoresPlaceholder(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	h.device.locked = false
	h.device.setApp("com.bank")
	require.NoError(t, h.restricted.Upsert(context.Background(), &models.RestrictedApp{PackageName: "com.bank", AppName: "Bank"}))

	require.NoError(t, h.svc.CaptureTick(context.Background()))

	rows := h.sessionRows(t)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].IsAppRestricted)
	assert.Equal(t, models.RestrictedPlaceholderText, models.Deref(rows[0].Text))
	assert.Empty(t, rows[0].FileName)
	assert.False(t, rows[0].HasImage())
	assert.Zero(t, h.frames.calls, "no frame is read for a restricted app")

	entries, err := os.ReadDir(h.filesDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCaptureTick_LockedScreenSkipsSilently(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	h.device.locked = true

	require.NoError(t, h.svc.CaptureTick(context.Background()))

	counts, err := h.screenshots.Counts(context.Background())
	require.NoError(t, err)
	assert.Zero(t, counts.Total)
	assert.True(t, h.state.ScreenLocked.Get())
}

func TestCaptureTick_LowStorage(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 2}, 100)
	h.device.locked = false
	ctx := context.Background()

	err := h.svc.CaptureTick(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errTickSkipped)
	assert.ErrorIs(t, err, apperrors.ErrLowStorage)
	assert.True(t, h.state.LowStorage.Get())

	require.Error(t, h.svc.CaptureTick(ctx))
	assert.Len(t, h.logEvents(t, models.LogEventLowStorage), 1, "warning is rate limited")
	assert.Zero(t, h.frames.calls)
}

func TestCaptureTick_StorageProbeFailureStillCaptures(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{err: os.ErrPermission}, 100)
	h.device.locked = false

	require.NoError(t, h.svc.CaptureTick(context.Background()))
	assert.Len(t, h.sessionRows(t), 1)
}

func TestCaptureTick_RevokedGrant(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	h.device.locked = false
	h.device.revoked = true

	err := h.svc.CaptureTick(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrPermissionRevoked)
	assert.True(t, h.state.ProjectionInvalid.Get())
	assert.Len(t, h.logEvents(t, models.LogEventProjectionInvalid), 1)
}

func TestCaptureTick_FrameUnavailableRetriesThenFails(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	h.device.locked = false
	h.frames.err = apperrors.ErrFrameUnavailable

	err := h.svc.CaptureTick(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrFrameUnavailable)
	assert.Equal(t, 2, h.frames.calls)
	assert.Empty(t, h.sessionRows(t))
}

func TestCaptureTick_RotatesSession(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 2)
	h.device.locked = false
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, h.svc.CaptureTick(ctx))
	}

	first, err := h.screenshots.ListBySession(ctx, "session-1")
	require.NoError(t, err)
	assert.Len(t, first, 2)
	second, err := h.screenshots.ListBySession(ctx, "session-2")
	require.NoError(t, err)
	assert.Len(t, second, 1)

	sessions, err := h.sessions.GetBySessionIDs(ctx, []string{"session-1"})
	require.NoError(t, err)
	assert.Len(t, sessions, 1, "rotated session is persisted")
}

func TestCaptureService_StartStop(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	ctx := context.Background()

	require.NoError(t, h.svc.Start(ctx))
	assert.True(t, h.svc.IsRunning())
	assert.Equal(t, config.DefaultCaptureInterval, h.state.CaptureInterval.Get())
	assert.ErrorIs(t, h.svc.Start(ctx), apperrors.ErrCaptureAlreadyRunning)

	h.svc.Stop()
	assert.False(t, h.svc.IsRunning())
	assert.Equal(t, 1, h.frames.closes)

	// Stop is idempotent and the loop can be started again.
	h.svc.Stop()
	require.NoError(t, h.svc.Start(ctx))
	h.svc.Stop()
}

func TestCaptureService_StartWithoutGrant(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	h.device.revoked = true

	assert.ErrorIs(t, h.svc.Start(context.Background()), apperrors.ErrPermissionRevoked)
	assert.False(t, h.svc.IsRunning())
	assert.True(t, h.state.ProjectionInvalid.Get())

	h.device.revoked = false
	require.NoError(t, h.svc.Start(context.Background()), "a failed start releases the loop")
	h.svc.Stop()
}

func TestCaptureService_RevokedGrantTearsDownLoop(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	h.svc.intervalFor = func(float64) time.Duration { return 5 * time.Millisecond }
	ctx := context.Background()

	require.NoError(t, h.svc.Start(ctx))
	h.device.mu.Lock()
	h.device.revoked = true
	h.device.mu.Unlock()

	require.Eventually(t, func() bool {
		h.svc.mu.Lock()
		defer h.svc.mu.Unlock()
		return h.svc.done == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, h.svc.IsRunning())
	assert.Equal(t, 1, h.frames.closeCount())
	assert.True(t, h.state.ProjectionInvalid.Get())

	// Stop after a self-terminated loop does not close the source again.
	h.svc.Stop()
	assert.Equal(t, 1, h.frames.closeCount())

	h.device.mu.Lock()
	h.device.revoked = false
	h.device.mu.Unlock()
	require.Eventually(t, func() bool { return h.svc.Start(ctx) == nil }, time.Second, 5*time.Millisecond)
	h.svc.Stop()
	assert.Equal(t, 2, h.frames.closeCount())
}

func TestCaptureService_LoopSurvivesCancelledStartContext(t *testing.T) {
	h := newCaptureHarness(t, fakeStorage{free: 80}, 100)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, h.svc.Start(ctx))
	cancel()
	time.Sleep(10 * time.Millisecond)
	assert.True(t, h.svc.IsRunning())
	h.svc.Stop()
}

func TestRestartInterval(t *testing.T) {
	base := 3 * time.Second
	tests := []struct {
		restarts int
		want     time.Duration
	}{
		{0, base},
		{4, base},
		{5, 10 * time.Second},
		{9, 10 * time.Second},
		{10, 30 * time.Second},
		{15, 90 * time.Second},
		{20, 90 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, restartInterval(base, tt.restarts), "restarts=%d", tt.restarts)
	}
}
