package services

import (
	"context"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/device"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/status"
	"github.com/ekaya-inc/ekaya-recorder/pkg/testhelpers"
	"github.com/ekaya-inc/ekaya-recorder/pkg/transform"
)

// pipelineFixture wires real repositories over an in-memory store.
type pipelineFixture struct {
	db          *database.DB
	screenshots repositories.ScreenshotRepository
	sessions    repositories.SessionRepository
	segments    repositories.AppSegmentRepository
	events      repositories.AccessibilityEventRepository
	manifests   repositories.ZipManifestRepository
	logs        repositories.LogRepository
	users       repositories.UserRepository
	settings    repositories.SettingsRepository
	restricted  repositories.RestrictedAppRepository
	stats       repositories.UploadStatsRepository
	state       *status.State
	filesDir    string
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()
	db := testhelpers.NewSQLiteStore(t)
	return &pipelineFixture{
		db:          db,
		screenshots: repositories.NewScreenshotRepository(db),
		sessions:    repositories.NewSessionRepository(db),
		segments:    repositories.NewAppSegmentRepository(db),
		events:      repositories.NewAccessibilityEventRepository(db),
		manifests:   repositories.NewZipManifestRepository(db),
		logs:        repositories.NewLogRepository(db),
		users:       repositories.NewUserRepository(db),
		settings:    repositories.NewSettingsRepository(db),
		restricted:  repositories.NewRestrictedAppRepository(db),
		stats:       repositories.NewUploadStatsRepository(db),
		state:       status.NewState(),
		filesDir:    t.TempDir(),
	}
}

func (f *pipelineFixture) saveOwner(t *testing.T, uploadImages bool) *models.User {
	t.Helper()
	user := &models.User{
		Email:        "owner@example.com",
		EmailHash:    "hash-owner",
		TenantID:     "t1",
		TenantName:   "acme",
		PanelID:      "p1",
		PanelName:    "panel one",
		UploadImages: uploadImages,
	}
	require.NoError(t, f.users.Save(context.Background(), user))
	return user
}

// addScreenshot stores a capture row. When withFile is set a JPEG is written
// to the files directory.
func (f *pipelineFixture) addScreenshot(t *testing.T, sessionID, app string, epoch int64, withFile bool) *models.Screenshot {
	t.Helper()
	shot := &models.Screenshot{
		User:            "owner@example.com",
		CurrentAppInUse: app,
		SessionID:       models.StringPtr(sessionID),
		EpochTimestamp:  epoch,
		Timestamp:       models.FormatUTC(time.UnixMilli(epoch)),
		LocalTimestamp:  time.UnixMilli(epoch).UTC().Format(localTimestampLayout),
		Type:            models.ScreenshotTypeCapture,
	}
	if withFile {
		name := "img_" + sessionID + "_" + time.UnixMilli(epoch).UTC().Format(captureTimeLayout) + ".jpg"
		shot.FileName = name
		shot.FilePath = testhelpers.WriteJPEG(t, f.filesDir, name)
	}
	require.NoError(t, f.screenshots.Create(context.Background(), shot))
	return shot
}

func (f *pipelineFixture) logEvents(t *testing.T, event string) []*models.LogEvent {
	t.Helper()
	rows, err := f.logs.FetchOldest(context.Background(), 1000)
	require.NoError(t, err)
	var out []*models.LogEvent
	for _, r := range rows {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}

func (f *pipelineFixture) newSegmentService(active ActiveSession) SegmentService {
	return NewSegmentService(f.db, f.screenshots, f.segments, active, transform.DefaultSegmentOptions(), zap.NewNop())
}

// fixedActive reports a fixed open session.
type fixedActive string

func (a fixedActive) ActiveSessionID() string { return string(a) }

type fakeDevice struct {
	mu      sync.Mutex
	app     device.App
	locked  bool
	revoked bool
}

func (d *fakeDevice) Foreground() device.App {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.app
}

func (d *fakeDevice) IsLocked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

func (d *fakeDevice) ProjectionValid() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.revoked
}

func (d *fakeDevice) setApp(pkg string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.app = device.App{Package: pkg, Name: pkg}
}

type fakeFrames struct {
	mu     sync.Mutex
	err    error
	calls  int
	resets int
	closes int
}

func (f *fakeFrames) Acquire(ctx context.Context) (image.Image, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{G: 255, A: 255})
	return img, nil
}

func (f *fakeFrames) Reset(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	return nil
}

func (f *fakeFrames) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeFrames) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakeStorage struct {
	free float64
	err  error
}

func (s fakeStorage) FreePercent(context.Context) (float64, error) { return s.free, s.err }

type fakeNetwork struct {
	mu        sync.Mutex
	connected bool
	unmetered bool
}

func (n *fakeNetwork) IsConnected(context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.connected
}

func (n *fakeNetwork) IsUnmetered(context.Context) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.unmetered
}

func (n *fakeNetwork) set(connected, unmetered bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected, n.unmetered = connected, unmetered
}

type fakePower bool

func (p fakePower) IsCharging(context.Context) bool { return bool(p) }

type fakeTransport struct {
	mu      sync.Mutex
	dest    string
	signErr error
	putErr  error
	signed  []string
	puts    map[string][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{dest: "https://storage.example.com/object", puts: make(map[string][]byte)}
}

func (t *fakeTransport) GetSignedDestination(_ context.Context, _, remotePath string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.signed = append(t.signed, remotePath)
	if t.signErr != nil {
		return "", t.signErr
	}
	if t.dest == "" {
		return "", nil
	}
	return t.dest + "/" + remotePath, nil
}

func (t *fakeTransport) PutBytes(_ context.Context, url string, body []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.putErr != nil {
		return t.putErr
	}
	t.puts[url] = body
	return nil
}

func (t *fakeTransport) signedPaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.signed...)
}

// fakeEngine fails for paths listed in failures.
type fakeEngine struct {
	mu          sync.Mutex
	text        string
	failures    map[string]error
	initialized bool
	shutdowns   int
	recognized  []string
}

func (e *fakeEngine) Init(context.Context, string, string, int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = true
	return nil
}

func (e *fakeEngine) Recognize(_ context.Context, path string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err, ok := e.failures[path]; ok {
		return "", err
	}
	e.recognized = append(e.recognized, path)
	return e.text, nil
}

func (e *fakeEngine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.initialized = false
	e.shutdowns++
}

func (e *fakeEngine) IsInitialized() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}
