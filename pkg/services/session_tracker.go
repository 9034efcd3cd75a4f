package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
)

// DefaultSessionRotateCaptures is how many captures a session holds before it
// is finalized and a new one minted.
const DefaultSessionRotateCaptures = 5

// SessionTracker owns the in-memory session between screen unlock and screen
// off. It is safe for concurrent use by the capture loop and the device bridge.
type SessionTracker struct {
	sessionRepo  repositories.SessionRepository
	userRepo     repositories.UserRepository
	settingsRepo repositories.SettingsRepository
	rotateEvery  int
	loc          *time.Location
	logger       *zap.Logger

	now   func() time.Time
	newID func() string

	mu         sync.Mutex
	current    *models.SessionTemp
	lastUnlock time.Time
}

// NewSessionTracker creates a tracker. loc determines local midnight for the
// per-day session count.
func NewSessionTracker(
	sessionRepo repositories.SessionRepository,
	userRepo repositories.UserRepository,
	settingsRepo repositories.SettingsRepository,
	rotateEvery int,
	loc *time.Location,
	logger *zap.Logger,
) *SessionTracker {
	if rotateEvery <= 0 {
		rotateEvery = DefaultSessionRotateCaptures
	}
	if loc == nil {
		loc = time.Local
	}
	return &SessionTracker{
		sessionRepo:  sessionRepo,
		userRepo:     userRepo,
		settingsRepo: settingsRepo,
		rotateEvery:  rotateEvery,
		loc:          loc,
		logger:       logger.Named("session-tracker"),
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// OnScreenUnlocked starts a new session, finalizing any session still open.
func (t *SessionTracker) OnScreenUnlocked(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var err error
	if t.current != nil {
		_, err = t.finalizeLocked(ctx, now)
	}
	t.lastUnlock = now
	t.startLocked(ctx, now)
	return t.current.SessionID, err
}

// OnScreenOff finalizes and persists the open session. Returns nil when no
// session was open.
func (t *SessionTracker) OnScreenOff(ctx context.Context) (*models.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil, nil
	}
	session, err := t.finalizeLocked(ctx, t.now())
	t.current = nil
	return session, err
}

// Current returns the open session id and the seconds elapsed since the last
// unlock, starting a session when none is open.
func (t *SessionTracker) Current(ctx context.Context) (string, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.current == nil {
		if t.lastUnlock.IsZero() {
			t.lastUnlock = now
		}
		t.startLocked(ctx, now)
	}
	return t.current.SessionID, int64(now.Sub(t.lastUnlock) / time.Second)
}

// ActiveSessionID returns the open session id or "".
func (t *SessionTracker) ActiveSessionID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ""
	}
	return t.current.SessionID
}

// CaptureRecorded counts a persisted capture. When the session reaches its
// rotation size it is finalized and a new session id minted; the finalized
// session is returned.
func (t *SessionTracker) CaptureRecorded(ctx context.Context) (*models.Session, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.current == nil {
		return nil, nil
	}
	t.current.Captures++
	if t.current.Captures < t.rotateEvery {
		return nil, nil
	}

	now := t.now()
	session, err := t.finalizeLocked(ctx, now)
	t.startLocked(ctx, now)
	return session, err
}

func (t *SessionTracker) startLocked(ctx context.Context, now time.Time) {
	user := currentOwner(ctx, t.userRepo, t.logger)
	t.current = &models.SessionTemp{
		SessionID: t.newID(),
		User:      user.Email,
		Start:     now,
	}
	t.logger.Debug("Session started", zap.String("session_id", t.current.SessionID))
}

func (t *SessionTracker) finalizeLocked(ctx context.Context, end time.Time) (*models.Session, error) {
	temp := t.current
	temp.End = end

	session, err := t.BuildCurrentSession(ctx, temp)
	if err != nil {
		return nil, err
	}
	if err := t.sessionRepo.Save(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	t.logger.Debug("Session finalized",
		zap.String("session_id", session.SessionID),
		zap.Int64("duration_ms", session.SessionDuration),
		zap.Int("captures", temp.Captures))
	return session, nil
}

// BuildCurrentSession turns a temp session into a persistable record: end and
// duration, sessions so far today (including this one), the idle gap since
// the previous session ended, the capture rate and the owner's panel.
func (t *SessionTracker) BuildCurrentSession(ctx context.Context, temp *models.SessionTemp) (*models.Session, error) {
	if temp.End.IsZero() || temp.End.Before(temp.Start) {
		temp.End = temp.Start
	}
	session := temp.ToSession()

	start := temp.Start.In(t.loc)
	midnight := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, t.loc)
	today, err := t.sessionRepo.CountStartedSince(ctx, midnight.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("failed to count today's sessions: %w", err)
	}
	session.SessionCountPerDay = today + 1

	prev, err := t.sessionRepo.GetLatest(ctx)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("failed to load previous session: %w", err)
	case prev.SessionID != session.SessionID:
		session.SecondsSinceLastActive = max(session.SessionStartEpoch-prev.SessionEndEpoch, 0)
	}

	settings, err := t.settingsRepo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	session.FPS = settings.FPS

	user := currentOwner(ctx, t.userRepo, t.logger)
	session.User = user.Email
	session.PanelID = user.PanelID
	session.TenantID = user.TenantID
	return session, nil
}
