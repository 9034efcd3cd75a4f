package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// SessionRepository defines the interface for session data access.
type SessionRepository interface {
	// Save inserts the session or, when its session id exists, updates its end.
	Save(ctx context.Context, s *models.Session) error
	GetBySessionIDs(ctx context.Context, sessionIDs []string) ([]*models.Session, error)
	// GetLatest returns the session with the latest end, or ErrNotFound.
	GetLatest(ctx context.Context) (*models.Session, error)
	// CountStartedSince counts sessions that started at or after epochMs.
	CountStartedSince(ctx context.Context, epochMs int64) (int, error)
	DeleteBySessionIDs(ctx context.Context, sessionIDs []string) (int64, error)
	DeleteAll(ctx context.Context) error
}

type sessionRepository struct {
	store
}

var _ SessionRepository = (*sessionRepository)(nil)

// NewSessionRepository creates a new session repository.
func NewSessionRepository(db *database.DB) SessionRepository {
	return &sessionRepository{store: store{db: db}}
}

const sessionColumns = `id, user_email, session_id, session_start_epoch, session_end_epoch,
	session_start, session_end, seconds_since_last_active, session_duration,
	session_count_per_day, fps, panel_id, tenant_id`

func scanSession(row interface{ Scan(...any) error }) (*models.Session, error) {
	var s models.Session
	err := row.Scan(
		&s.ID,
		&s.User,
		&s.SessionID,
		&s.SessionStartEpoch,
		&s.SessionEndEpoch,
		&s.SessionStart,
		&s.SessionEnd,
		&s.SecondsSinceLastActive,
		&s.SessionDuration,
		&s.SessionCountPerDay,
		&s.FPS,
		&s.PanelID,
		&s.TenantID,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanSessionRows(rows *sql.Rows) (*models.Session, error) {
	return scanSession(rows)
}

func (r *sessionRepository) Save(ctx context.Context, s *models.Session) error {
	if s.SessionEndEpoch != 0 && s.SessionEndEpoch < s.SessionStartEpoch {
		return fmt.Errorf("session %s ends before it starts", s.SessionID)
	}

	id, err := r.insert(ctx, `
		INSERT INTO sessions (user_email, session_id, session_start_epoch, session_end_epoch,
			session_start, session_end, seconds_since_last_active, session_duration,
			session_count_per_day, fps, panel_id, tenant_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id) DO UPDATE
		SET session_end_epoch = excluded.session_end_epoch,
		    session_end = excluded.session_end,
		    session_duration = excluded.session_duration`,
		s.User,
		s.SessionID,
		s.SessionStartEpoch,
		s.SessionEndEpoch,
		s.SessionStart,
		s.SessionEnd,
		s.SecondsSinceLastActive,
		s.SessionDuration,
		s.SessionCountPerDay,
		s.FPS,
		s.PanelID,
		s.TenantID,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	s.ID = id
	return nil
}

func (r *sessionRepository) GetBySessionIDs(ctx context.Context, sessionIDs []string) ([]*models.Session, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	clause, args := database.InClause(sessionIDs)
	rows, err := r.query(ctx, `SELECT `+sessionColumns+` FROM sessions
		WHERE session_id IN `+clause+` ORDER BY session_start_epoch, id`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}
	out, err := scanAll(rows, scanSessionRows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan sessions: %w", err)
	}
	return out, nil
}

func (r *sessionRepository) GetLatest(ctx context.Context) (*models.Session, error) {
	s, err := scanSession(r.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
		ORDER BY session_end_epoch DESC, id DESC LIMIT 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest session: %w", err)
	}
	return s, nil
}

func (r *sessionRepository) CountStartedSince(ctx context.Context, epochMs int64) (int, error) {
	n, err := r.count(ctx, `SELECT COUNT(*) FROM sessions WHERE session_start_epoch >= ?`, epochMs)
	if err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

func (r *sessionRepository) DeleteBySessionIDs(ctx context.Context, sessionIDs []string) (int64, error) {
	n, err := deleteIn(ctx, r.store, "sessions", "session_id", sessionIDs)
	if err != nil {
		return n, fmt.Errorf("failed to delete sessions: %w", err)
	}
	return n, nil
}

func (r *sessionRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.exec(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	return nil
}
