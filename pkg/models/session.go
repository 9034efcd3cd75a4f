package models

import "time"

// Session is a finalized span of activity from screen unlock to screen off
// (or to a capture-count rotation).
type Session struct {
	ID                     int64   `json:"id"`
	User                   string  `json:"user"`
	SessionID              string  `json:"session_id"`
	SessionStartEpoch      int64   `json:"session_start_epoch"`
	SessionEndEpoch        int64   `json:"session_end_epoch"`
	SessionStart           string  `json:"session_start"`
	SessionEnd             string  `json:"session_end"`
	SecondsSinceLastActive int64   `json:"seconds_since_last_active"`
	SessionDuration        int64   `json:"session_duration"`
	SessionCountPerDay     int     `json:"session_count_per_day"`
	FPS                    float64 `json:"fps"`
	PanelID                string  `json:"panel_id"`
	TenantID               string  `json:"tenant_id"`
}

// SessionTemp is the in-memory session being recorded.
type SessionTemp struct {
	SessionID string
	User      string
	Start     time.Time
	End       time.Time
	Captures  int
}

// ToSession converts the temp struct into a persistable record. Derived
// fields (count per day, idle gap, fps) are filled by the caller.
func (t *SessionTemp) ToSession() *Session {
	s := &Session{
		User:              t.User,
		SessionID:         t.SessionID,
		SessionStartEpoch: t.Start.UnixMilli(),
		SessionStart:      FormatUTC(t.Start),
	}
	if !t.End.IsZero() {
		s.SessionEndEpoch = t.End.UnixMilli()
		s.SessionEnd = FormatUTC(t.End)
		s.SessionDuration = t.End.Sub(t.Start).Milliseconds()
	}
	return s
}

// FormatUTC renders t as an ISO-8601 UTC instant with millisecond precision.
func FormatUTC(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}
