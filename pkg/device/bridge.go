// Package device connects the pipeline to the platform: the state reported
// by the device bridge, the frame spool written by the display mirror and
// host probes for storage, network and power.
package device

import (
	"sync"
	"time"
)

// App identifies the foreground application.
type App struct {
	Package string `json:"package"`
	Name    string `json:"name"`
}

// State is what the capture loop needs to know about the device.
type State interface {
	// Foreground returns the app currently in front of the user.
	Foreground() App
	// IsLocked reports whether the screen is off or locked.
	IsLocked() bool
	// ProjectionValid reports whether the capture grant is still in effect.
	ProjectionValid() bool
}

// Bridge holds the device state pushed over the bridge API.
type Bridge struct {
	mu              sync.RWMutex
	foreground      App
	locked          bool
	projectionValid bool
	updatedAt       time.Time
}

var _ State = (*Bridge)(nil)

// NewBridge returns a bridge with the screen locked and a valid grant.
func NewBridge() *Bridge {
	return &Bridge{locked: true, projectionValid: true}
}

func (b *Bridge) Foreground() App {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.foreground
}

func (b *Bridge) IsLocked() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.locked
}

func (b *Bridge) ProjectionValid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.projectionValid
}

// SetForeground records the app the device reports in front.
func (b *Bridge) SetForeground(app App) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreground = app
	b.updatedAt = time.Now()
}

// SetLocked records the screen state and reports whether it changed.
func (b *Bridge) SetLocked(locked bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	changed := b.locked != locked
	b.locked = locked
	b.updatedAt = time.Now()
	return changed
}

// SetProjectionValid records whether the capture grant is in effect.
func (b *Bridge) SetProjectionValid(valid bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.projectionValid = valid
	b.updatedAt = time.Now()
}

// UpdatedAt returns the time of the last bridge report.
func (b *Bridge) UpdatedAt() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.updatedAt
}
