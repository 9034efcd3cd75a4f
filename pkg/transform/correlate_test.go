package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

func event(group string, at int64) *models.AccessibilityEvent {
	return &models.AccessibilityEvent{AccessibilitySessionID: group, EventTime: at, EventType: "TYPE_VIEW_CLICKED"}
}

func TestCorrelateAccessibilityEvents(t *testing.T) {
	screenshots := []*models.Screenshot{
		{EpochTimestamp: 5000, SessionID: models.StringPtr("later")},
		{EpochTimestamp: 2000, SessionID: models.StringPtr("earliest")},
		{EpochTimestamp: 50000, SessionID: models.StringPtr("far")},
	}

	inWindow := []*models.AccessibilityEvent{event("g1", 1000), event("g1", 6000), event("g1", 3000)}
	untouched := event("g2", 20000)
	untouched.SessionID = models.StringPtr("keep")
	boundary := event("g3", 50000)

	events := append(append([]*models.AccessibilityEvent{}, inWindow...), untouched, boundary)
	out := CorrelateAccessibilityEvents(events, screenshots)

	require.Len(t, out, 5)
	for _, e := range inWindow {
		assert.Equal(t, "earliest", models.Deref(e.SessionID))
	}
	assert.Equal(t, "keep", models.Deref(untouched.SessionID), "no screenshot in window")
	assert.Equal(t, "far", models.Deref(boundary.SessionID), "window bounds are inclusive")
}

func TestCorrelateAccessibilityEvents_NoScreenshots(t *testing.T) {
	e := event("g1", 10)
	CorrelateAccessibilityEvents([]*models.AccessibilityEvent{e}, nil)
	assert.Nil(t, e.SessionID)
}

func TestFindNearestEvent(t *testing.T) {
	s := &models.Screenshot{EpochTimestamp: 10000}

	nearest, gap := FindNearestEvent(s, nil)
	assert.Nil(t, nearest)
	assert.Zero(t, gap)

	events := []*models.AccessibilityEvent{event("a", 8000), event("b", 10400), event("c", 9600)}
	nearest, gap = FindNearestEvent(s, events)
	require.NotNil(t, nearest)
	assert.Equal(t, "b", nearest.AccessibilitySessionID, "first of equal gaps wins")
	assert.Equal(t, int64(400), gap)
}

func TestMatchScreenshotsToEvents(t *testing.T) {
	screenshots := []*models.Screenshot{
		{ID: 1, EpochTimestamp: 1000},
		{ID: 2, EpochTimestamp: 10000},
	}
	events := []*models.AccessibilityEvent{event("a", 2000), event("b", 20000), event("c", 30000)}

	report := MatchScreenshotsToEvents(screenshots, events)

	assert.True(t, report.CountMismatch)
	require.Len(t, report.Matched, 1)
	assert.Equal(t, int64(1), report.Matched[0].Screenshot.ID)
	assert.Equal(t, MatchThresholdMs, report.Matched[0].GapMs)
	require.Len(t, report.UnmatchedScreenshots, 1)
	assert.Equal(t, int64(2), report.UnmatchedScreenshots[0].ID)
	require.Len(t, report.UnmatchedEvents, 1)
	assert.Equal(t, "a", report.UnmatchedEvents[0].AccessibilitySessionID)

	empty := MatchScreenshotsToEvents(screenshots, nil)
	assert.Len(t, empty.UnmatchedScreenshots, 2)
	assert.Empty(t, empty.UnmatchedEvents)
}
