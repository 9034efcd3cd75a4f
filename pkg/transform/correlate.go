package transform

import (
	"sort"

	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// MatchThresholdMs is the largest gap at which a screenshot and an
// accessibility event are considered the same moment.
const MatchThresholdMs int64 = 1000

// CorrelateAccessibilityEvents assigns each group of events sharing an
// accessibility session the session id of the earliest screenshot captured
// within the group's [first, last] event-time window. Groups with no
// screenshot in their window keep their session id. Events are updated in
// place and returned for chaining.
func CorrelateAccessibilityEvents(events []*models.AccessibilityEvent, screenshots []*models.Screenshot) []*models.AccessibilityEvent {
	if len(events) == 0 || len(screenshots) == 0 {
		return events
	}

	chrono := make([]*models.Screenshot, len(screenshots))
	copy(chrono, screenshots)
	sort.SliceStable(chrono, func(i, j int) bool {
		return chrono[i].EpochTimestamp < chrono[j].EpochTimestamp
	})

	type window struct {
		start, end int64
		members    []*models.AccessibilityEvent
	}
	groups := make(map[string]*window)
	var order []string
	for _, e := range events {
		w, ok := groups[e.AccessibilitySessionID]
		if !ok {
			w = &window{start: e.EventTime, end: e.EventTime}
			groups[e.AccessibilitySessionID] = w
			order = append(order, e.AccessibilitySessionID)
		}
		w.start = min(w.start, e.EventTime)
		w.end = max(w.end, e.EventTime)
		w.members = append(w.members, e)
	}

	for _, key := range order {
		w := groups[key]
		// First screenshot at or after the window start.
		i := sort.Search(len(chrono), func(i int) bool { return chrono[i].EpochTimestamp >= w.start })
		if i == len(chrono) || chrono[i].EpochTimestamp > w.end {
			continue
		}
		sessionID := chrono[i].SessionID
		for _, e := range w.members {
			e.SessionID = sessionID
		}
	}

	return events
}

// FindNearestEvent returns the event closest in time to the screenshot, or
// nil when events is empty. Ties go to the earliest event in the slice.
func FindNearestEvent(screenshot *models.Screenshot, events []*models.AccessibilityEvent) (*models.AccessibilityEvent, int64) {
	var nearest *models.AccessibilityEvent
	var best int64
	for _, e := range events {
		d := abs(e.EventTime - screenshot.EpochTimestamp)
		if nearest == nil || d < best {
			nearest, best = e, d
		}
	}
	return nearest, best
}

// Match pairs a screenshot with the event nearest to it.
type Match struct {
	Screenshot *models.Screenshot
	Event      *models.AccessibilityEvent
	GapMs      int64
}

// MatchReport summarizes how well screenshots line up with accessibility
// events.
type MatchReport struct {
	Matched              []Match
	UnmatchedScreenshots []*models.Screenshot
	// UnmatchedEvents holds nearest events that were too far away to match.
	UnmatchedEvents []*models.AccessibilityEvent
	CountMismatch   bool
}

// MatchScreenshotsToEvents pairs each screenshot with its nearest event when
// the gap is within MatchThresholdMs. The report is diagnostic only.
func MatchScreenshotsToEvents(screenshots []*models.Screenshot, events []*models.AccessibilityEvent) MatchReport {
	report := MatchReport{CountMismatch: len(screenshots) != len(events)}
	for _, s := range screenshots {
		nearest, gap := FindNearestEvent(s, events)
		switch {
		case nearest == nil:
			report.UnmatchedScreenshots = append(report.UnmatchedScreenshots, s)
		case gap <= MatchThresholdMs:
			report.Matched = append(report.Matched, Match{Screenshot: s, Event: nearest, GapMs: gap})
		default:
			report.UnmatchedScreenshots = append(report.UnmatchedScreenshots, s)
			report.UnmatchedEvents = append(report.UnmatchedEvents, nearest)
		}
	}
	return report
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
