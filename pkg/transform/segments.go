// Package transform holds the pure functions that turn raw capture records
// into app segments, correlated accessibility events and upload CSVs.
package transform

import (
	"sort"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
)

// DefaultMinSegmentDuration is the floor applied to every segment duration.
const DefaultMinSegmentDuration int64 = 3000

// SegmentOptions controls segment duration floors and id minting.
type SegmentOptions struct {
	// MinDuration floors runs that were closed by an app change.
	MinDuration int64
	// TrailingMinDuration floors the last run of the input.
	TrailingMinDuration int64
	// NewID mints segment ids. Defaults to uuid.NewString.
	NewID func() string
}

// DefaultSegmentOptions returns the 3000 ms floor for both run kinds.
func DefaultSegmentOptions() SegmentOptions {
	return SegmentOptions{
		MinDuration:         DefaultMinSegmentDuration,
		TrailingMinDuration: DefaultMinSegmentDuration,
	}
}

// SegmentResult is the output of GroupAndSort: the segments in chronological
// order and the input screenshots reordered and stamped with their segment id.
type SegmentResult struct {
	Segments    []*models.AppSegment
	Screenshots []*models.Screenshot
}

// GroupAndSort splits screenshots into maximal runs of the same foreground
// app. The input is stably sorted by epoch and each record is stamped with the
// id of the segment that contains it.
func GroupAndSort(screenshots []*models.Screenshot, opts SegmentOptions) SegmentResult {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	sorted := make([]*models.Screenshot, len(screenshots))
	copy(sorted, screenshots)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].EpochTimestamp < sorted[j].EpochTimestamp
	})

	result := SegmentResult{Screenshots: make([]*models.Screenshot, 0, len(sorted))}
	if len(sorted) == 0 {
		return result
	}

	closeRun := func(run []*models.Screenshot, floor int64) {
		first, last := run[0], run[len(run)-1]
		id := opts.NewID()
		result.Segments = append(result.Segments, &models.AppSegment{
			AppSegmentID:       id,
			SessionID:          models.Deref(first.SessionID),
			AppTitle:           first.CurrentAppInUse,
			AppSegmentStart:    first.EpochTimestamp,
			AppSegmentEnd:      last.EpochTimestamp,
			AppSegmentDuration: max(last.EpochTimestamp-first.EpochTimestamp, floor),
			UserID:             first.User,
		})
		for _, s := range run {
			s.AppSegmentID = &id
			result.Screenshots = append(result.Screenshots, s)
		}
	}

	start := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i].CurrentAppInUse != sorted[start].CurrentAppInUse {
			closeRun(sorted[start:i], opts.MinDuration)
			start = i
		}
	}
	closeRun(sorted[start:], opts.TrailingMinDuration)

	return result
}

// AddPrevNextContext fills the neighbor app fields of each segment from its
// position in the slice. Out-of-range or untitled neighbors become "NA".
func AddPrevNextContext(segments []*models.AppSegment) {
	neighbor := func(i int) string {
		if i < 0 || i >= len(segments) || segments[i].AppTitle == "" {
			return models.NoNeighborApp
		}
		return segments[i].AppTitle
	}

	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		seg.AppNext1 = neighbor(i + 1)
		seg.AppPrev1 = neighbor(i - 1)
		seg.AppPrev2 = neighbor(i - 2)
		seg.AppPrev3 = neighbor(i - 3)
		seg.AppPrev4 = neighbor(i - 4)
	}
}

// DeriveSegments groups one session's screenshots and fills neighbor context.
func DeriveSegments(screenshots []*models.Screenshot, opts SegmentOptions) SegmentResult {
	result := GroupAndSort(screenshots, opts)
	AddPrevNextContext(result.Segments)
	return result
}
