package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/database"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
	"github.com/ekaya-inc/ekaya-recorder/pkg/transform"
)

// ActiveSession reports the session still being recorded. Its screenshots are
// not segmented until the session closes.
type ActiveSession interface {
	ActiveSessionID() string
}

// SegmentService derives app segments for closed sessions.
type SegmentService interface {
	// SaveAllSessionSegments segments every closed session whose screenshots
	// lack a segment id. Returns the number of segments created.
	SaveAllSessionSegments(ctx context.Context) (int, error)
}

type segmentService struct {
	db          *database.DB
	screenshots repositories.ScreenshotRepository
	segments    repositories.AppSegmentRepository
	active      ActiveSession
	opts        transform.SegmentOptions
	logger      *zap.Logger
}

// NewSegmentService creates a SegmentService.
func NewSegmentService(
	db *database.DB,
	screenshots repositories.ScreenshotRepository,
	segments repositories.AppSegmentRepository,
	active ActiveSession,
	opts transform.SegmentOptions,
	logger *zap.Logger,
) SegmentService {
	return &segmentService{
		db:          db,
		screenshots: screenshots,
		segments:    segments,
		active:      active,
		opts:        opts,
		logger:      logger.Named("segment-service"),
	}
}

var _ SegmentService = (*segmentService)(nil)

func (s *segmentService) SaveAllSessionSegments(ctx context.Context) (int, error) {
	rows, err := s.screenshots.FetchWithoutSegment(ctx, s.active.ActiveSessionID())
	if err != nil {
		return 0, fmt.Errorf("failed to fetch unsegmented screenshots: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	bySession := make(map[string][]*models.Screenshot)
	var order []string
	for _, r := range rows {
		id := models.Deref(r.SessionID)
		if id == "" {
			s.logger.Warn("Screenshot has no session, leaving unsegmented", zap.Int64("screenshot_id", r.ID))
			continue
		}
		if _, ok := bySession[id]; !ok {
			order = append(order, id)
		}
		bySession[id] = append(bySession[id], r)
	}

	created := 0
	for _, sessionID := range order {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		result := transform.DeriveSegments(bySession[sessionID], s.opts)
		assign := make(map[int64]string, len(result.Screenshots))
		for _, shot := range result.Screenshots {
			assign[shot.ID] = models.Deref(shot.AppSegmentID)
		}

		err := s.db.WithTx(ctx, func(ctx context.Context) error {
			if err := s.segments.CreateBatch(ctx, result.Segments); err != nil {
				return err
			}
			return s.screenshots.AssignSegments(ctx, assign)
		})
		if err != nil {
			return created, fmt.Errorf("failed to save segments for session %s: %w", sessionID, err)
		}
		created += len(result.Segments)
	}

	s.logger.Debug("Derived app segments",
		zap.Int("sessions", len(order)),
		zap.Int("segments", created))
	return created, nil
}
