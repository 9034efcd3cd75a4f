package device

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // frame decoders
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
)

// FrameSource yields the current screen content.
type FrameSource interface {
	// Acquire returns the latest frame, or apperrors.ErrFrameUnavailable when
	// none is ready.
	Acquire(ctx context.Context) (image.Image, error)
	// Reset tears down and recreates the capture surface.
	Reset(ctx context.Context) error
	Close() error
}

// SpoolFrameSource reads frames that the display mirror drops into a spool
// directory. The newest frame wins and every older frame is discarded.
type SpoolFrameSource struct {
	dir    string
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
}

var _ FrameSource = (*SpoolFrameSource)(nil)

// NewSpoolFrameSource creates the spool directory if needed.
func NewSpoolFrameSource(dir string, logger *zap.Logger) (*SpoolFrameSource, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create spool dir: %w", err)
	}
	return &SpoolFrameSource{dir: dir, logger: logger.Named("frames")}, nil
}

func (s *SpoolFrameSource) Acquire(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("frame source closed: %w", apperrors.ErrFrameUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frames, err := s.list()
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, apperrors.ErrFrameUnavailable
	}

	newest := frames[len(frames)-1]
	img, err := decodeFile(newest)
	if err != nil {
		// A partial write never completes; drop it so the next attempt can
		// fall back to an older frame.
		_ = os.Remove(newest)
		return nil, err
	}

	for _, f := range frames {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to remove consumed frame", zap.String("file", f), zap.Error(err))
		}
	}
	return img, nil
}

func (s *SpoolFrameSource) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames, err := s.list()
	if err != nil {
		return err
	}
	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = os.Remove(f)
	}
	s.closed = false
	s.logger.Info("Capture surface reset", zap.Int("discarded_frames", len(frames)))
	return nil
}

func (s *SpoolFrameSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// list returns frame files ordered oldest first.
func (s *SpoolFrameSource) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read spool dir: %w", err)
	}

	type frame struct {
		path string
		mod  int64
	}
	var frames []frame
	for _, e := range entries {
		if e.IsDir() || !isFrameFile(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		frames = append(frames, frame{path: filepath.Join(s.dir, e.Name()), mod: info.ModTime().UnixNano()})
	}
	sort.Slice(frames, func(i, j int) bool {
		if frames[i].mod == frames[j].mod {
			return frames[i].path < frames[j].path
		}
		return frames[i].mod < frames[j].mod
	})

	paths := make([]string, len(frames))
	for i, f := range frames {
		paths[i] = f.path
	}
	return paths, nil
}

func isFrameFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".png":
		return true
	}
	return false
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open frame: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}
