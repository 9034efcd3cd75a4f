package retry

import (
	"context"
	"errors"
	"fmt"
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedConfig_FrameAcquisition(t *testing.T) {
	cfg := FixedConfig(3, 5*time.Millisecond)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Zero(t, FixedConfig(0, time.Millisecond).MaxRetries, "at least one attempt")

	attempts := 0
	start := time.Now()
	img, err := DoWithResult(context.Background(), cfg, func() (image.Image, error) {
		attempts++
		if attempts < 3 {
			return nil, errors.New("frame not ready")
		}
		return image.NewGray(image.Rect(0, 0, 2, 2)), nil
	})
	require.NoError(t, err)
	assert.NotNil(t, img)
	assert.Equal(t, 3, attempts)
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "two fixed delays")
}

func TestFixedConfig_Exhausted(t *testing.T) {
	attempts := 0
	err := Do(context.Background(), FixedConfig(2, time.Millisecond), func() error {
		attempts++
		return errors.New("frame not ready")
	})
	assert.EqualError(t, err, "frame not ready")
	assert.Equal(t, 2, attempts)
}

func TestDo_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Do(ctx, FixedConfig(5, time.Hour), func() error {
		attempts++
		cancel()
		return errors.New("frame not ready")
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sqlite busy", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"upload connection reset", errors.New("Put \"https://bucket/obj\": connection reset by peer"), true},
		{"dns", errors.New("dial tcp: lookup storage.example.com: no such host"), true},
		{"http 503", errors.New("upload failed: status 503"), true},
		{"http 429", errors.New("too many requests"), true},
		{"http 403", errors.New("upload failed: status 403"), false},
		{"canceled", context.Canceled, false},
		{"disk full", errors.New("write image_zip_a_4.zip: no space left on device"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

type statusErr struct {
	code      int
	retryable bool
}

func (e *statusErr) Error() string     { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) IsRetryable() bool { return e.retryable }

func TestIsRetryable_ExplicitClassificationWins(t *testing.T) {
	assert.False(t, IsRetryable(fmt.Errorf("failed to upload: %w", &statusErr{code: 503})))
	assert.True(t, IsRetryable(fmt.Errorf("failed to sign: %w", &statusErr{code: 409, retryable: true})))
}

func TestDoIfRetryable(t *testing.T) {
	cfg := &Config{MaxRetries: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1, MaxSameErrorType: 3}

	t.Run("permanent error returns at once", func(t *testing.T) {
		attempts := 0
		err := DoIfRetryable(context.Background(), cfg, func() error {
			attempts++
			return &statusErr{code: 403}
		})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})

	t.Run("transient error recovers", func(t *testing.T) {
		attempts := 0
		err := DoIfRetryable(context.Background(), cfg, func() error {
			attempts++
			if attempts == 1 {
				return errors.New("database is locked")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
	})

	t.Run("repeated error type escalates", func(t *testing.T) {
		attempts := 0
		err := DoIfRetryable(context.Background(), cfg, func() error {
			attempts++
			return errors.New("upload failed: status 502")
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "type=502")
		assert.Equal(t, 3, attempts)
	})
}
