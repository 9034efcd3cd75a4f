package services

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-recorder/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-recorder/pkg/models"
	"github.com/ekaya-inc/ekaya-recorder/pkg/repositories"
)

// PassResult summarizes one run of a pipeline pass.
type PassResult struct {
	RunID     string `json:"run_id,omitempty"`
	Skipped   bool   `json:"skipped"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Batches   int    `json:"batches,omitempty"`
}

// currentOwner returns the enrolled device owner, or the default owner when
// nobody has enrolled yet.
func currentOwner(ctx context.Context, users repositories.UserRepository, logger *zap.Logger) *models.User {
	user, err := users.Get(ctx)
	if err == nil {
		return user
	}
	if !errors.Is(err, apperrors.ErrNotFound) {
		logger.Warn("Failed to load device owner, using defaults", zap.Error(err))
	}
	return models.NewDefaultUser()
}

// recordEvent persists a diagnostic event. Failures are logged, never returned:
// a broken log table must not stop the pipeline.
func recordEvent(ctx context.Context, logs repositories.LogRepository, logger *zap.Logger, event, msg, user string) {
	if err := logs.Save(ctx, event, msg, user); err != nil {
		logger.Warn("Failed to record log event",
			zap.String("event", event),
			zap.Error(err))
	}
}
