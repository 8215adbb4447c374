package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/budgeo/budgeo/internal/jobs"
)

// idempotencyRetention is how long claimed import keys are kept before the
// sweep removes them. Long enough that a client retrying a stale batch still
// gets the conflict instead of a silent duplicate.
const idempotencyRetention = 30 * 24 * time.Hour

// KeyPruner is the slice of the idempotency store the cleanup uses.
type KeyPruner interface {
	Cleanup(ctx context.Context, olderThan time.Duration) error
}

// IdempotencyCleaner drops idempotency keys past retention.
type IdempotencyCleaner struct {
	keys    KeyPruner
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewIdempotencyCleaner constructs the cleaner.
func NewIdempotencyCleaner(keys KeyPruner, logger *slog.Logger, metrics *jobmetrics.Metrics) *IdempotencyCleaner {
	return &IdempotencyCleaner{keys: keys, logger: logger, metrics: metrics}
}

// Handler adapts the cleaner to an Asynq handler.
func (c *IdempotencyCleaner) Handler() asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := c.metrics.Track("idempotency_cleanup")
		return tracker.End(c.Run(ctx))
	}
}

// Run performs one sweep.
func (c *IdempotencyCleaner) Run(ctx context.Context) error {
	if err := c.keys.Cleanup(ctx, idempotencyRetention); err != nil {
		return err
	}
	c.logger.Info("idempotency keys pruned", slog.Duration("retention", idempotencyRetention))
	return nil
}
