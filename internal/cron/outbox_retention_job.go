package cron

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	outboxMinAttempts      = 5
)

// OutboxRetentionJobParams configure pruning of delivered and dead outbox rows.
type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	DB            txRunner
	Repository    outboxRetentionRepo
	DLQRepository dlqRetentionRepo
	Retention     time.Duration
	DLQRetention  time.Duration
	MinAttempts   int
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxRetentionRepo interface {
	DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error)
}

type dlqRetentionRepo interface {
	DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error)
}

// NewOutboxRetentionJob prunes published events and exhausted rows past the
// retention window, plus DLQ entries past the longer DLQ window. Both deletes
// share one transaction.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repository == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultOutboxRetention
	}
	dlqRetention := params.DLQRetention
	if dlqRetention <= 0 {
		dlqRetention = defaultDLQRetention
	}
	minAttempts := params.MinAttempts
	if minAttempts <= 0 {
		minAttempts = outboxMinAttempts
	}
	return &outboxRetentionJob{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repository,
		dlq:          params.DLQRepository,
		retention:    retention,
		dlqRetention: dlqRetention,
		minAttempts:  minAttempts,
		now:          time.Now,
	}, nil
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	db           txRunner
	repo         outboxRetentionRepo
	dlq          dlqRetentionRepo
	retention    time.Duration
	dlqRetention time.Duration
	minAttempts  int
	now          func() time.Time
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	cutoff := now.Add(-j.retention)
	dlqCutoff := now.Add(-j.dlqRetention)

	var events, dead int64
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := j.repo.DeletePublishedBefore(ctx, tx, cutoff, j.minAttempts)
		if err != nil {
			return fmt.Errorf("prune outbox events: %w", err)
		}
		events = rows
		if j.dlq == nil {
			return nil
		}
		rows, err = j.dlq.DeleteFailedBefore(ctx, tx, dlqCutoff)
		if err != nil {
			return fmt.Errorf("prune outbox dlq: %w", err)
		}
		dead = rows
		return nil
	})
	if err != nil {
		return fmt.Errorf("outbox retention: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":           cutoff,
		"dlq_cutoff":       dlqCutoff,
		"min_attempts":     j.minAttempts,
		"events_deleted":   events,
		"dlq_rows_deleted": dead,
	})
	j.logg.Info(logCtx, "cron.outbox_retention.complete")
	return nil
}
