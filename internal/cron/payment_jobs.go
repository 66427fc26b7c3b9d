package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/pushpay-backend/internal/reconciliation"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

const (
	defaultPendingWindow    = 15 * time.Minute
	defaultFulfillmentGrace = 2 * time.Minute
	defaultMaxFulfill       = 10
	defaultBatchLimit       = 100
)

type callbackReplayer interface {
	ReplayParked(ctx context.Context, policy reconciliation.ReplayPolicy) (reconciliation.ReplayResult, error)
}

type intentExpirer interface {
	Expire(ctx context.Context, token string) (bool, error)
}

type intentFulfiller interface {
	Fulfill(ctx context.Context, intent *models.PaymentIntent) error
}

type outstandingReporter interface {
	Report(ctx context.Context) (reconciliation.Outstanding, error)
}

type pendingIntentReader interface {
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
}

type unfulfilledIntentReader interface {
	ListUnfulfilled(ctx context.Context, resolvedBefore time.Time, maxAttempts, limit int) ([]models.PaymentIntent, error)
}

// CallbackReplayJobParams configure replay of parked provider callbacks.
type CallbackReplayJobParams struct {
	Logger      *logger.Logger
	Engine      callbackReplayer
	MaxAttempts int
	MaxAge      time.Duration
}

func NewCallbackReplayJob(params CallbackReplayJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	return &callbackReplayJob{
		logg:   params.Logger,
		engine: params.Engine,
		policy: reconciliation.ReplayPolicy{MaxAttempts: params.MaxAttempts, MaxAge: params.MaxAge},
	}, nil
}

type callbackReplayJob struct {
	logg   *logger.Logger
	engine callbackReplayer
	policy reconciliation.ReplayPolicy
}

func (j *callbackReplayJob) Name() string { return "callback-replay" }

func (j *callbackReplayJob) Run(ctx context.Context) error {
	summary, err := j.engine.ReplayParked(ctx, j.policy)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"applied":   summary.Applied,
		"remaining": summary.Remaining,
		"dropped":   summary.Dropped,
	})
	if err != nil {
		return fmt.Errorf("replay parked callbacks: %w", err)
	}
	j.logg.Info(logCtx, "cron.callback_replay_complete")
	return nil
}

// StaleIntentJobParams configure expiry of intents that never got a callback.
type StaleIntentJobParams struct {
	Logger        *logger.Logger
	Intents       pendingIntentReader
	Engine        intentExpirer
	PendingWindow time.Duration
	Limit         int
}

func NewStaleIntentJob(params StaleIntentJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	window := params.PendingWindow
	if window <= 0 {
		window = defaultPendingWindow
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	return &staleIntentJob{
		logg:    params.Logger,
		intents: params.Intents,
		engine:  params.Engine,
		window:  window,
		limit:   limit,
		now:     time.Now,
	}, nil
}

type staleIntentJob struct {
	logg    *logger.Logger
	intents pendingIntentReader
	engine  intentExpirer
	window  time.Duration
	limit   int
	now     func() time.Time
}

func (j *staleIntentJob) Name() string { return "stale-intent-sweep" }

func (j *staleIntentJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.window)
	stale, err := j.intents.ListPendingBefore(ctx, cutoff, j.limit)
	if err != nil {
		return fmt.Errorf("list stale intents: %w", err)
	}
	var errs error
	expired := 0
	for i := range stale {
		ok, err := j.engine.Expire(ctx, stale[i].CorrelationToken)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", stale[i].CorrelationToken, err))
			continue
		}
		if ok {
			expired++
		}
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(stale),
		"expired":    expired,
	})
	j.logg.Info(logCtx, "cron.stale_intent_sweep_complete")
	return errs
}

// FulfillmentRetryJobParams configure retries of side effects for resolved intents.
type FulfillmentRetryJobParams struct {
	Logger      *logger.Logger
	Intents     unfulfilledIntentReader
	Engine      intentFulfiller
	Grace       time.Duration
	MaxAttempts int
	Limit       int
}

func NewFulfillmentRetryJob(params FulfillmentRetryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Intents == nil {
		return nil, fmt.Errorf("intent repository required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultFulfillmentGrace
	}
	maxAttempts := params.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxFulfill
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultBatchLimit
	}
	return &fulfillmentRetryJob{
		logg:        params.Logger,
		intents:     params.Intents,
		engine:      params.Engine,
		grace:       grace,
		maxAttempts: maxAttempts,
		limit:       limit,
		now:         time.Now,
	}, nil
}

type fulfillmentRetryJob struct {
	logg        *logger.Logger
	intents     unfulfilledIntentReader
	engine      intentFulfiller
	grace       time.Duration
	maxAttempts int
	limit       int
	now         func() time.Time
}

func (j *fulfillmentRetryJob) Name() string { return "fulfillment-retry" }

// Run retries intents resolved more than grace ago that still have no
// fulfilled_at. The grace keeps the job off rows a callback is still fulfilling.
func (j *fulfillmentRetryJob) Run(ctx context.Context) error {
	resolvedBefore := j.now().UTC().Add(-j.grace)
	pending, err := j.intents.ListUnfulfilled(ctx, resolvedBefore, j.maxAttempts, j.limit)
	if err != nil {
		return fmt.Errorf("list unfulfilled intents: %w", err)
	}
	var errs error
	fulfilled := 0
	for i := range pending {
		if err := j.engine.Fulfill(ctx, &pending[i]); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("fulfill %s: %w", pending[i].CorrelationToken, err))
			continue
		}
		fulfilled++
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"candidates": len(pending),
		"fulfilled":  fulfilled,
	})
	j.logg.Info(logCtx, "cron.fulfillment_retry_complete")
	return errs
}

// ReconciliationReportJobParams configure the outstanding-work report.
type ReconciliationReportJobParams struct {
	Logger *logger.Logger
	Engine outstandingReporter
}

func NewReconciliationReportJob(params ReconciliationReportJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("reconciliation engine required")
	}
	return &reconciliationReportJob{logg: params.Logger, engine: params.Engine}, nil
}

type reconciliationReportJob struct {
	logg   *logger.Logger
	engine outstandingReporter
}

func (j *reconciliationReportJob) Name() string { return "reconciliation-report" }

func (j *reconciliationReportJob) Run(ctx context.Context) error {
	out, err := j.engine.Report(ctx)
	if err != nil {
		return fmt.Errorf("reconciliation report: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"gaps":        out.Gaps,
		"parked":      out.Parked,
		"pending":     out.Pending,
		"unfulfilled": out.Unfulfilled,
	})
	if out.Gaps > 0 {
		j.logg.Warn(logCtx, "cron.reconciliation_gaps_outstanding")
		return nil
	}
	if out.Unfulfilled > 0 {
		j.logg.Warn(logCtx, "cron.reconciliation_unfulfilled_outstanding")
		return nil
	}
	j.logg.Info(logCtx, "cron.reconciliation_report")
	return nil
}
