package cron

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/pushpay-backend/internal/reconciliation"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

type fakeEngine struct {
	policy    reconciliation.ReplayPolicy
	replayErr error
	expired   []string
	expireErr map[string]error
	fulfilled []string
	fulfilErr map[string]error
	report    reconciliation.Outstanding
}

func (f *fakeEngine) ReplayParked(_ context.Context, policy reconciliation.ReplayPolicy) (reconciliation.ReplayResult, error) {
	f.policy = policy
	return reconciliation.ReplayResult{Applied: 2}, f.replayErr
}

func (f *fakeEngine) Expire(_ context.Context, token string) (bool, error) {
	if err := f.expireErr[token]; err != nil {
		return false, err
	}
	f.expired = append(f.expired, token)
	return true, nil
}

func (f *fakeEngine) Fulfill(_ context.Context, intent *models.PaymentIntent) error {
	if err := f.fulfilErr[intent.CorrelationToken]; err != nil {
		return err
	}
	f.fulfilled = append(f.fulfilled, intent.CorrelationToken)
	return nil
}

func (f *fakeEngine) Report(context.Context) (reconciliation.Outstanding, error) {
	return f.report, nil
}

type fakeIntentReader struct {
	intents        []models.PaymentIntent
	cutoff         time.Time
	maxAttempts    int
	resolvedBefore time.Time
}

func (f *fakeIntentReader) ListPendingBefore(_ context.Context, cutoff time.Time, _ int) ([]models.PaymentIntent, error) {
	f.cutoff = cutoff
	return f.intents, nil
}

func (f *fakeIntentReader) ListUnfulfilled(_ context.Context, resolvedBefore time.Time, maxAttempts, _ int) ([]models.PaymentIntent, error) {
	f.resolvedBefore = resolvedBefore
	f.maxAttempts = maxAttempts
	return f.intents, nil
}

func intentsWithTokens(tokens ...string) []models.PaymentIntent {
	out := make([]models.PaymentIntent, 0, len(tokens))
	for _, token := range tokens {
		out = append(out, models.PaymentIntent{CorrelationToken: token})
	}
	return out
}

func TestCallbackReplayJobPassesPolicy(t *testing.T) {
	engine := &fakeEngine{}
	job, err := NewCallbackReplayJob(CallbackReplayJobParams{Logger: logger.Nop(), Engine: engine, MaxAttempts: 20, MaxAge: time.Hour})
	if err != nil {
		t.Fatalf("NewCallbackReplayJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if engine.policy.MaxAttempts != 20 || engine.policy.MaxAge != time.Hour {
		t.Fatalf("unexpected policy %+v", engine.policy)
	}

	engine.replayErr = errors.New("redis down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected replay error to propagate")
	}
}

func TestStaleIntentJobExpiresPastWindow(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeIntentReader{intents: intentsWithTokens("ws_CO_1", "ws_CO_2", "ws_CO_3")}
	engine := &fakeEngine{expireErr: map[string]error{"ws_CO_2": errors.New("db timeout")}}
	jobIface, err := NewStaleIntentJob(StaleIntentJobParams{Logger: logger.Nop(), Intents: reader, Engine: engine})
	if err != nil {
		t.Fatalf("NewStaleIntentJob: %v", err)
	}
	job := jobIface.(*staleIntentJob)
	job.now = func() time.Time { return now }

	err = job.Run(context.Background())
	if err == nil {
		t.Fatal("expected aggregated error for the failing intent")
	}
	if want := now.Add(-defaultPendingWindow); !reader.cutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, reader.cutoff)
	}
	if len(engine.expired) != 2 {
		t.Fatalf("expected the other intents to still expire, got %v", engine.expired)
	}
}

func TestFulfillmentRetryJobRetriesResolvedIntents(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	reader := &fakeIntentReader{intents: intentsWithTokens("ws_CO_1", "ws_CO_2")}
	engine := &fakeEngine{}
	jobIface, err := NewFulfillmentRetryJob(FulfillmentRetryJobParams{
		Logger:      logger.Nop(),
		Intents:     reader,
		Engine:      engine,
		Grace:       5 * time.Minute,
		MaxAttempts: 3,
	})
	if err != nil {
		t.Fatalf("NewFulfillmentRetryJob: %v", err)
	}
	job := jobIface.(*fulfillmentRetryJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-5 * time.Minute); !reader.resolvedBefore.Equal(want) {
		t.Fatalf("expected resolvedBefore %s, got %s", want, reader.resolvedBefore)
	}
	if reader.maxAttempts != 3 {
		t.Fatalf("expected max attempts 3, got %d", reader.maxAttempts)
	}
	if len(engine.fulfilled) != 2 {
		t.Fatalf("expected 2 fulfillments, got %v", engine.fulfilled)
	}
}

func TestFulfillmentRetryJobAggregatesFailures(t *testing.T) {
	reader := &fakeIntentReader{intents: intentsWithTokens("ws_CO_1", "ws_CO_2")}
	engine := &fakeEngine{fulfilErr: map[string]error{"ws_CO_1": errors.New("order missing")}}
	job, err := NewFulfillmentRetryJob(FulfillmentRetryJobParams{Logger: logger.Nop(), Intents: reader, Engine: engine})
	if err != nil {
		t.Fatalf("NewFulfillmentRetryJob: %v", err)
	}
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if len(engine.fulfilled) != 1 || engine.fulfilled[0] != "ws_CO_2" {
		t.Fatalf("expected ws_CO_2 to be fulfilled, got %v", engine.fulfilled)
	}
}

func TestReconciliationReportJob(t *testing.T) {
	engine := &fakeEngine{report: reconciliation.Outstanding{Gaps: 1, Parked: 2, Pending: 3}}
	job, err := NewReconciliationReportJob(ReconciliationReportJobParams{Logger: logger.Nop(), Engine: engine})
	if err != nil {
		t.Fatalf("NewReconciliationReportJob: %v", err)
	}
	if job.Name() != "reconciliation-report" {
		t.Fatalf("unexpected name %s", job.Name())
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestReconciliationReportJobWarnsOnUnfulfilled(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	engine := &fakeEngine{report: reconciliation.Outstanding{Unfulfilled: 2}}
	job, err := NewReconciliationReportJob(ReconciliationReportJobParams{Logger: logg, Engine: engine})
	if err != nil {
		t.Fatalf("NewReconciliationReportJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, want := range []string{`"cron.reconciliation_unfulfilled_outstanding"`, `"unfulfilled":2`, `"level":"warn"`} {
		if !bytes.Contains(buf.Bytes(), []byte(want)) {
			t.Fatalf("expected %s in %s", want, buf.String())
		}
	}
}

func TestPaymentJobsRequireDependencies(t *testing.T) {
	if _, err := NewCallbackReplayJob(CallbackReplayJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without engine")
	}
	if _, err := NewStaleIntentJob(StaleIntentJobParams{Logger: logger.Nop(), Engine: &fakeEngine{}}); err == nil {
		t.Fatal("expected error without intents")
	}
	if _, err := NewFulfillmentRetryJob(FulfillmentRetryJobParams{Intents: &fakeIntentReader{}, Engine: &fakeEngine{}}); err == nil {
		t.Fatal("expected error without logger")
	}
	if _, err := NewReconciliationReportJob(ReconciliationReportJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected error without engine")
	}
}
