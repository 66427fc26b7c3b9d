package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"gorm.io/gorm"
)

func TestOutboxRetentionJobDeletesPublishedRowsAndDLQ(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	repo := &fakeOutboxRetentionRepo{}
	dlq := &fakeDLQRetentionRepo{}
	job := newOutboxRetentionJob(t, OutboxRetentionJobParams{Repository: repo, DLQRepository: dlq})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := now.Add(-defaultOutboxRetention); !repo.lastCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, repo.lastCutoff)
	}
	if repo.minAttempts != outboxMinAttempts {
		t.Fatalf("expected min attempts %d, got %d", outboxMinAttempts, repo.minAttempts)
	}
	if repo.called != 1 {
		t.Fatalf("expected repo called once, got %d", repo.called)
	}
	if want := now.Add(-defaultDLQRetention); !dlq.lastCutoff.Equal(want) {
		t.Fatalf("expected dlq cutoff %s, got %s", want, dlq.lastCutoff)
	}
}

func TestOutboxRetentionJobPropagatesError(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{err: errors.New("boom")}
	dlq := &fakeDLQRetentionRepo{}
	job := newOutboxRetentionJob(t, OutboxRetentionJobParams{Repository: repo, DLQRepository: dlq})

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if dlq.called != 0 {
		t.Fatal("dlq prune must not run after the event prune fails")
	}
}

func TestOutboxRetentionJobWithoutDLQRepository(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, OutboxRetentionJobParams{Repository: repo})
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if repo.called != 1 {
		t.Fatalf("expected event prune, got %d calls", repo.called)
	}
}

func TestOutboxRetentionJobHonorsOverrides(t *testing.T) {
	repo := &fakeOutboxRetentionRepo{}
	job := newOutboxRetentionJob(t, OutboxRetentionJobParams{
		Repository:  repo,
		Retention:   7 * 24 * time.Hour,
		MinAttempts: 12,
	})
	now := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return now }
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !repo.lastCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, repo.lastCutoff)
	}
	if repo.minAttempts != 12 {
		t.Fatalf("expected min attempts 12, got %d", repo.minAttempts)
	}
}

func TestNewOutboxRetentionJobValidates(t *testing.T) {
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{Logger: logger.Nop(), DB: outboxRetentionTxRunner{}}); err == nil {
		t.Fatal("expected error without repository")
	}
}

func newOutboxRetentionJob(t *testing.T, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = logger.Nop()
	params.DB = outboxRetentionTxRunner{}
	jobIface, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	job, ok := jobIface.(*outboxRetentionJob)
	if !ok {
		t.Fatalf("expected outboxRetentionJob, got %T", jobIface)
	}
	return job
}

type fakeOutboxRetentionRepo struct {
	lastCutoff  time.Time
	minAttempts int
	called      int
	err         error
}

func (f *fakeOutboxRetentionRepo) DeletePublishedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time, minAttemptCount int) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	f.minAttempts = minAttemptCount
	if f.err != nil {
		return 0, f.err
	}
	return 7, nil
}

type fakeDLQRetentionRepo struct {
	lastCutoff time.Time
	called     int
}

func (f *fakeDLQRetentionRepo) DeleteFailedBefore(ctx context.Context, tx *gorm.DB, cutoff time.Time) (int64, error) {
	f.called++
	f.lastCutoff = cutoff
	return 2, nil
}

type outboxRetentionTxRunner struct{}

func (outboxRetentionTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}
