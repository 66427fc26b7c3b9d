package main

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

type stubPinger struct {
	err   error
	calls atomic.Int32
}

func (s *stubPinger) Ping(context.Context) error {
	s.calls.Add(1)
	return s.err
}

type stubRunner struct {
	run func(context.Context) error
}

func (s stubRunner) Run(ctx context.Context) error { return s.run(ctx) }

func newWorker(t *testing.T, redis, pubsub *stubPinger, consumer runner) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:               logger.New(logger.Options{ServiceName: "worker-test", Output: io.Discard}),
		Redis:                redis,
		PubSub:               pubsub,
		NotificationConsumer: consumer,
		HeartbeatInterval:    5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestRunFailsWhenDependencyUnavailable(t *testing.T) {
	consumer := stubRunner{run: func(context.Context) error {
		t.Fatal("consumer should not start")
		return nil
	}}
	svc := newWorker(t, &stubPinger{}, &stubPinger{err: errors.New("no topic")}, consumer)

	if err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected readiness failure")
	}
}

func TestRunReturnsConsumerError(t *testing.T) {
	boom := errors.New("receive failed")
	svc := newWorker(t, &stubPinger{}, &stubPinger{}, stubRunner{run: func(context.Context) error { return boom }})

	if err := svc.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected consumer error, got %v", err)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	redis := &stubPinger{}
	svc := newWorker(t, redis, &stubPinger{}, stubRunner{run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
	if redis.calls.Load() < 2 {
		t.Fatalf("expected heartbeat pings beyond readiness, got %d", redis.calls.Load())
	}
}

func TestNewServiceRequiresConsumer(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{Output: io.Discard}),
		Redis:  &stubPinger{},
		PubSub: &stubPinger{},
	})
	if err == nil {
		t.Fatal("expected error without consumer")
	}
}
