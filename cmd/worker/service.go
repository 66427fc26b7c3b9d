package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/pushpay-backend/pkg/logger"
)

const defaultHeartbeatInterval = 30 * time.Second

type pinger interface {
	Ping(context.Context) error
}

type runner interface {
	Run(context.Context) error
}

type ServiceParams struct {
	Logger               *logger.Logger
	Redis                pinger
	PubSub               pinger
	NotificationConsumer runner
	HeartbeatInterval    time.Duration
}

// Service hosts the payment notification consumer and watches its
// dependencies. A consumer exit stops the worker; heartbeat failures only log.
type Service struct {
	logg                 *logger.Logger
	redis                pinger
	pubsub               pinger
	notificationConsumer runner
	heartbeat            time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.NotificationConsumer == nil {
		return nil, errors.New("notification consumer is required")
	}
	heartbeat := params.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}
	return &Service{
		logg:                 params.Logger,
		redis:                params.Redis,
		pubsub:               params.PubSub,
		notificationConsumer: params.NotificationConsumer,
		heartbeat:            heartbeat,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "redis", s.redis.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := s.notificationConsumer.Run(groupCtx)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(groupCtx, "notification consumer stopped unexpectedly", err)
			return err
		}
		if err == nil && ctx.Err() == nil {
			return errors.New("notification consumer exited")
		}
		return err
	})
	group.Go(func() error {
		return s.watchDependencies(groupCtx)
	})

	err := group.Wait()
	if ctx.Err() != nil {
		s.logg.Info(ctx, "worker context canceled")
		return ctx.Err()
	}
	return err
}

func (s *Service) watchDependencies(ctx context.Context) error {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.redis.Ping(ctx); err != nil && ctx.Err() == nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "worker.heartbeat.redis_unavailable")
			}
		}
	}
}
