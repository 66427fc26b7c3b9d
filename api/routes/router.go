package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/pushpay-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/pushpay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/pushpay-backend/api/middleware"
	"github.com/angelmondragon/pushpay-backend/internal/reconciliation"
	"github.com/angelmondragon/pushpay-backend/internal/status"
	"github.com/angelmondragon/pushpay-backend/pkg/config"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/pushpay-backend/pkg/redis"
	"github.com/google/uuid"
)

// PaymentsEngine is the engine surface the HTTP layer drives.
type PaymentsEngine interface {
	Initiate(ctx context.Context, req reconciliation.InitiateRequest) (reconciliation.InitiateResult, error)
	HandleCallback(ctx context.Context, raw []byte, secret string) reconciliation.Ack
}

// StatusService answers client polls.
type StatusService interface {
	GetStatus(ctx context.Context, ownerID uuid.UUID, ref string) (status.Status, error)
}

// Store backs the idempotency and rate limit middleware.
type Store interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	store Store,
	readiness map[string]controllers.Pinger,
	engine PaymentsEngine,
	statusSvc StatusService,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins...),
	)

	initiatePolicy := middleware.NewRateLimitPolicy(
		"initiate",
		cfg.RateLimit.InitiateWindow,
		cfg.RateLimit.InitiateIPLimit,
		cfg.RateLimit.InitiatePayerLimit,
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/mpesa", webhookcontrollers.MpesaCallback(engine, logg))
	})

	r.Route("/api/v1/payments", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.With(
			middleware.Idempotency(store, logg),
			middleware.RateLimit(initiatePolicy, store, logg),
		).Post("/", controllers.InitiatePayment(engine, logg))
		r.Get("/status", controllers.PaymentStatus(statusSvc, logg))
	})

	return r
}
