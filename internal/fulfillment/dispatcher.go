package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Metadata is the free-form intent metadata written at initiate time.
type Metadata struct {
	Message *string `json:"message,omitempty"`
}

// EncodeMetadata returns nil when there is nothing worth storing.
func EncodeMetadata(meta Metadata) (json.RawMessage, error) {
	if meta.Message == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw json.RawMessage) Metadata {
	var meta Metadata
	if len(raw) == 0 {
		return meta
	}
	_ = json.Unmarshal(raw, &meta)
	return meta
}

type DispatcherParams struct {
	DB         txRunner
	Repository Repository
	Events     eventEmitter
	Logger     *logger.Logger
	Metrics    *metrics.PaymentMetrics
}

// Dispatcher runs the side effects of a resolved intent. Writes are upserts
// keyed by the intent so a retry after a crash converges instead of duplicating.
type Dispatcher struct {
	db      txRunner
	repo    Repository
	events  eventEmitter
	logg    *logger.Logger
	metrics *metrics.PaymentMetrics
	now     func() time.Time
}

func NewDispatcher(params DispatcherParams) (*Dispatcher, error) {
	if params.DB == nil {
		return nil, errors.New("db runner required")
	}
	if params.Repository == nil {
		return nil, errors.New("fulfillment repository required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	return &Dispatcher{
		db:      params.DB,
		repo:    params.Repository,
		events:  params.Events,
		logg:    params.Logger,
		metrics: params.Metrics,
		now:     time.Now,
	}, nil
}

// Apply executes the purpose action for a completed intent and queues the
// operator notification for any resolved intent. Notification failures are
// logged and never returned.
func (d *Dispatcher) Apply(ctx context.Context, intent *models.PaymentIntent) error {
	if intent == nil {
		return fmt.Errorf("%w: intent is required", ErrFulfillmentFailed)
	}
	ctx = d.logg.WithFields(ctx, map[string]any{
		"intent_id":         intent.ID.String(),
		"correlation_token": intent.CorrelationToken,
		"purpose":           intent.Purpose,
	})

	switch intent.State {
	case enums.IntentStateCompleted:
		err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
			return d.applyPurpose(ctx, d.repo.WithTx(tx), intent)
		})
		if err != nil {
			d.metrics.IncFulfillment(string(intent.Purpose), "failed")
			return fmt.Errorf("%w: %s: %w", ErrFulfillmentFailed, intent.Purpose, err)
		}
	case enums.IntentStateFailed:
	default:
		return fmt.Errorf("%w: intent %s is %s", ErrFulfillmentFailed, intent.CorrelationToken, intent.State)
	}

	d.notify(ctx, intent)
	d.metrics.IncFulfillment(string(intent.Purpose), "ok")
	return nil
}

func (d *Dispatcher) applyPurpose(ctx context.Context, repo Repository, intent *models.PaymentIntent) error {
	switch intent.Purpose {
	case enums.PurposeStoreOrder:
		return d.completeOrder(ctx, repo, intent)
	case enums.PurposeSubscription:
		return d.activateSubscription(ctx, repo, intent)
	case enums.PurposeTip:
		return d.recordTip(ctx, repo, intent)
	default:
		return fmt.Errorf("unsupported purpose %q", intent.Purpose)
	}
}

func (d *Dispatcher) completeOrder(ctx context.Context, repo Repository, intent *models.PaymentIntent) error {
	receipt, err := receiptOf(intent)
	if err != nil {
		return err
	}
	orderID, err := uuid.Parse(deref(intent.PurposeReference))
	if err != nil {
		return fmt.Errorf("order reference %q: %w", deref(intent.PurposeReference), err)
	}

	changed, err := repo.CompleteOrder(ctx, orderID, intent.ID, receipt, d.now().UTC())
	if err != nil {
		return err
	}
	if changed {
		return nil
	}

	order, err := repo.FindOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if order.PaymentIntentID != nil && *order.PaymentIntentID != intent.ID {
		d.logg.Warn(d.logg.WithField(ctx, "order_id", orderID.String()), "fulfillment.order_paid_twice")
	}
	return nil
}

func (d *Dispatcher) activateSubscription(ctx context.Context, repo Repository, intent *models.PaymentIntent) error {
	existing, err := repo.FindSubscriptionByIntent(ctx, intent.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	plan, err := LookupPlan(deref(intent.PurposeReference))
	if err != nil {
		return err
	}

	now := d.now().UTC()
	start := now
	latest, err := repo.LatestActiveEnd(ctx, intent.OwnerID, now)
	if err != nil {
		return err
	}
	if latest != nil && latest.After(start) {
		start = latest.UTC()
	}

	return repo.InsertSubscription(ctx, &models.Subscription{
		OwnerID:         intent.OwnerID,
		PlanID:          plan.ID,
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		StartDate:       start,
		EndDate:         plan.EndFrom(start),
		IsActive:        true,
	})
}

func (d *Dispatcher) recordTip(ctx context.Context, repo Repository, intent *models.PaymentIntent) error {
	receipt, err := receiptOf(intent)
	if err != nil {
		return err
	}
	phone := intent.PayerIdentifier
	if intent.CallbackPhone != nil && *intent.CallbackPhone != "" {
		phone = *intent.CallbackPhone
	}
	return repo.InsertTip(ctx, &models.Tip{
		OwnerID:         intent.OwnerID,
		PaymentIntentID: intent.ID,
		Amount:          intent.Amount,
		Message:         decodeMetadata(intent.Metadata).Message,
		Receipt:         receipt,
		PayerPhone:      phone,
	})
}

func (d *Dispatcher) notify(ctx context.Context, intent *models.PaymentIntent) {
	if d.events == nil {
		return
	}
	eventType := enums.EventPaymentCompleted
	if intent.State == enums.IntentStateFailed {
		eventType = enums.EventPaymentFailed
	}
	resolvedAt := d.now().UTC()
	if intent.ResolvedAt != nil {
		resolvedAt = intent.ResolvedAt.UTC()
	}
	event := outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentIntent,
		AggregateID:   intent.ID,
		Actor:         &outbox.ActorRef{UserID: intent.OwnerID, Role: "payer"},
		Version:       1,
		OccurredAt:    resolvedAt,
		Data: payloads.PaymentResolvedEvent{
			IntentID:         intent.ID,
			CorrelationToken: intent.CorrelationToken,
			OwnerID:          intent.OwnerID,
			Purpose:          intent.Purpose,
			PurposeReference: intent.PurposeReference,
			State:            intent.State,
			Amount:           intent.Amount,
			PayerIdentifier:  intent.PayerIdentifier,
			Receipt:          intent.ProviderReceipt,
			ResultCode:       intent.ResultCode,
			ResultDesc:       intent.ResultDesc,
			ResolvedAt:       resolvedAt,
		},
	}
	err := d.db.WithTx(ctx, func(tx *gorm.DB) error {
		return d.events.EmitIfNotExists(ctx, tx, event)
	})
	if err != nil {
		d.logg.Warn(d.logg.WithField(ctx, "error", err.Error()), "fulfillment.notification_failed")
	}
}

func receiptOf(intent *models.PaymentIntent) (string, error) {
	receipt := strings.TrimSpace(deref(intent.ProviderReceipt))
	if receipt == "" {
		return "", ErrMissingReceipt
	}
	return receipt, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
