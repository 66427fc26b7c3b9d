package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
)

const paymentNotificationConsumer = "payment-notifications"

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *pubsub.Message)) error
}

type sender interface {
	SendMarkdown(ctx context.Context, chatID, text string) error
}

type decoder interface {
	Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error)
}

type ConsumerParams struct {
	Subscription receiver
	Sender       sender
	ChannelID    string
	Idempotency  *idempotency.Manager
	Decoders     decoder
	Logger       *logger.Logger
}

// Consumer turns payment resolution events into operator channel messages.
type Consumer struct {
	subscription receiver
	sender       sender
	channelID    string
	idempotency  *idempotency.Manager
	decoders     decoder
	logg         *logger.Logger
}

// NewConsumer builds the payment notification consumer.
func NewConsumer(params ConsumerParams) (*Consumer, error) {
	if params.Subscription == nil {
		return nil, fmt.Errorf("payments subscription required")
	}
	if params.Sender == nil {
		return nil, fmt.Errorf("message sender required")
	}
	if strings.TrimSpace(params.ChannelID) == "" {
		return nil, fmt.Errorf("operator channel id required")
	}
	if params.Idempotency == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if params.Decoders == nil {
		return nil, fmt.Errorf("decoder registry required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		subscription: params.Subscription,
		sender:       params.Sender,
		channelID:    params.ChannelID,
		idempotency:  params.Idempotency,
		decoders:     params.Decoders,
		logg:         params.Logger,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := enums.OutboxEventType(msg.Attributes["event_type"])
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id":   msg.ID,
		"event_type":   eventType,
		"aggregate_id": msg.Attributes["aggregate_id"],
	})

	if eventType != enums.EventPaymentCompleted && eventType != enums.EventPaymentFailed {
		c.logg.Info(logCtx, "notifications.skipped_event")
		return processResult{ack: true}
	}

	envelope, err := outbox.DecodeEnvelope(msg.Data)
	if err != nil {
		c.logg.Error(logCtx, "notifications.decode_envelope_failed", err)
		return processResult{ack: true}
	}
	eventID, err := envelope.ID()
	if err != nil {
		c.logg.Error(logCtx, "notifications.invalid_event_id", err)
		return processResult{ack: true}
	}
	decoded, err := c.decoders.Decode(eventType, envelope.Version, envelope.Data)
	if err != nil {
		c.logg.Error(logCtx, "notifications.decode_payload_failed", err)
		return processResult{ack: true}
	}
	event, ok := decoded.(*payloads.PaymentResolvedEvent)
	if !ok {
		c.logg.Error(logCtx, "notifications.unexpected_payload", fmt.Errorf("payload type %T", decoded))
		return processResult{ack: true}
	}
	logCtx = c.logg.WithCorrelationToken(logCtx, event.CorrelationToken)

	skipped, err := c.idempotency.Once(ctx, paymentNotificationConsumer, eventID, func(ctx context.Context) error {
		return c.sender.SendMarkdown(ctx, c.channelID, FormatPaymentMessage(eventType, event))
	})
	if skipped {
		c.logg.Info(logCtx, "notifications.duplicate_event")
		return processResult{ack: true}
	}
	if err != nil {
		if errors.Is(err, context.Canceled) || pkgerrors.IsRetryable(err) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "notifications.send_failed")
			return processResult{nack: true}
		}
		c.logg.Error(logCtx, "notifications.send_rejected", err)
		return processResult{ack: true}
	}
	c.logg.Info(logCtx, "notifications.operator_notified")
	return processResult{ack: true}
}
