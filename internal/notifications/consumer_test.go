package notifications

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/registry"
)

type memoryStore struct {
	mu     sync.Mutex
	values map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[key], nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string { return "pp:idempotency:" + scope + ":" + id }

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.values, key)
	}
	return nil
}

type fakeSender struct {
	messages []string
	chatIDs  []string
	err      error
}

func (f *fakeSender) SendMarkdown(_ context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.chatIDs = append(f.chatIDs, chatID)
	f.messages = append(f.messages, text)
	return nil
}

type nopReceiver struct{}

func (nopReceiver) Receive(context.Context, func(context.Context, *pubsub.Message)) error { return nil }

func newTestConsumer(t *testing.T, sender *fakeSender) *Consumer {
	t.Helper()
	manager, err := idempotency.NewManager(&memoryStore{values: map[string]string{}}, time.Hour)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	consumer, err := NewConsumer(ConsumerParams{
		Subscription: nopReceiver{},
		Sender:       sender,
		ChannelID:    "@djflowerzpool",
		Idempotency:  manager,
		Decoders:     registry.NewPaymentDecoderRegistry(),
		Logger:       logger.Nop(),
	})
	if err != nil {
		t.Fatalf("NewConsumer: %v", err)
	}
	return consumer
}

func paymentMessage(t *testing.T, eventType enums.OutboxEventType, eventID string, event payloads.PaymentResolvedEvent) *pubsub.Message {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	envelope, err := json.Marshal(outbox.PayloadEnvelope{Version: 1, EventID: eventID, OccurredAt: time.Now().UTC(), Data: data})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &pubsub.Message{
		ID:   "msg-" + eventID,
		Data: envelope,
		Attributes: map[string]string{
			"event_id":     eventID,
			"event_type":   string(eventType),
			"aggregate_id": event.IntentID.String(),
		},
	}
}

func completedEvent() payloads.PaymentResolvedEvent {
	receipt := "NLJ7RT61SV"
	ref := "plan-1-month"
	return payloads.PaymentResolvedEvent{
		IntentID:         uuid.New(),
		CorrelationToken: "ws_CO_191220191020363925",
		Purpose:          enums.PurposeSubscription,
		PurposeReference: &ref,
		State:            enums.IntentStateCompleted,
		Amount:           700,
		PayerIdentifier:  "254712345678",
		Receipt:          &receipt,
	}
}

func TestProcessSendsOperatorMessageOnce(t *testing.T) {
	sender := &fakeSender{}
	consumer := newTestConsumer(t, sender)
	msg := paymentMessage(t, enums.EventPaymentCompleted, uuid.NewString(), completedEvent())

	if res := consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
	if res := consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack on redelivery, got %+v", res)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected exactly one message, got %d", len(sender.messages))
	}
	if sender.chatIDs[0] != "@djflowerzpool" {
		t.Fatalf("unexpected chat %s", sender.chatIDs[0])
	}
	for _, want := range []string{"New Payment Received", "KES 700", "NLJ7RT61SV", "254712345678", `ws\_CO\_191220191020363925`} {
		if !strings.Contains(sender.messages[0], want) {
			t.Fatalf("expected %q in message:\n%s", want, sender.messages[0])
		}
	}
}

func TestProcessFailedPaymentMessage(t *testing.T) {
	sender := &fakeSender{}
	consumer := newTestConsumer(t, sender)
	event := completedEvent()
	event.State = enums.IntentStateFailed
	event.Receipt = nil
	desc := "Request cancelled by user"
	event.ResultDesc = &desc

	if res := consumer.process(context.Background(), paymentMessage(t, enums.EventPaymentFailed, uuid.NewString(), event)); !res.ack {
		t.Fatalf("expected ack, got %+v", res)
	}
	if len(sender.messages) != 1 || !strings.Contains(sender.messages[0], "Payment Failed") || !strings.Contains(sender.messages[0], desc) {
		t.Fatalf("unexpected messages %v", sender.messages)
	}
}

func TestProcessNacksTransientSendFailureAndRetries(t *testing.T) {
	sender := &fakeSender{err: pkgerrors.New(pkgerrors.CodeDependency, "telegram down")}
	consumer := newTestConsumer(t, sender)
	msg := paymentMessage(t, enums.EventPaymentCompleted, uuid.NewString(), completedEvent())

	if res := consumer.process(context.Background(), msg); !res.nack {
		t.Fatalf("expected nack, got %+v", res)
	}
	sender.err = nil
	if res := consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack after recovery, got %+v", res)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("expected redelivery to send, got %d messages", len(sender.messages))
	}
}

func TestProcessAcksPermanentSendFailure(t *testing.T) {
	sender := &fakeSender{err: pkgerrors.New(pkgerrors.CodeValidation, "can't parse entities")}
	consumer := newTestConsumer(t, sender)
	msg := paymentMessage(t, enums.EventPaymentCompleted, uuid.NewString(), completedEvent())
	if res := consumer.process(context.Background(), msg); !res.ack {
		t.Fatalf("expected ack for permanent failure, got %+v", res)
	}
}

func TestProcessSkipsUnusableMessages(t *testing.T) {
	sender := &fakeSender{}
	consumer := newTestConsumer(t, sender)
	cases := map[string]*pubsub.Message{
		"other event":  {ID: "1", Attributes: map[string]string{"event_type": "order_created"}},
		"bad envelope": {ID: "2", Data: []byte("{"), Attributes: map[string]string{"event_type": string(enums.EventPaymentCompleted)}},
		"bad event id": paymentMessage(t, enums.EventPaymentCompleted, "not-a-uuid", completedEvent()),
	}
	for name, msg := range cases {
		t.Run(name, func(t *testing.T) {
			if res := consumer.process(context.Background(), msg); !res.ack {
				t.Fatalf("expected ack, got %+v", res)
			}
		})
	}
	if len(sender.messages) != 0 {
		t.Fatalf("expected no messages, got %d", len(sender.messages))
	}
}

func TestNewConsumerValidates(t *testing.T) {
	if _, err := NewConsumer(ConsumerParams{}); err == nil {
		t.Fatal("expected error")
	}
	if _, err := NewConsumer(ConsumerParams{Subscription: nopReceiver{}, Sender: &fakeSender{}}); err == nil {
		t.Fatal("expected error without channel")
	}
}
