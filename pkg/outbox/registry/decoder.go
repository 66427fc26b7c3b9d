package registry

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/angelmondragon/pushpay-backend/pkg/outbox/payloads"
)

// DecoderFunc turns an envelope's data field into a typed payload.
type DecoderFunc func(payload json.RawMessage) (any, error)

type decoderKey struct {
	eventType enums.OutboxEventType
	version   int
}

// DecoderRegistry maps event type and envelope version to a payload decoder so
// consumers keep reading old versions while producers move on.
type DecoderRegistry struct {
	mtx      sync.RWMutex
	decoders map[decoderKey]DecoderFunc
}

func NewDecoderRegistry() *DecoderRegistry {
	return &DecoderRegistry{decoders: make(map[decoderKey]DecoderFunc)}
}

// Register stores a decoder. Registering the same type and version twice is an
// error.
func (r *DecoderRegistry) Register(eventType enums.OutboxEventType, version int, decoder DecoderFunc) error {
	if decoder == nil {
		return fmt.Errorf("decoder for %s@v%d is nil", eventType, version)
	}
	if version <= 0 {
		return fmt.Errorf("decoder version for %s must be positive", eventType)
	}
	key := decoderKey{eventType: eventType, version: version}
	r.mtx.Lock()
	defer r.mtx.Unlock()
	if _, exists := r.decoders[key]; exists {
		return fmt.Errorf("decoder already registered for %s@v%d", eventType, version)
	}
	r.decoders[key] = decoder
	return nil
}

// Decode runs the decoder registered for the event type and version.
func (r *DecoderRegistry) Decode(eventType enums.OutboxEventType, version int, payload json.RawMessage) (any, error) {
	r.mtx.RLock()
	decoder, ok := r.decoders[decoderKey{eventType: eventType, version: version}]
	r.mtx.RUnlock()
	if !ok {
		return nil, fmt.Errorf("decoder not registered for %s@v%d", eventType, version)
	}
	return decoder(payload)
}

func decodePaymentResolved(payload json.RawMessage) (any, error) {
	var event payloads.PaymentResolvedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode payment resolved payload: %w", err)
	}
	if event.CorrelationToken == "" {
		return nil, fmt.Errorf("payment resolved payload missing correlation_token")
	}
	return &event, nil
}

// NewPaymentDecoderRegistry registers the v1 decoders for both payment resolution events.
func NewPaymentDecoderRegistry() *DecoderRegistry {
	reg := NewDecoderRegistry()
	for _, eventType := range []enums.OutboxEventType{enums.EventPaymentCompleted, enums.EventPaymentFailed} {
		// keys are distinct and the decoder is non-nil, so this cannot fail
		_ = reg.Register(eventType, 1, decodePaymentResolved)
	}
	return reg
}
