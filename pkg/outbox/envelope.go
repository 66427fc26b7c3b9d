package outbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActorRef identifies who produced the event.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope is the versioned wrapper stored in outbox_events.payload and
// published verbatim as the message body.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

var (
	ErrEnvelopeMissingEventID = errors.New("envelope event id is missing or invalid")
	ErrEnvelopeMissingData    = errors.New("envelope data is empty")
)

// DecodeEnvelope parses a stored or delivered envelope and checks the fields
// consumers rely on.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if _, err := envelope.ID(); err != nil {
		return PayloadEnvelope{}, err
	}
	if !envelope.HasData() {
		return PayloadEnvelope{}, ErrEnvelopeMissingData
	}
	if envelope.Version <= 0 {
		envelope.Version = 1
	}
	return envelope, nil
}

// ID returns the parsed event id.
func (e PayloadEnvelope) ID() (uuid.UUID, error) {
	id, err := uuid.Parse(e.EventID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrEnvelopeMissingEventID
	}
	return id, nil
}

func (e PayloadEnvelope) HasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}
