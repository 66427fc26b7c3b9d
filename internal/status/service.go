package status

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/internal/intents"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

// ErrNotFound is returned for unknown references and for references owned by
// someone else; callers cannot tell the two apart.
var ErrNotFound = errors.New("payment not found")

type intentReader interface {
	FindForOwner(ctx context.Context, ownerID uuid.UUID, ref string) (*models.PaymentIntent, error)
}

// Status is the client-visible view of an intent.
type Status struct {
	CorrelationToken string            `json:"correlationToken"`
	State            enums.IntentState `json:"state"`
	Receipt          *string           `json:"receipt,omitempty"`
}

// Service answers status polls. It never mutates intents.
type Service struct {
	intents intentReader
}

func NewService(reader intentReader) (*Service, error) {
	if reader == nil {
		return nil, errors.New("intent reader required")
	}
	return &Service{intents: reader}, nil
}

// GetStatus resolves ref, either a correlation token or a purpose reference
// such as an order id, against the intents owned by ownerID. The newest match wins.
func (s *Service) GetStatus(ctx context.Context, ownerID uuid.UUID, ref string) (Status, error) {
	ref = strings.TrimSpace(ref)
	if ownerID == uuid.Nil || ref == "" {
		return Status{}, ErrNotFound
	}
	intent, err := s.intents.FindForOwner(ctx, ownerID, ref)
	if err != nil {
		if errors.Is(err, intents.ErrNotFound) {
			return Status{}, ErrNotFound
		}
		return Status{}, err
	}
	out := Status{CorrelationToken: intent.CorrelationToken, State: intent.State}
	if intent.State == enums.IntentStateCompleted {
		out.Receipt = intent.ProviderReceipt
	}
	return out, nil
}
