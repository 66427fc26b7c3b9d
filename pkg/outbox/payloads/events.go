package payloads

import (
	"time"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	"github.com/google/uuid"
)

// PaymentResolvedEvent is emitted once per intent when it leaves pending, for
// both payment_completed and payment_failed.
type PaymentResolvedEvent struct {
	IntentID         uuid.UUID            `json:"intent_id"`
	CorrelationToken string               `json:"correlation_token"`
	OwnerID          uuid.UUID            `json:"owner_id"`
	Purpose          enums.PaymentPurpose `json:"purpose"`
	PurposeReference *string              `json:"purpose_reference,omitempty"`
	State            enums.IntentState    `json:"state"`
	Amount           int64                `json:"amount"`
	PayerIdentifier  string               `json:"payer_identifier"`
	Receipt          *string              `json:"receipt,omitempty"`
	ResultCode       *int                 `json:"result_code,omitempty"`
	ResultDesc       *string              `json:"result_desc,omitempty"`
	ResolvedAt       time.Time            `json:"resolved_at"`
}
