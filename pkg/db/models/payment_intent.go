package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

// PaymentIntent is the merchant-side record of one push payment attempt. Amount,
// Purpose and PurposeReference are written once at creation; only the state and
// the resolution fields change afterwards.
type PaymentIntent struct {
	ID                  uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	CorrelationToken    string               `gorm:"column:correlation_token;not null;uniqueIndex:ux_payment_intents_correlation_token"`
	SecondaryToken      string               `gorm:"column:secondary_token;not null"`
	OwnerID             uuid.UUID            `gorm:"column:owner_id;type:uuid;not null;index"`
	PayerIdentifier     string               `gorm:"column:payer_identifier;not null;index"`
	Amount              int64                `gorm:"column:amount;not null"`
	Purpose             enums.PaymentPurpose `gorm:"column:purpose;type:text;not null"`
	PurposeReference    *string              `gorm:"column:purpose_reference;index"`
	State               enums.IntentState    `gorm:"column:state;type:text;not null;default:'pending';index"`
	ProviderReceipt     *string              `gorm:"column:provider_receipt"`
	CallbackAmount      decimal.NullDecimal  `gorm:"column:callback_amount;type:numeric(14,2)"`
	CallbackPhone       *string              `gorm:"column:callback_phone"`
	ResultCode          *int                 `gorm:"column:result_code"`
	ResultDesc          *string              `gorm:"column:result_desc"`
	Metadata            json.RawMessage      `gorm:"column:metadata;type:jsonb"`
	ResolvedAt          *time.Time           `gorm:"column:resolved_at"`
	FulfilledAt         *time.Time           `gorm:"column:fulfilled_at"`
	FulfillmentAttempts int                  `gorm:"column:fulfillment_attempts;not null;default:0"`
	FulfillmentError    *string              `gorm:"column:fulfillment_error"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

// BeforeCreate assigns the primary key; the tables do not rely on database defaults.
func (p *PaymentIntent) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
