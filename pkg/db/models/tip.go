package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tip records a completed TIP intent.
type Tip struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID         uuid.UUID `gorm:"column:owner_id;type:uuid;not null;index"`
	PaymentIntentID uuid.UUID `gorm:"column:payment_intent_id;type:uuid;not null;uniqueIndex:ux_tips_payment_intent"`
	Amount          int64     `gorm:"column:amount;not null"`
	Message         *string   `gorm:"column:message"`
	Receipt         string    `gorm:"column:receipt;not null"`
	PayerPhone      string    `gorm:"column:payer_phone;not null"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Tip) TableName() string { return "tips" }

func (t *Tip) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
