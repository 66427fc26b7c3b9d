package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

// Order is the storefront order a STORE_ORDER intent pays for. The storefront
// owns creation; payments only read it and mark it completed.
type Order struct {
	ID                 uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID            uuid.UUID         `gorm:"column:owner_id;type:uuid;not null;index"`
	TotalAmount        *int64            `gorm:"column:total_amount"`
	Status             enums.OrderStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	MpesaReceiptNumber *string           `gorm:"column:mpesa_receipt_number"`
	PaymentIntentID    *uuid.UUID        `gorm:"column:payment_intent_id;type:uuid"`
	CompletedAt        *time.Time        `gorm:"column:completed_at"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
