package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Subscription is one paid subscription period. Each completed SUBSCRIPTION
// intent produces at most one row, keyed by PaymentIntentID.
type Subscription struct {
	ID              uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	OwnerID         uuid.UUID `gorm:"column:owner_id;type:uuid;not null;index"`
	PlanID          string    `gorm:"column:plan_id;not null"`
	PaymentIntentID uuid.UUID `gorm:"column:payment_intent_id;type:uuid;not null;uniqueIndex:ux_subscriptions_payment_intent"`
	Amount          int64     `gorm:"column:amount;not null"`
	StartDate       time.Time `gorm:"column:start_date;not null"`
	EndDate         time.Time `gorm:"column:end_date;not null;index"`
	IsActive        bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Subscription) TableName() string { return "subscriptions" }

func (s *Subscription) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
