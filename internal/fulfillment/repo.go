package fulfillment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

// Repository persists the business side effects of completed intents. Every
// write is keyed by the intent so a replay never duplicates a row.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
	CompleteOrder(ctx context.Context, orderID, intentID uuid.UUID, receipt string, at time.Time) (bool, error)
	FindSubscriptionByIntent(ctx context.Context, intentID uuid.UUID) (*models.Subscription, error)
	LatestActiveEnd(ctx context.Context, ownerID uuid.UUID, now time.Time) (*time.Time, error)
	InsertSubscription(ctx context.Context, sub *models.Subscription) error
	InsertTip(ctx context.Context, tip *models.Tip) error
}

type repositoryImpl struct {
	db *gorm.DB
}

// NewRepository returns a fulfillment repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repositoryImpl{db: db}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx}
}

func (r *repositoryImpl) FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}
	return &order, nil
}

// CompleteOrder marks the order completed unless it already is. The boolean
// reports whether this call changed the row.
func (r *repositoryImpl) CompleteOrder(ctx context.Context, orderID, intentID uuid.UUID, receipt string, at time.Time) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status <> ?", orderID, enums.OrderStatusCompleted).
		Updates(map[string]any{
			"status":               enums.OrderStatusCompleted,
			"mpesa_receipt_number": receipt,
			"payment_intent_id":    intentID,
			"completed_at":         at,
			"updated_at":           at,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repositoryImpl) FindSubscriptionByIntent(ctx context.Context, intentID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).Where("payment_intent_id = ?", intentID).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// LatestActiveEnd returns the furthest end date among the owner's active,
// unexpired subscriptions, or nil when there is none.
func (r *repositoryImpl) LatestActiveEnd(ctx context.Context, ownerID uuid.UUID, now time.Time) (*time.Time, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND is_active = ? AND end_date > ?", ownerID, true, now).
		Order("end_date DESC").
		First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	end := sub.EndDate
	return &end, nil
}

func (r *repositoryImpl) InsertSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_intent_id"}}, DoNothing: true}).
		Create(sub).Error
}

func (r *repositoryImpl) InsertTip(ctx context.Context, tip *models.Tip) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "payment_intent_id"}}, DoNothing: true}).
		Create(tip).Error
}
