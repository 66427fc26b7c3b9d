package intents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/pushpay-backend/pkg/db"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
)

const correlationTokenConstraint = "ux_payment_intents_correlation_token"

// Resolution carries the callback fields recorded alongside a state transition.
// Receipt is only stored when the intent completes.
type Resolution struct {
	Receipt        *string
	CallbackAmount *decimal.Decimal
	CallbackPhone  *string
	ResultCode     *int
	ResultDesc     *string
}

// TransitionOutcome reports what a guarded transition did.
type TransitionOutcome int

const (
	TransitionApplied TransitionOutcome = iota + 1
	TransitionAlreadyTerminal
)

func (o TransitionOutcome) String() string {
	switch o {
	case TransitionApplied:
		return "applied"
	case TransitionAlreadyTerminal:
		return "already_terminal"
	default:
		return "unknown"
	}
}

// TransitionResult holds the outcome and the intent as it is stored after the call.
type TransitionResult struct {
	Outcome TransitionOutcome
	Intent  *models.PaymentIntent
}

// Repository is the durable intent store.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Insert(ctx context.Context, intent *models.PaymentIntent) error
	FindByToken(ctx context.Context, token string) (*models.PaymentIntent, error)
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error)
	FindForOwner(ctx context.Context, ownerID uuid.UUID, ref string) (*models.PaymentIntent, error)
	TransitionIfPending(ctx context.Context, token string, next enums.IntentState, res Resolution) (TransitionResult, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error)
	ListUnfulfilled(ctx context.Context, resolvedBefore time.Time, maxAttempts, limit int) ([]models.PaymentIntent, error)
	MarkFulfilled(ctx context.Context, id uuid.UUID, at time.Time) error
	RecordFulfillmentFailure(ctx context.Context, id uuid.UUID, reason string) error
	CountByPayer(ctx context.Context, payer string) (int64, error)
	CountByState(ctx context.Context, state enums.IntentState) (int64, error)
	CountUnfulfilled(ctx context.Context) (int64, error)
}

type repositoryImpl struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository returns an intent repository bound to the provided database.
func NewRepository(conn *gorm.DB) Repository {
	return &repositoryImpl{db: conn, now: time.Now}
}

func (r *repositoryImpl) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repositoryImpl{db: tx, now: r.now}
}

func (r *repositoryImpl) Insert(ctx context.Context, intent *models.PaymentIntent) error {
	if intent == nil {
		return errors.New("intent is required")
	}
	if strings.TrimSpace(intent.CorrelationToken) == "" {
		return errors.New("correlation token is required")
	}
	if intent.State == "" {
		intent.State = enums.IntentStatePending
	}
	if intent.State != enums.IntentStatePending {
		return fmt.Errorf("intents are inserted pending, got %s", intent.State)
	}
	if err := r.db.WithContext(ctx).Create(intent).Error; err != nil {
		if db.IsUniqueViolation(err, correlationTokenConstraint) {
			return fmt.Errorf("%w: %s", ErrDuplicateToken, intent.CorrelationToken)
		}
		return err
	}
	return nil
}

func (r *repositoryImpl) FindByToken(ctx context.Context, token string) (*models.PaymentIntent, error) {
	return r.first(r.db.WithContext(ctx).Where("correlation_token = ?", token))
}

func (r *repositoryImpl) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentIntent, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

// FindForOwner resolves a reference that is either a correlation token or a
// purpose reference (order id, plan id). Intents of other owners never match.
func (r *repositoryImpl) FindForOwner(ctx context.Context, ownerID uuid.UUID, ref string) (*models.PaymentIntent, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrNotFound
	}
	query := r.db.WithContext(ctx).
		Where("owner_id = ? AND (correlation_token = ? OR purpose_reference = ?)", ownerID, ref, ref).
		Order("created_at DESC, id DESC")
	return r.first(query)
}

func (r *repositoryImpl) first(query *gorm.DB) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := query.First(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// TransitionIfPending moves a pending intent to a terminal state with a single
// conditional UPDATE. Concurrent callers race on the state guard: exactly one
// sees TransitionApplied, the rest see TransitionAlreadyTerminal.
func (r *repositoryImpl) TransitionIfPending(ctx context.Context, token string, next enums.IntentState, res Resolution) (TransitionResult, error) {
	if !next.IsTerminal() {
		return TransitionResult{}, fmt.Errorf("transition target must be terminal, got %q", next)
	}

	now := r.now().UTC()
	updates := map[string]any{
		"state":       next,
		"resolved_at": now,
		"updated_at":  now,
	}
	if next == enums.IntentStateCompleted && res.Receipt != nil {
		updates["provider_receipt"] = *res.Receipt
	}
	if res.CallbackAmount != nil {
		updates["callback_amount"] = decimal.NewNullDecimal(*res.CallbackAmount)
	}
	if res.CallbackPhone != nil {
		updates["callback_phone"] = *res.CallbackPhone
	}
	if res.ResultCode != nil {
		updates["result_code"] = *res.ResultCode
	}
	if res.ResultDesc != nil {
		updates["result_desc"] = *res.ResultDesc
	}

	result := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("correlation_token = ? AND state = ?", token, enums.IntentStatePending).
		Updates(updates)
	if result.Error != nil {
		return TransitionResult{}, result.Error
	}

	intent, err := r.FindByToken(ctx, token)
	if err != nil {
		return TransitionResult{}, err
	}
	if result.RowsAffected == 0 {
		return TransitionResult{Outcome: TransitionAlreadyTerminal, Intent: intent}, nil
	}
	return TransitionResult{Outcome: TransitionApplied, Intent: intent}, nil
}

func (r *repositoryImpl) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentIntent, error) {
	var rows []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("state = ? AND created_at < ?", enums.IntentStatePending, cutoff.UTC()).
		Order("created_at ASC").
		Limit(normalizeLimit(limit)).
		Find(&rows).Error
	return rows, err
}

// ListUnfulfilled returns resolved intents whose side effects never completed.
func (r *repositoryImpl) ListUnfulfilled(ctx context.Context, resolvedBefore time.Time, maxAttempts, limit int) ([]models.PaymentIntent, error) {
	query := r.db.WithContext(ctx).
		Where("state IN ? AND fulfilled_at IS NULL AND resolved_at IS NOT NULL AND resolved_at < ?",
			[]enums.IntentState{enums.IntentStateCompleted, enums.IntentStateFailed}, resolvedBefore.UTC())
	if maxAttempts > 0 {
		query = query.Where("fulfillment_attempts < ?", maxAttempts)
	}
	var rows []models.PaymentIntent
	err := query.Order("resolved_at ASC").Limit(normalizeLimit(limit)).Find(&rows).Error
	return rows, err
}

func (r *repositoryImpl) MarkFulfilled(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ? AND fulfilled_at IS NULL", id).
		Updates(map[string]any{
			"fulfilled_at":      at.UTC(),
			"fulfillment_error": nil,
			"updated_at":        r.now().UTC(),
		}).Error
}

func (r *repositoryImpl) RecordFulfillmentFailure(ctx context.Context, id uuid.UUID, reason string) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"fulfillment_attempts": gorm.Expr("fulfillment_attempts + 1"),
			"fulfillment_error":    reason,
			"updated_at":           r.now().UTC(),
		}).Error
}

func (r *repositoryImpl) CountByPayer(ctx context.Context, payer string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).Where("payer_identifier = ?", payer).Count(&count).Error
	return count, err
}

func (r *repositoryImpl) CountByState(ctx context.Context, state enums.IntentState) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).Where("state = ?", state).Count(&count).Error
	return count, err
}

// CountUnfulfilled counts resolved intents whose side effects never completed,
// including those that exhausted their retry attempts.
func (r *repositoryImpl) CountUnfulfilled(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentIntent{}).
		Where("state IN ? AND fulfilled_at IS NULL",
			[]enums.IntentState{enums.IntentStateCompleted, enums.IntentStateFailed}).
		Count(&count).Error
	return count, err
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 500:
		return 500
	default:
		return limit
	}
}
