package reconciliation

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pushpay-backend/internal/fulfillment"
	"github.com/angelmondragon/pushpay-backend/internal/intents"
	"github.com/angelmondragon/pushpay-backend/pkg/db/models"
	"github.com/angelmondragon/pushpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pushpay-backend/pkg/errors"
	"github.com/angelmondragon/pushpay-backend/pkg/logger"
	"github.com/angelmondragon/pushpay-backend/pkg/metrics"
	"github.com/angelmondragon/pushpay-backend/pkg/mpesa"
)

const (
	defaultPersistTimeout    = 10 * time.Second
	defaultUnknownTokenGrace = 3 * time.Second
	unknownTokenPoll         = 200 * time.Millisecond
	maxTipMessageLen         = 280

	degradedMessage = "Payment request sent. If your payment does not confirm within a few minutes, contact support with your M-Pesa receipt."
)

// Provider submits push payments.
type Provider interface {
	InitiatePush(ctx context.Context, req mpesa.PushRequest) (mpesa.PushResult, error)
}

// Fulfiller runs side effects for a resolved intent.
type Fulfiller interface {
	Apply(ctx context.Context, intent *models.PaymentIntent) error
}

type orderLookup interface {
	FindOrder(ctx context.Context, id uuid.UUID) (*models.Order, error)
}

// InitiateRequest is a validated client request to collect a payment.
type InitiateRequest struct {
	OwnerID          uuid.UUID
	PayerIdentifier  string
	Amount           int64
	Purpose          enums.PaymentPurpose
	PurposeReference *string
	Message          *string
}

// InitiateResult is returned once the provider accepted the push. Degraded is
// set when the intent could not be stored; the push is live regardless.
type InitiateResult struct {
	CorrelationToken string
	State            enums.IntentState
	Degraded         bool
	Message          string
}

// Ack is the body returned to the provider for a callback.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

var (
	AckOk    = Ack{ResultCode: 0, ResultDesc: "Accepted"}
	AckError = Ack{ResultCode: 1, ResultDesc: "Rejected"}
)

type EngineParams struct {
	Provider          Provider
	Intents           intents.Repository
	Orders            orderLookup
	Dispatcher        Fulfiller
	Ledger            *Ledger
	Logger            *logger.Logger
	Metrics           *metrics.PaymentMetrics
	CallbackURL       string
	CallbackSecret    string
	AccountReference  string
	PersistTimeout    time.Duration
	UnknownTokenGrace time.Duration
}

// Engine matches provider callbacks to payment intents and applies each
// resolution exactly once.
type Engine struct {
	provider          Provider
	intents           intents.Repository
	orders            orderLookup
	dispatcher        Fulfiller
	ledger            *Ledger
	logg              *logger.Logger
	metrics           *metrics.PaymentMetrics
	callbackURL       string
	callbackSecret    string
	accountReference  string
	persistTimeout    time.Duration
	unknownTokenGrace time.Duration
	now               func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Provider == nil {
		return nil, errors.New("provider required")
	}
	if params.Intents == nil {
		return nil, errors.New("intent repository required")
	}
	if params.Dispatcher == nil {
		return nil, errors.New("fulfillment dispatcher required")
	}
	if params.Ledger == nil {
		return nil, errors.New("reconciliation ledger required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	callbackURL, err := buildCallbackURL(params.CallbackURL, params.CallbackSecret)
	if err != nil {
		return nil, err
	}
	persistTimeout := params.PersistTimeout
	if persistTimeout <= 0 {
		persistTimeout = defaultPersistTimeout
	}
	grace := params.UnknownTokenGrace
	if grace < 0 {
		grace = 0
	} else if grace == 0 {
		grace = defaultUnknownTokenGrace
	}
	return &Engine{
		provider:          params.Provider,
		intents:           params.Intents,
		orders:            params.Orders,
		dispatcher:        params.Dispatcher,
		ledger:            params.Ledger,
		logg:              params.Logger,
		metrics:           params.Metrics,
		callbackURL:       callbackURL,
		callbackSecret:    params.CallbackSecret,
		accountReference:  params.AccountReference,
		persistTimeout:    persistTimeout,
		unknownTokenGrace: grace,
		now:               time.Now,
	}, nil
}

func buildCallbackURL(raw, secret string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", fmt.Errorf("callback url %q must be absolute", raw)
	}
	if secret != "" {
		query := parsed.Query()
		query.Set("secret", secret)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

// Initiate asks the provider to prompt the payer and records the pending intent
// before returning. No row is written unless the provider accepted the push.
func (e *Engine) Initiate(ctx context.Context, req InitiateRequest) (InitiateResult, error) {
	phone, err := mpesa.NormalizePhone(req.PayerIdentifier)
	if err != nil {
		e.metrics.IncInitiation(metrics.InitiateInvalid)
		return InitiateResult{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payerIdentifier must be a valid Safaricom number").
			WithDetails(map[string]any{"field": "payerIdentifier"})
	}
	req.PayerIdentifier = phone
	if err := e.validate(ctx, req); err != nil {
		e.metrics.IncInitiation(metrics.InitiateInvalid)
		return InitiateResult{}, err
	}
	metadata, err := fulfillment.EncodeMetadata(fulfillment.Metadata{Message: req.Message})
	if err != nil {
		return InitiateResult{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode intent metadata")
	}

	ctx = e.logg.WithFields(ctx, map[string]any{
		"purpose": req.Purpose,
		"amount":  req.Amount,
	})

	started := e.now()
	push, err := e.provider.InitiatePush(ctx, mpesa.PushRequest{
		PayerIdentifier:  phone,
		Amount:           req.Amount,
		CallbackURL:      e.callbackURL,
		AccountReference: e.accountReference,
		Description:      describe(req.Purpose),
	})
	if err != nil {
		outcome := metrics.InitiateNetworkFailure
		if errors.Is(err, mpesa.ErrProviderRejected) {
			outcome = metrics.InitiateRejected
		}
		e.metrics.ObserveProvider(outcome, e.now().Sub(started))
		e.metrics.IncInitiation(outcome)
		e.logg.Warn(e.logg.WithFields(ctx, map[string]any{"outcome": outcome, "error": err.Error()}), "intent.push_not_accepted")
		return InitiateResult{}, err
	}
	e.metrics.ObserveProvider(metrics.InitiateAccepted, e.now().Sub(started))
	ctx = e.logg.WithCorrelationToken(ctx, push.CorrelationToken)

	intent := &models.PaymentIntent{
		CorrelationToken: push.CorrelationToken,
		SecondaryToken:   push.SecondaryToken,
		OwnerID:          req.OwnerID,
		PayerIdentifier:  phone,
		Amount:           req.Amount,
		Purpose:          req.Purpose,
		PurposeReference: req.PurposeReference,
		State:            enums.IntentStatePending,
		Metadata:         metadata,
	}

	// The payer already has a live prompt; a client disconnect must not abort the write.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.persistTimeout)
	defer cancel()
	if err := e.intents.Insert(persistCtx, intent); err != nil {
		e.recordGap(persistCtx, intent, err)
		e.metrics.IncInitiation(metrics.InitiateDegraded)
		return InitiateResult{
			CorrelationToken: push.CorrelationToken,
			State:            enums.IntentStatePending,
			Degraded:         true,
			Message:          degradedMessage,
		}, nil
	}

	e.metrics.IncInitiation(metrics.InitiateAccepted)
	e.logg.Info(ctx, "intent.created")
	return InitiateResult{
		CorrelationToken: push.CorrelationToken,
		State:            enums.IntentStatePending,
		Message:          push.CustomerMessage,
	}, nil
}

func (e *Engine) recordGap(ctx context.Context, intent *models.PaymentIntent, cause error) {
	e.metrics.IncPersistenceGap()
	e.logg.Critical(ctx, "intent.persist_gap", cause)

	gap := GapRecord{
		CorrelationToken: intent.CorrelationToken,
		SecondaryToken:   intent.SecondaryToken,
		OwnerID:          intent.OwnerID,
		PayerIdentifier:  intent.PayerIdentifier,
		Amount:           intent.Amount,
		Purpose:          intent.Purpose,
		PurposeReference: intent.PurposeReference,
		Metadata:         intent.Metadata,
		Reason:           cause.Error(),
		RecordedAt:       e.now().UTC(),
	}
	if err := e.ledger.RecordGap(ctx, gap); err != nil {
		e.logg.Critical(ctx, "intent.persist_gap_unrecorded", err)
	}
}

func (e *Engine) validate(ctx context.Context, req InitiateRequest) error {
	if req.OwnerID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated owner required")
	}
	if req.Amount <= 0 {
		return fieldError("amount", "amount must be a positive whole number")
	}
	ref := ""
	if req.PurposeReference != nil {
		ref = strings.TrimSpace(*req.PurposeReference)
	}

	switch req.Purpose {
	case enums.PurposeSubscription:
		plan, err := fulfillment.LookupPlan(ref)
		if err != nil {
			return fieldError("purposeReference", "unknown subscription plan")
		}
		if req.Amount != plan.Price {
			return fieldError("amount", fmt.Sprintf("plan %s costs %d", plan.ID, plan.Price))
		}
	case enums.PurposeStoreOrder:
		orderID, err := uuid.Parse(ref)
		if err != nil {
			return fieldError("purposeReference", "purposeReference must be an order id")
		}
		if e.orders == nil {
			return pkgerrors.New(pkgerrors.CodeInternal, "order lookup not configured")
		}
		order, err := e.orders.FindOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, fulfillment.ErrOrderNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if order.OwnerID != req.OwnerID {
			return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		if order.Status == enums.OrderStatusCompleted {
			return pkgerrors.New(pkgerrors.CodeConflict, "order is already paid")
		}
		if order.TotalAmount != nil && *order.TotalAmount != req.Amount {
			return fieldError("amount", fmt.Sprintf("order total is %d", *order.TotalAmount))
		}
	case enums.PurposeTip:
		if req.Message != nil && len(*req.Message) > maxTipMessageLen {
			return fieldError("message", fmt.Sprintf("message must be at most %d characters", maxTipMessageLen))
		}
	default:
		return fieldError("purpose", "purpose must be store_order, subscription or tip")
	}
	return nil
}

func fieldError(field, msg string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(map[string]any{"field": field})
}

func describe(purpose enums.PaymentPurpose) string {
	switch purpose {
	case enums.PurposeSubscription:
		return "Subscription"
	case enums.PurposeStoreOrder:
		return "Store order"
	default:
		return "Tip"
	}
}

// HandleCallback processes one provider callback. Everything past
// authentication and parsing is acknowledged with AckOk: downstream failures
// are parked or retried internally and never pushed back to the provider.
func (e *Engine) HandleCallback(ctx context.Context, raw []byte, secret string) Ack {
	if e.callbackSecret != "" && subtle.ConstantTimeCompare([]byte(secret), []byte(e.callbackSecret)) != 1 {
		e.metrics.IncCallback(metrics.CallbackUnauthorized)
		e.logg.Warn(ctx, "callback.unauthorized")
		return AckError
	}
	result, err := mpesa.ParseCallback(raw)
	if err != nil {
		e.metrics.IncCallback(metrics.CallbackMalformed)
		e.logg.Warn(e.logg.WithField(ctx, "error", err.Error()), "callback.malformed")
		return AckError
	}
	ctx = e.logg.WithCorrelationToken(ctx, result.CorrelationToken)
	ctx = e.logg.WithField(ctx, "result_code", result.ResultCode)

	outcome, err := e.resolve(ctx, result, true)
	if err != nil {
		e.park(ctx, result.CorrelationToken, raw, err)
		return AckOk
	}
	if outcome == metrics.CallbackUnknownToken {
		e.park(ctx, result.CorrelationToken, raw, intents.ErrNotFound)
	}
	return AckOk
}

// resolve applies a parsed callback and reports the outcome label. A non-nil
// error means the callback could not be applied and should be kept for replay.
func (e *Engine) resolve(ctx context.Context, result mpesa.CallbackResult, wait bool) (string, error) {
	next := enums.IntentStateFailed
	if result.Succeeded() {
		next = enums.IntentStateCompleted
	}
	resolution := resolutionFrom(result)

	transition, err := e.intents.TransitionIfPending(ctx, result.CorrelationToken, next, resolution)
	if errors.Is(err, intents.ErrNotFound) {
		transition, err = e.recoverUnknown(ctx, result.CorrelationToken, next, resolution, wait)
		if errors.Is(err, intents.ErrNotFound) {
			e.metrics.IncCallback(metrics.CallbackUnknownToken)
			e.logg.Warn(ctx, "callback.unknown_token")
			return metrics.CallbackUnknownToken, nil
		}
	}
	if err != nil {
		return "", err
	}

	switch transition.Outcome {
	case intents.TransitionAlreadyTerminal:
		e.clearGap(ctx, result.CorrelationToken)
		stateCtx := e.logg.WithField(ctx, "state", transition.Intent.State)
		if next == enums.IntentStateCompleted && transition.Intent.State == enums.IntentStateFailed {
			// the payer was charged after the intent was given up on
			e.metrics.IncCallback(metrics.CallbackLateSuccess)
			e.logg.Critical(e.logg.WithField(stateCtx, "receipt", *result.Receipt), "callback.success_after_expiry",
				errors.New("provider confirmed payment for a failed intent"))
			return metrics.CallbackLateSuccess, nil
		}
		e.metrics.IncCallback(metrics.CallbackAlreadyTerminal)
		e.logg.Info(stateCtx, "callback.already_terminal")
		return metrics.CallbackAlreadyTerminal, nil
	case intents.TransitionApplied:
		e.clearGap(ctx, result.CorrelationToken)
		e.metrics.IncCallback(metrics.CallbackApplied)
		e.logg.Info(e.logg.WithField(ctx, "state", transition.Intent.State), "callback.applied")
		_ = e.Fulfill(ctx, transition.Intent)
		return metrics.CallbackApplied, nil
	default:
		return "", fmt.Errorf("unexpected transition outcome %v", transition.Outcome)
	}
}

// recoverUnknown handles a callback whose token has no row yet: either the
// insert is still in flight, or it failed and a gap record exists.
func (e *Engine) recoverUnknown(ctx context.Context, token string, next enums.IntentState, res intents.Resolution, wait bool) (intents.TransitionResult, error) {
	gap, err := e.ledger.FindGap(ctx, token)
	if err != nil {
		return intents.TransitionResult{}, fmt.Errorf("lookup gap: %w", err)
	}
	if gap != nil {
		return e.recoverGap(ctx, gap, next, res)
	}
	if !wait || e.unknownTokenGrace <= 0 {
		return intents.TransitionResult{}, intents.ErrNotFound
	}

	deadline := e.now().Add(e.unknownTokenGrace)
	for e.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return intents.TransitionResult{}, ctx.Err()
		case <-time.After(unknownTokenPoll):
		}
		transition, err := e.intents.TransitionIfPending(ctx, token, next, res)
		if !errors.Is(err, intents.ErrNotFound) {
			return transition, err
		}
	}
	return intents.TransitionResult{}, intents.ErrNotFound
}

func (e *Engine) recoverGap(ctx context.Context, gap *GapRecord, next enums.IntentState, res intents.Resolution) (intents.TransitionResult, error) {
	intent := &models.PaymentIntent{
		CorrelationToken: gap.CorrelationToken,
		SecondaryToken:   gap.SecondaryToken,
		OwnerID:          gap.OwnerID,
		PayerIdentifier:  gap.PayerIdentifier,
		Amount:           gap.Amount,
		Purpose:          gap.Purpose,
		PurposeReference: gap.PurposeReference,
		State:            enums.IntentStatePending,
		Metadata:         gap.Metadata,
	}
	if err := e.intents.Insert(ctx, intent); err != nil && !errors.Is(err, intents.ErrDuplicateToken) {
		return intents.TransitionResult{}, fmt.Errorf("recover gap: %w", err)
	}
	transition, err := e.intents.TransitionIfPending(ctx, gap.CorrelationToken, next, res)
	if err != nil {
		return transition, err
	}
	e.metrics.IncCallback(metrics.CallbackRecovered)
	e.logg.Warn(ctx, "intent.gap_recovered")
	return transition, nil
}

// clearGap drops the gap record once the token resolves against a stored row.
// An insert can fail after its commit landed, so a gap may exist for a row the
// store already holds.
func (e *Engine) clearGap(ctx context.Context, token string) {
	if err := e.ledger.ResolveGap(ctx, token); err != nil {
		e.logg.Error(ctx, "reconciliation.gap_resolve_failed", err)
	}
}

func (e *Engine) park(ctx context.Context, token string, raw []byte, cause error) {
	e.metrics.IncCallback(metrics.CallbackParked)
	entry := ParkedCallback{
		CorrelationToken: token,
		Raw:              append([]byte(nil), raw...),
		Reason:           cause.Error(),
		ParkedAt:         e.now().UTC(),
	}
	if existing, err := e.findParked(ctx, token); err == nil && existing != nil {
		entry.Attempts = existing.Attempts
		entry.ParkedAt = existing.ParkedAt
	}
	if err := e.ledger.Park(ctx, entry); err != nil {
		e.logg.Critical(ctx, "callback.park_failed", err)
		return
	}
	if !errors.Is(cause, intents.ErrNotFound) {
		e.logg.Error(ctx, "callback.parked", cause)
	}
}

func (e *Engine) findParked(ctx context.Context, token string) (*ParkedCallback, error) {
	var entry ParkedCallback
	found, err := e.ledger.get(ctx, parkedLedger, token, &entry)
	if err != nil || !found {
		return nil, err
	}
	return &entry, nil
}

// Fulfill dispatches side effects for a resolved intent and records the outcome
// on the intent. Failures leave the terminal state untouched for a later retry.
func (e *Engine) Fulfill(ctx context.Context, intent *models.PaymentIntent) error {
	ctx = e.logg.WithCorrelationToken(ctx, intent.CorrelationToken)
	if err := e.dispatcher.Apply(ctx, intent); err != nil {
		e.logg.Error(ctx, "fulfillment.failed", err)
		if recErr := e.intents.RecordFulfillmentFailure(ctx, intent.ID, err.Error()); recErr != nil {
			e.logg.Error(ctx, "fulfillment.failure_unrecorded", recErr)
		}
		return err
	}
	if err := e.intents.MarkFulfilled(ctx, intent.ID, e.now().UTC()); err != nil {
		e.logg.Error(ctx, "fulfillment.mark_failed", err)
		return err
	}
	return nil
}

// Expire fails a pending intent that never received a callback. It goes
// through the same guarded transition as callbacks, so a late callback and the
// sweep cannot both win.
func (e *Engine) Expire(ctx context.Context, token string) (bool, error) {
	desc := "expired: no callback received"
	transition, err := e.intents.TransitionIfPending(ctx, token, enums.IntentStateFailed, intents.Resolution{ResultDesc: &desc})
	if err != nil {
		return false, err
	}
	if transition.Outcome != intents.TransitionApplied {
		return false, nil
	}
	e.logg.Info(e.logg.WithCorrelationToken(ctx, token), "intent.expired")
	_ = e.Fulfill(ctx, transition.Intent)
	return true, nil
}

// ReplayResult summarizes one replay pass over parked callbacks.
type ReplayResult struct {
	Applied   int
	Remaining int
	Dropped   int
}

// ReplayPolicy bounds how long a parked callback keeps being retried.
type ReplayPolicy struct {
	MaxAttempts int
	MaxAge      time.Duration
}

// ReplayParked re-runs parked callbacks. Entries past the policy bounds are
// dropped with an error log so an operator can follow up.
func (e *Engine) ReplayParked(ctx context.Context, policy ReplayPolicy) (ReplayResult, error) {
	parked, err := e.ledger.ListParked(ctx)
	if err != nil {
		return ReplayResult{}, err
	}
	now := e.now().UTC()
	var summary ReplayResult
	for _, entry := range parked {
		entryCtx := e.logg.WithCorrelationToken(ctx, entry.CorrelationToken)
		result, err := mpesa.ParseCallback(entry.Raw)
		if err != nil {
			e.logg.Error(entryCtx, "callback.replay_malformed", err)
			if err := e.ledger.Unpark(ctx, entry.CorrelationToken); err != nil {
				return summary, err
			}
			summary.Dropped++
			continue
		}

		outcome, applyErr := e.resolve(entryCtx, result, false)
		if applyErr == nil && outcome != metrics.CallbackUnknownToken {
			if err := e.ledger.Unpark(ctx, entry.CorrelationToken); err != nil {
				return summary, err
			}
			summary.Applied++
			continue
		}

		entry.Attempts++
		if applyErr != nil {
			entry.Reason = applyErr.Error()
		}
		expired := policy.MaxAge > 0 && now.Sub(entry.ParkedAt) > policy.MaxAge
		if expired || (policy.MaxAttempts > 0 && entry.Attempts >= policy.MaxAttempts) {
			e.logg.Error(e.logg.WithField(entryCtx, "attempts", entry.Attempts), "callback.replay_abandoned", errors.New(entry.Reason))
			if err := e.ledger.Unpark(ctx, entry.CorrelationToken); err != nil {
				return summary, err
			}
			summary.Dropped++
			continue
		}
		if err := e.ledger.Park(ctx, entry); err != nil {
			return summary, err
		}
		summary.Remaining++
	}
	return summary, nil
}

// Outstanding counts the work reconciliation still owes.
type Outstanding struct {
	Gaps        int64
	Parked      int64
	Pending     int64
	Unfulfilled int64
}

// Report collects outstanding counts and publishes them as gauges.
func (e *Engine) Report(ctx context.Context) (Outstanding, error) {
	gaps, parked, err := e.ledger.Counts(ctx)
	if err != nil {
		return Outstanding{}, err
	}
	pending, err := e.intents.CountByState(ctx, enums.IntentStatePending)
	if err != nil {
		return Outstanding{}, err
	}
	unfulfilled, err := e.intents.CountUnfulfilled(ctx)
	if err != nil {
		return Outstanding{}, err
	}
	e.metrics.SetOutstanding("gaps", gaps)
	e.metrics.SetOutstanding("parked", parked)
	e.metrics.SetOutstanding("pending", pending)
	e.metrics.SetOutstanding("unfulfilled", unfulfilled)
	return Outstanding{Gaps: gaps, Parked: parked, Pending: pending, Unfulfilled: unfulfilled}, nil
}

func resolutionFrom(result mpesa.CallbackResult) intents.Resolution {
	code := result.ResultCode
	res := intents.Resolution{
		Receipt:        result.Receipt,
		CallbackAmount: result.Amount,
		CallbackPhone:  result.PayerPhone,
		ResultCode:     &code,
	}
	if result.ResultDesc != "" {
		desc := result.ResultDesc
		res.ResultDesc = &desc
	}
	return res
}
