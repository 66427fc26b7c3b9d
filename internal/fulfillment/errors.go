package fulfillment

import "errors"

var (
	// ErrFulfillmentFailed wraps any side-effect failure after a successful transition.
	ErrFulfillmentFailed = errors.New("fulfillment failed")
	ErrUnknownPlan       = errors.New("unknown subscription plan")
	ErrOrderNotFound     = errors.New("order not found")
	ErrMissingReceipt    = errors.New("completed intent has no receipt")
)
