package enums

import (
	"fmt"
	"strings"
)

// PaymentPurpose selects the fulfillment action run when an intent completes.
type PaymentPurpose string

const (
	PurposeStoreOrder   PaymentPurpose = "store_order"
	PurposeSubscription PaymentPurpose = "subscription"
	PurposeTip          PaymentPurpose = "tip"
)

var validPaymentPurposes = []PaymentPurpose{
	PurposeStoreOrder,
	PurposeSubscription,
	PurposeTip,
}

// String implements fmt.Stringer.
func (p PaymentPurpose) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentPurpose.
func (p PaymentPurpose) IsValid() bool {
	for _, candidate := range validPaymentPurposes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentPurpose accepts both STORE_ORDER and store_order spellings.
func ParsePaymentPurpose(value string) (PaymentPurpose, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validPaymentPurposes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment purpose %q", value)
}
