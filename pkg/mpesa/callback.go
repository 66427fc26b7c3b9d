package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// ResultCodeSuccess is the only result code that means the payer completed the push.
const ResultCodeSuccess = 0

// CallbackResult is the explicit, validated shape of an STK callback. Optional
// metadata is nil when the provider omitted it.
type CallbackResult struct {
	CorrelationToken string
	SecondaryToken   string
	ResultCode       int
	ResultDesc       string
	Receipt          *string
	Amount           *decimal.Decimal
	PayerPhone       *string
	TransactionDate  *string
}

// Succeeded reports whether the callback confirms payment.
func (r CallbackResult) Succeeded() bool {
	return r.ResultCode == ResultCodeSuccess
}

type callbackEnvelope struct {
	Body *struct {
		StkCallback *struct {
			MerchantRequestID string          `json:"MerchantRequestID"`
			CheckoutRequestID string          `json:"CheckoutRequestID"`
			ResultCode        json.RawMessage `json:"ResultCode"`
			ResultDesc        string          `json:"ResultDesc"`
			CallbackMetadata  *struct {
				Item []callbackItem `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

type callbackItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value"`
}

// ParseCallback extracts a CallbackResult from a raw provider callback body. It
// fails closed: a missing token or result code, or a success without a
// receipt, is ErrMalformedCallback. Metadata items may arrive in any order.
func ParseCallback(raw []byte) (CallbackResult, error) {
	var env callbackEnvelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}
	if env.Body == nil || env.Body.StkCallback == nil {
		return CallbackResult{}, fmt.Errorf("%w: missing Body.stkCallback", ErrMalformedCallback)
	}
	cb := env.Body.StkCallback

	token := strings.TrimSpace(cb.CheckoutRequestID)
	if token == "" {
		return CallbackResult{}, fmt.Errorf("%w: missing CheckoutRequestID", ErrMalformedCallback)
	}
	code, err := parseResultCode(cb.ResultCode)
	if err != nil {
		return CallbackResult{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	result := CallbackResult{
		CorrelationToken: token,
		SecondaryToken:   strings.TrimSpace(cb.MerchantRequestID),
		ResultCode:       code,
		ResultDesc:       strings.TrimSpace(cb.ResultDesc),
	}
	if !result.Succeeded() {
		return result, nil
	}

	if cb.CallbackMetadata == nil {
		return CallbackResult{}, fmt.Errorf("%w: success without CallbackMetadata", ErrMalformedCallback)
	}
	for _, item := range cb.CallbackMetadata.Item {
		text, ok := itemText(item.Value)
		if !ok {
			continue
		}
		switch item.Name {
		case "MpesaReceiptNumber":
			result.Receipt = &text
		case "Amount":
			amount, err := decimal.NewFromString(text)
			if err != nil {
				return CallbackResult{}, fmt.Errorf("%w: amount %q: %v", ErrMalformedCallback, text, err)
			}
			result.Amount = &amount
		case "PhoneNumber":
			result.PayerPhone = &text
		case "TransactionDate":
			result.TransactionDate = &text
		}
	}
	if result.Receipt == nil {
		return CallbackResult{}, fmt.Errorf("%w: success without MpesaReceiptNumber", ErrMalformedCallback)
	}
	return result, nil
}

// parseResultCode accepts both 0 and "0"; the sandbox sends either.
func parseResultCode(raw json.RawMessage) (int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return 0, fmt.Errorf("missing ResultCode")
	}
	var text string
	if trimmed[0] == '"' {
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return 0, fmt.Errorf("ResultCode: %v", err)
		}
	} else {
		text = string(trimmed)
	}
	code, err := strconv.Atoi(strings.TrimSpace(text))
	if err != nil {
		return 0, fmt.Errorf("ResultCode %q is not an integer", text)
	}
	return code, nil
}

func itemText(raw json.RawMessage) (string, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return "", false
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	return string(trimmed), true
}
