package mpesa

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrProviderRejected marks a push request the provider answered with a
	// non-accept response code. No correlation token exists for it.
	ErrProviderRejected = errors.New("mpesa: push request rejected")
	// ErrNetworkFailure marks transport level failures talking to the provider.
	ErrNetworkFailure = errors.New("mpesa: network failure")
	// ErrAuthFailure marks a failed client-credentials token exchange.
	ErrAuthFailure = errors.New("mpesa: access token exchange failed")
	// ErrMalformedCallback marks a callback body that cannot be trusted.
	ErrMalformedCallback = errors.New("mpesa: malformed callback")
)

// MissingCredentialError lists exactly which credential fields are unset.
type MissingCredentialError struct {
	Fields []string
}

func (e *MissingCredentialError) Error() string {
	return fmt.Sprintf("mpesa: missing credentials: %s", strings.Join(e.Fields, ", "))
}

// RejectedError carries the provider's own code and message for a rejected push.
type RejectedError struct {
	ResponseCode string
	Message      string
}

func (e *RejectedError) Error() string {
	if e.ResponseCode == "" {
		return fmt.Sprintf("%s: %s", ErrProviderRejected, e.Message)
	}
	return fmt.Sprintf("%s: %s (code %s)", ErrProviderRejected, e.Message, e.ResponseCode)
}

func (e *RejectedError) Is(target error) bool {
	return target == ErrProviderRejected
}
