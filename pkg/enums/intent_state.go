package enums

import (
	"fmt"
	"strings"
)

// IntentState tracks the lifecycle of a payment intent. Pending is the only
// non-terminal state.
type IntentState string

const (
	IntentStatePending   IntentState = "pending"
	IntentStateCompleted IntentState = "completed"
	IntentStateFailed    IntentState = "failed"
)

var validIntentStates = []IntentState{
	IntentStatePending,
	IntentStateCompleted,
	IntentStateFailed,
}

// String implements fmt.Stringer.
func (s IntentState) String() string {
	return string(s)
}

// IsValid reports whether the value is a known IntentState.
func (s IntentState) IsValid() bool {
	for _, candidate := range validIntentStates {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s IntentState) IsTerminal() bool {
	return s == IntentStateCompleted || s == IntentStateFailed
}

// ParseIntentState converts raw input into an IntentState.
func ParseIntentState(value string) (IntentState, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	for _, candidate := range validIntentStates {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid intent state %q", value)
}
