package intents

import "errors"

var (
	// ErrNotFound is returned when no intent matches the lookup.
	ErrNotFound = errors.New("payment intent not found")
	// ErrDuplicateToken is returned when an insert collides on correlation_token.
	// Provider tokens are globally unique, so this is a logic error upstream.
	ErrDuplicateToken = errors.New("payment intent correlation token already exists")
)
