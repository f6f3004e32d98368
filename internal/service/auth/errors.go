package auth

import "errors"

// Common trigger authentication errors
var (
	// ErrMissingSecret indicates a trigger secret was expected but not provided
	ErrMissingSecret = errors.New("trigger secret is missing")

	// ErrInvalidSecret indicates the presented trigger secret does not match
	// the configured hash
	ErrInvalidSecret = errors.New("invalid trigger secret")
)
