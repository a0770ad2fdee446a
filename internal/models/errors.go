package models

import "errors"

// Sentinel errors shared across services. Callers match with errors.Is and
// wrap with fmt.Errorf("%w: ...") to add detail.
var (
	// ErrNotFound means no durable row exists for the user
	ErrNotFound = errors.New("profile not found")

	// ErrValidation means a settings value is out of range or the wrong type
	ErrValidation = errors.New("invalid setting value")

	// ErrBackend means an AI backend call failed
	ErrBackend = errors.New("ai backend request failed")

	// ErrStorage means a durable storage operation failed
	ErrStorage = errors.New("storage operation failed")
)
