package domain

import "errors"

var (
	// ErrValidation marks invalid input or an invalid domain state.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing record.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration marks a fatal misconfiguration detected at startup.
	ErrConfiguration = errors.New("configuration error")
)
