package services

import (
	"errors"
)

var (
	// ErrCatalogUnavailable marks a failed or malformed catalog service call.
	// The whole batch call fails; retrying is the orchestrating worker's call.
	ErrCatalogUnavailable = errors.New("catalog service unavailable")

	// ErrPriceServiceUnavailable marks a failed or malformed pricing service call.
	ErrPriceServiceUnavailable = errors.New("price service unavailable")

	// ErrNotFound is handled locally by callers; it selects the default branch
	// of the relevant state machine rather than propagating.
	ErrNotFound = errors.New("not found")
)
