package domain

import "errors"

// Sentinel errors for domain-level error handling.
// The handler layer maps these to HTTP status codes.
var (
	ErrParticipantAlreadyExists = errors.New("participant_already_exists")
	ErrParticipantNotFound      = errors.New("participant_not_found")
	ErrOrderNotFound            = errors.New("order_not_found")
	ErrOrderNotCancellable      = errors.New("order_not_cancellable")
	ErrInsufficientHoldings     = errors.New("insufficient_holdings")
	ErrSymbolNotFound           = errors.New("symbol_not_found")
	ErrHoldingOverflow          = errors.New("holding_overflow")
	ErrAmountOutOfRange         = errors.New("amount_out_of_range")

	// ErrTransient marks a repository failure that aborted a match step.
	// Nothing of the failed step was applied; the caller may retry.
	ErrTransient = errors.New("transient_failure")
)

// ValidationError represents a request validation failure.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
