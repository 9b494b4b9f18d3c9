// Package errs defines the error kinds shared across the exchange core.
// Services wrap these sentinels with context; the RPC boundary matches them
// with errors.Is and maps each kind to a transport status.
package errs

import "errors"

var (
	// ErrUnauthenticated indicates a missing or unknown principal.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden indicates the principal is not allowed to perform the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound indicates a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed input (amount, date range, etc.).
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidTransition indicates an order state machine guard failed.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInsufficientFunds indicates a reservation precondition failed.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrPaymentMethodMismatch indicates no accepted payment method matched.
	ErrPaymentMethodMismatch = errors.New("payment method mismatch")

	// ErrRateUnavailable indicates no exchange rate could be resolved.
	ErrRateUnavailable = errors.New("exchange rate unavailable")

	// ErrDuplicateKey indicates a uniqueness constraint violation.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict indicates a serialization conflict; the enclosing
	// operation may be retried.
	ErrConflict = errors.New("serialization conflict")

	// ErrTimeout indicates the request deadline expired.
	ErrTimeout = errors.New("timeout")

	// ErrInternal indicates a logic or invariant failure. It always halts
	// the current scope.
	ErrInternal = errors.New("internal error")
)
