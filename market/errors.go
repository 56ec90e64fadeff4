/*
errors.go - Centralized error taxonomy for the deal engine

PURPOSE:
  All caller-visible error kinds in one place. Every engine operation
  fails with exactly one of these kinds so the HTTP adapter can translate
  each to a distinct transport-level outcome.

TAXONOMY:
  Unauthorized      no/invalid caller identity
  Forbidden         caller lacks rights over this deal
  NotFound          deal or offer absent (or offer no longer active)
  InvalidOperation  self-purchase, malformed input
  InvalidState      wrong lifecycle stage for the requested transition
  InsufficientFunds balance shortfall

USAGE:
  Wrap with context where useful; match with errors.Is():

    if errors.Is(err, market.ErrInvalidState) { ... }

SEE ALSO:
  - engine.go: The only producer of these errors
  - api/handlers.go: Maps each kind to an HTTP status
*/
package market

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthorized is returned when no caller identity was supplied.
	ErrUnauthorized = errors.New("authentication required")

	// ErrForbidden is returned when the caller has no rights over the deal.
	ErrForbidden = errors.New("access denied")

	// ErrNotFound is returned when a referenced deal or offer is absent,
	// or the offer is no longer purchasable.
	ErrNotFound = errors.New("not found")

	// ErrInvalidOperation is returned for requests that can never succeed,
	// such as buying your own offer.
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrInvalidState is returned when a deal is not in the lifecycle
	// stage the requested transition expects. A retry after a transient
	// failure lands here, which makes re-attempts harmless.
	ErrInvalidState = errors.New("invalid deal state")

	// ErrInsufficientFunds is returned when a debit would drive the
	// buyer's balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError reports how short the buyer is. Available is
// negative when the shortfall was detected inside an atomic debit and
// the exact balance was not observed.
type InsufficientFundsError struct {
	UserID    UserID
	Required  int64
	Available int64
}

func (e *InsufficientFundsError) Error() string {
	if e.Available < 0 {
		return fmt.Sprintf("insufficient funds: need %d", e.Required)
	}
	return fmt.Sprintf("insufficient funds: need %d, have %d", e.Required, e.Available)
}

func (e *InsufficientFundsError) Unwrap() error {
	return ErrInsufficientFunds
}

// InvalidStateError reports which transition was rejected.
type InvalidStateError struct {
	DealID   DealID
	Status   DealStatus
	Expected DealStatus
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("deal %d is %s, expected %s", e.DealID, e.Status, e.Expected)
}

func (e *InvalidStateError) Unwrap() error {
	return ErrInvalidState
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsNotFound reports whether the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError reports whether the error is the caller's fault rather
// than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnauthorized) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidOperation) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInsufficientFunds)
}
