/*
errors.go - Centralized error taxonomy for the platform core

PURPOSE:
  Every domain error the engines can produce, in one place. The API layer
  maps these to HTTP statuses; nothing below the API layer knows about
  status codes.

ERROR CATEGORIES:
  Validation          malformed or out-of-range input        -> 400
  NotFound            unknown id or code                     -> 404
  Conflict            duplicate edge, exhausted code space   -> 409
  InsufficientBalance gift-card overspend                    -> 400
  InvalidState        redeeming an expired or spent card     -> 400
  Unauthorized        missing or invalid identity            -> 401
  Provider            external payment-provider failure      -> 502

  InsufficientBalance and InvalidState are deliberately distinct kinds:
  an expired card and an over-drawn card are different failures and
  clients may react differently to each.

USAGE:
  Engines return the structured types; callers branch with errors.Is:

    if errors.Is(err, domain.ErrInsufficientBalance) { ... }

SEE ALSO:
  - api/handlers.go: status-code mapping at the request boundary
*/
package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is the root of all malformed-input failures.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a uniqueness constraint is violated,
	// e.g. following a business twice.
	ErrConflict = errors.New("conflict")

	// ErrInsufficientBalance is returned when a redemption exceeds the
	// card's remaining balance.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidState is returned when an operation is attempted against
	// a record whose status forbids it (expired card, spent card).
	ErrInvalidState = errors.New("invalid state")

	// ErrUnauthorized is returned when the identity collaborator cannot
	// attribute the request to a user.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrProvider wraps failures of the external payment provider.
	ErrProvider = errors.New("payment provider error")

	// ErrDuplicateCode is returned by the store when a gift-card code
	// collides. Internal to the issue retry loop; never reaches the API.
	ErrDuplicateCode = errors.New("gift card code already exists")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a specific invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Kind string // "business", "gift card", ...
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError identifies the colliding record.
type ConflictError struct {
	Kind    string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// InsufficientBalanceError carries the shortfall detail.
type InsufficientBalanceError struct {
	Code      string
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance: available %s, requested %s",
		e.Available.StringFixed(2), e.Requested.StringFixed(2))
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// InvalidStateError reports an operation that the record's status forbids.
type InvalidStateError struct {
	Kind   string
	Status string
	Reason string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s is %s: %s", e.Kind, e.Status, e.Reason)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// ProviderError wraps a payment-provider failure. Message must already be
// sanitized: no secrets, no raw provider payloads.
type ProviderError struct {
	Op      string // "create payment intent", "create subscription", ...
	Message string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("payment provider: %s: %s", e.Op, e.Message)
}

func (e *ProviderError) Unwrap() error { return ErrProvider }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError reports whether the failure is the caller's fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFound reports whether the failure is a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
