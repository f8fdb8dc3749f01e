/*
errors.go - Error taxonomy for the calculation engine and chain

ERROR CATEGORIES:
  1. Validation   - bad amount, missing date, malformed identifier (400)
  2. Not found    - unknown ticket, transaction or config key (404)
  3. Conflict     - transaction closed or superseded, incl. lost races (409)
  4. Calculation  - internal inconsistency, fatal for the request (500)

Every structured error unwraps to its sentinel so callers can use errors.Is
without knowing the concrete type:

    if errors.Is(err, pawn.ErrConflict) {
        // "this ticket was already processed"
    }

Store implementations report optimistic-lock failures with
ErrConcurrentModification; the chain turns those into *ConflictError so the
loser of a race sees exactly what a stale request sees.
*/
package pawn

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation  = errors.New("validation failed")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("transaction closed or superseded")
	ErrCalculation = errors.New("calculation failed")

	// ErrConcurrentModification is returned by stores when a conditional
	// write finds the row no longer in the expected state.
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

type NotFoundError struct {
	Kind string // "ticket", "transaction", "config key"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// ConflictError reports an operation against a transaction that is no
// longer the actionable head of its chain.
type ConflictError struct {
	TicketID      TicketID
	TransactionID TransactionID
	HeadID        TransactionID // current head, empty if unknown
	Status        Status        // status of the referenced transaction
	Reason        string
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("transaction %s on ticket %s is closed or superseded", e.TransactionID, e.TicketID)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

type CalculationError struct {
	Op      string
	Message string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *CalculationError) Unwrap() error { return ErrCalculation }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the caller can correct the request.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
