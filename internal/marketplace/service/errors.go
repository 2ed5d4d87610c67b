package service

import "fmt"

// Conflict codes carried by StateConflictError.
const (
	CodeNotAcceptingBids  = "not_accepting_bids"
	CodeDuplicateBid      = "duplicate_bid"
	CodeNotAcceptable     = "not_acceptable"
	CodeInvalidTransition = "invalid_transition"
	CodeNotPayable        = "not_payable"
	CodePaymentInFlight   = "payment_in_flight"
	CodeNotRefundable     = "not_refundable"
)

// ValidationError covers malformed or out-of-range input; surfaced verbatim.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StateConflictError means the attempted transition violates the current
// state machine. Code identifies the specific conflict.
type StateConflictError struct {
	Code    string
	Message string
}

func (e *StateConflictError) Error() string { return e.Message }

func conflictf(code, format string, args ...interface{}) error {
	return &StateConflictError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError names the missing resource.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// AuthorizationError means an ownership or role mismatch.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string { return e.Message }

// ExternalFailure wraps a failed gateway or collaborator call. It is recorded
// on the owning entity, never retried synchronously in the same request.
type ExternalFailure struct {
	Op  string
	Err error
}

func (e *ExternalFailure) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *ExternalFailure) Unwrap() error { return e.Err }

// IntegrityViolation marks a broken invariant. It is fatal to the operation
// and must halt before any commit; it is a defect, not a user error.
type IntegrityViolation struct {
	Message string
}

func (e *IntegrityViolation) Error() string { return "integrity violation: " + e.Message }
