package domain

import (
	"context"
	"errors"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrLockHeld          = errors.New("lock already held")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrInvalidSettings   = errors.New("invalid settings")
	ErrUnknownOrder      = errors.New("order does not belong to pair")
	ErrWSDisconnect      = errors.New("websocket disconnected")

	// ErrTransient covers timeouts on reads, rate limits and 5xx responses.
	// Retried with backoff; never changes a pair's status.
	ErrTransient = errors.New("transient failure")
	// ErrUnknownOutcome means a mutating call timed out: the action may or may
	// not have happened and must be resolved by polling.
	ErrUnknownOutcome = errors.New("unknown outcome")
	// ErrPrecondition is returned when the external state no longer allows the
	// action, e.g. cancelling an order that already filled.
	ErrPrecondition = errors.New("precondition failed")
	// ErrEconomicReject marks a pair whose cost exceeds the configured limits.
	ErrEconomicReject = errors.New("economic reject")
	// ErrIrrecoverable is surfaced to the audit log for manual intervention.
	ErrIrrecoverable = errors.New("irrecoverable")
)

// ErrorClass is the operator-facing category of a failure.
type ErrorClass string

const (
	ClassNone           ErrorClass = ""
	ClassTransient      ErrorClass = "transient"
	ClassUnknownOutcome ErrorClass = "unknown_outcome"
	ClassPrecondition   ErrorClass = "precondition_failed"
	ClassEconomicReject ErrorClass = "economic_reject"
	ClassIrrecoverable  ErrorClass = "irrecoverable"
	ClassInternal       ErrorClass = "internal"
)

// Classify maps an error chain to its ErrorClass. A deadline without an
// explicit class is treated as an unknown outcome.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, ErrIrrecoverable):
		return ClassIrrecoverable
	case errors.Is(err, ErrEconomicReject):
		return ClassEconomicReject
	case errors.Is(err, ErrPrecondition), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrNotFound):
		return ClassPrecondition
	case errors.Is(err, ErrUnknownOutcome), errors.Is(err, context.DeadlineExceeded):
		return ClassUnknownOutcome
	case errors.Is(err, ErrTransient), errors.Is(err, ErrWSDisconnect):
		return ClassTransient
	}
	return ClassInternal
}
