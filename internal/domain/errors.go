package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for the propagation policy: transient
// kinds are retried and never interrupt a scheduler tick for other entities,
// structural kinds surface synchronously to the caller.
type ErrorKind string

const (
	KindDataUnavailable     ErrorKind = "DATA_UNAVAILABLE"
	KindRecipientResolution ErrorKind = "RECIPIENT_RESOLUTION_FAILED"
	KindChannelDelivery     ErrorKind = "CHANNEL_DELIVERY_FAILED"
	KindEscalationExhausted ErrorKind = "ESCALATION_EXHAUSTED"
	KindValidation          ErrorKind = "VALIDATION_ERROR"
	KindNotFound            ErrorKind = "NOT_FOUND"
	KindConflict            ErrorKind = "CONFLICT"
)

// DomainError carries an error kind alongside the failing entity
type DomainError struct {
	Kind   ErrorKind
	Entity string
	Msg    string
	Err    error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Kind, e.Entity, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Entity, e.Msg)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates an error without a cause
func NewDomainError(kind ErrorKind, entity, msg string) *DomainError {
	return &DomainError{Kind: kind, Entity: entity, Msg: msg}
}

// WrapDomainError creates an error wrapping a cause
func WrapDomainError(kind ErrorKind, entity, msg string, err error) *DomainError {
	return &DomainError{Kind: kind, Entity: entity, Msg: msg, Err: err}
}

// KindOf extracts the error kind, or "" for untyped errors
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsTransient reports whether the error should be retried rather than
// surfaced to the caller.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindDataUnavailable, KindRecipientResolution, KindChannelDelivery:
		return true
	}
	return false
}

// Common sentinel errors shared across stores
var (
	ErrNotFound        = NewDomainError(KindNotFound, "entity", "not found")
	ErrStaleTransition = NewDomainError(KindConflict, "notification", "state changed concurrently")
)
