// Package chaterr defines the error kinds surfaced by the conversation core.
//
// Callers branch on the kind with the Is* helpers, which see through
// github.com/pkg/errors wrapping.
package chaterr

import (
	"fmt"

	"github.com/pkg/errors"
)

// ValidationError reports bad input to a core operation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// NotFoundError references a turn or record that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func NewNotFoundError(kind string, id interface{}) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: fmt.Sprint(id)}
}

// CorruptRecordError is returned when a persisted record cannot be decoded
// into valid turns and settings.
type CorruptRecordError struct {
	RecordID string
	Cause    error
}

func (e *CorruptRecordError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("record %q is corrupt", e.RecordID)
	}
	return fmt.Sprintf("record %q is corrupt: %v", e.RecordID, e.Cause)
}

func (e *CorruptRecordError) Unwrap() error {
	return e.Cause
}

func NewCorruptRecordError(recordID string, cause error) *CorruptRecordError {
	return &CorruptRecordError{RecordID: recordID, Cause: cause}
}

// UpstreamError wraps a completion failure. PartialLength is the number of
// bytes of assistant text received before the failure.
type UpstreamError struct {
	PartialLength int
	Message       string
	Cause         error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream completion failed after %d bytes: %s", e.PartialLength, e.Message)
}

func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

func NewUpstreamError(partialLength int, cause error) *UpstreamError {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return &UpstreamError{PartialLength: partialLength, Message: msg, Cause: cause}
}

// ConcurrencyError is returned when an operation would overlap with a send
// that is still streaming.
type ConcurrencyError struct {
	Op string
}

func (e *ConcurrencyError) Error() string {
	return fmt.Sprintf("%s: a send is already in flight", e.Op)
}

func NewConcurrencyError(op string) *ConcurrencyError {
	return &ConcurrencyError{Op: op}
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsCorrupt(err error) bool {
	var e *CorruptRecordError
	return errors.As(err, &e)
}

func IsUpstream(err error) bool {
	var e *UpstreamError
	return errors.As(err, &e)
}

func IsConcurrency(err error) bool {
	var e *ConcurrencyError
	return errors.As(err, &e)
}
