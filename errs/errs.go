// Package errs defines the structured error kinds returned by the workflow
// engine and the appointment lifecycle manager. Errors carry a kind and the
// offending fields or identifier; presentation is left to the caller.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindIncompleteWorkflow  Kind = "incomplete_workflow"
	KindInvalidState        Kind = "invalid_state"
	KindSlotConflict        Kind = "slot_conflict"
	KindNotFound            Kind = "not_found"
	KindUnsupportedFileType Kind = "unsupported_file_type"
	KindFileTooLarge        Kind = "file_too_large"
)

// Error is a structured failure.
type Error struct {
	Kind   Kind
	Op     string
	Fields []string
	ID     string
	Detail string
	Err    error
}

// Sentinels for errors.Is matching by kind.
var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrIncompleteWorkflow  = &Error{Kind: KindIncompleteWorkflow}
	ErrInvalidState        = &Error{Kind: KindInvalidState}
	ErrSlotConflict        = &Error{Kind: KindSlotConflict}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrUnsupportedFileType = &Error{Kind: KindUnsupportedFileType}
	ErrFileTooLarge        = &Error{Kind: KindFileTooLarge}
)

// Error renders the kind, op and details on one line.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.ID != "" {
		fmt.Fprintf(&b, " id=%s", e.ID)
	}
	if len(e.Fields) > 0 {
		fmt.Fprintf(&b, " fields=%s", strings.Join(e.Fields, ","))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, " (%s)", e.Detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// FieldsOf returns the offending fields of the first *Error in err's chain.
func FieldsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.Fields
	}
	return nil
}

// Validation reports fields whose values fail their checks.
func Validation(op string, fields ...string) error {
	return &Error{Kind: KindValidation, Op: op, Fields: fields}
}

// IncompleteWorkflow reports a submit blocked by an unsatisfied step.
func IncompleteWorkflow(op, stepID string, fields ...string) error {
	return &Error{Kind: KindIncompleteWorkflow, Op: op, ID: stepID, Fields: fields}
}

// InvalidState reports an operation the target's current state does not allow.
func InvalidState(op, id, detail string) error {
	return &Error{Kind: KindInvalidState, Op: op, ID: id, Detail: detail}
}

// SlotConflict reports a practitioner slot already held by another appointment.
func SlotConflict(op, practitionerID, date, time string) error {
	return &Error{Kind: KindSlotConflict, Op: op, ID: practitionerID, Detail: date + " " + time}
}

// NotFound reports an unknown id. cause may be nil.
func NotFound(op, id string, cause error) error {
	return &Error{Kind: KindNotFound, Op: op, ID: id, Err: cause}
}

// UnsupportedFileType reports an attachment whose media type is not accepted.
func UnsupportedFileType(op, field, mediaType string) error {
	return &Error{Kind: KindUnsupportedFileType, Op: op, Fields: []string{field}, Detail: mediaType}
}

// FileTooLarge reports an attachment over the size limit.
func FileTooLarge(op, field string, size, limit int64) error {
	return &Error{Kind: KindFileTooLarge, Op: op, Fields: []string{field}, Detail: fmt.Sprintf("%d > %d bytes", size, limit)}
}
