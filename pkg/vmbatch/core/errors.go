package core

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"time"
)

// ErrorCategory classifies a failure the way management tooling reports it.
type ErrorCategory string

const (
	CategoryNotSpecified     ErrorCategory = "NotSpecified"
	CategoryInvalidArgument  ErrorCategory = "InvalidArgument"
	CategoryObjectNotFound   ErrorCategory = "ObjectNotFound"
	CategoryInvalidOperation ErrorCategory = "InvalidOperation"
	CategoryPermissionDenied ErrorCategory = "PermissionDenied"
	CategoryOperationTimeout ErrorCategory = "OperationTimeout"
	CategoryResourceBusy     ErrorCategory = "ResourceBusy"
	CategoryOperationStopped ErrorCategory = "OperationStopped"
)

// OperationError is the error type produced by the batch engine and its
// collaborators. Two OperationErrors match under errors.Is when they share a
// category, so category sentinels can be used as targets.
type OperationError struct {
	Category ErrorCategory
	Message  string
	Target   string
	Wrapped  error
}

// New creates an OperationError.
func New(category ErrorCategory, message string) *OperationError {
	return &OperationError{Category: category, Message: message}
}

// Newf creates an OperationError with a formatted message.
func Newf(category ErrorCategory, format string, args ...interface{}) *OperationError {
	return New(category, fmt.Sprintf(format, args...))
}

// Wrap wraps err with a category and message.
func Wrap(err error, category ErrorCategory, message string) *OperationError {
	return &OperationError{Category: category, Message: message, Wrapped: err}
}

// Wrapf wraps err with a category and a formatted message.
func Wrapf(err error, category ErrorCategory, format string, args ...interface{}) *OperationError {
	return Wrap(err, category, fmt.Sprintf(format, args...))
}

// WithTarget returns a copy of e naming the target the error applies to.
func (e *OperationError) WithTarget(target string) *OperationError {
	c := *e
	c.Target = target
	return &c
}

func (e *OperationError) Error() string {
	msg := e.Message
	if e.Target != "" {
		msg = fmt.Sprintf("%s: %s", e.Target, msg)
	}
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", msg, e.Wrapped)
	}
	return msg
}

func (e *OperationError) Unwrap() error {
	return e.Wrapped
}

// Is matches any OperationError of the same category.
func (e *OperationError) Is(target error) bool {
	t, ok := target.(*OperationError)
	if !ok {
		return false
	}
	return e.Category == t.Category
}

// Category sentinels for errors.Is.
var (
	ErrInvalidArgument  = New(CategoryInvalidArgument, "invalid argument")
	ErrObjectNotFound   = New(CategoryObjectNotFound, "object not found")
	ErrInvalidOperation = New(CategoryInvalidOperation, "invalid operation")
	ErrPermissionDenied = New(CategoryPermissionDenied, "permission denied")
	ErrOperationTimeout = New(CategoryOperationTimeout, "operation timed out")
	ErrResourceBusy     = New(CategoryResourceBusy, "resource busy")
	ErrOperationStopped = New(CategoryOperationStopped, "operation stopped")
)

// ValidationError aborts a batch because the enumerated operand set is not
// acceptable as a whole.
type ValidationError struct {
	Batch    string
	Operands int
	Reason   string
	Cause    error
}

func (e *ValidationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("validation failed for %s (%d operands): %s: %v",
			e.Batch, e.Operands, e.Reason, e.Cause)
	}
	return fmt.Sprintf("validation failed for %s (%d operands): %s", e.Batch, e.Operands, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// EnumerationError aborts a batch because its operands could not be resolved.
type EnumerationError struct {
	Batch string
	Cause error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("enumeration failed for %s: %v", e.Batch, e.Cause)
}

func (e *EnumerationError) Unwrap() error {
	return e.Cause
}

// CategoryOf reports the category an error belongs to.
func CategoryOf(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	var opErr *OperationError
	if errors.As(err, &opErr) {
		return opErr.Category
	}
	var valErr *ValidationError
	if errors.As(err, &valErr) {
		return CategoryInvalidArgument
	}

	switch {
	case errors.Is(err, context.Canceled):
		return CategoryOperationStopped
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryOperationTimeout
	case errors.Is(err, fs.ErrNotExist):
		return CategoryObjectNotFound
	case errors.Is(err, fs.ErrPermission):
		return CategoryPermissionDenied
	}
	return CategoryNotSpecified
}

// ErrorRecord is an error as delivered to an error sink.
type ErrorRecord struct {
	Err      error
	Category ErrorCategory
	Target   string
	Time     time.Time
}

// NewErrorRecord classifies err into a record.
func NewErrorRecord(err error) ErrorRecord {
	rec := ErrorRecord{
		Err:      err,
		Category: CategoryOf(err),
		Time:     time.Now(),
	}
	var opErr *OperationError
	if errors.As(err, &opErr) {
		rec.Target = opErr.Target
	}
	return rec
}

func (r ErrorRecord) String() string {
	return fmt.Sprintf("%s (%s)", r.Err, r.Category)
}
