// Package apperror defines the error kinds shared by the proximity group and
// alert fanout packages. Feature packages declare their own sentinel errors
// wrapping one of these kinds so handlers can map them with errors.Is.
package apperror

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrInvalidCoordinate = errors.New("invalid coordinate")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidOperation  = errors.New("invalid operation")
	ErrNotFound          = errors.New("not found")
	ErrPartialFailure    = errors.New("partial failure")
	ErrStore             = errors.New("store error")
)

// New returns an error of the given kind with a specific message.
func New(kind error, message string) error {
	return &kindError{kind: kind, message: message}
}

// Invalid is shorthand for an ErrInvalidInput error.
func Invalid(format string, args ...interface{}) error {
	return New(ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Store marks an underlying persistence failure.
func Store(err error) error {
	if err == nil {
		return nil
	}
	return &storeError{err: err}
}

type kindError struct {
	kind    error
	message string
}

func (e *kindError) Error() string { return e.message }

func (e *kindError) Unwrap() error { return e.kind }

type storeError struct {
	err error
}

func (e *storeError) Error() string { return e.err.Error() }

func (e *storeError) Unwrap() []error { return []error{ErrStore, e.err} }

// PartialFailure reports a fanout whose broadcast committed while one or more
// per-recipient writes failed.
type PartialFailure struct {
	FailedRecipients []int64
	Errs             []error
}

func (e *PartialFailure) Error() string {
	ids := make([]string, len(e.FailedRecipients))
	for i, id := range e.FailedRecipients {
		ids[i] = fmt.Sprint(id)
	}
	msg := fmt.Sprintf("delivery failed for %d recipient(s): %s", len(e.FailedRecipients), strings.Join(ids, ","))
	if len(e.Errs) > 0 {
		msg += fmt.Sprintf(" (%d bookkeeping error(s))", len(e.Errs))
	}
	return msg
}

func (e *PartialFailure) Is(target error) bool { return target == ErrPartialFailure }

func (e *PartialFailure) Unwrap() []error { return e.Errs }

// NewPartialFailure builds a PartialFailure with recipient ids in ascending order.
// It returns nil when nothing failed.
func NewPartialFailure(failed []int64, errs []error) *PartialFailure {
	if len(failed) == 0 && len(errs) == 0 {
		return nil
	}
	ids := append([]int64(nil), failed...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return &PartialFailure{FailedRecipients: ids, Errs: errs}
}

// Kind returns the taxonomy sentinel matched by err, or nil.
func Kind(err error) error {
	for _, kind := range []error{
		ErrInvalidCoordinate,
		ErrInvalidInput,
		ErrForbidden,
		ErrInvalidOperation,
		ErrNotFound,
		ErrPartialFailure,
		ErrStore,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
