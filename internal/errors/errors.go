// Package errors provides error handling for VisionFlow.
//
// It re-exports github.com/cockroachdb/errors (stack traces, wrapping, hints)
// and defines the sentinel errors that distinguish the failure kinds of the
// detection pipeline. Wrap a sentinel to add context while keeping it
// detectable with Is:
//
//	return errors.Wrap(errors.ErrPersistence, err.Error())
//
// or use the helpers below.
package errors

import (
	crdb "github.com/cockroachdb/errors"
)

// Core error creation and wrapping
var (
	New          = crdb.New
	Newf         = crdb.Newf
	Wrap         = crdb.Wrap
	Wrapf        = crdb.Wrapf
	WithStack    = crdb.WithStack
	WithMessage  = crdb.WithMessage
	WithMessagef = crdb.WithMessagef
	Mark         = crdb.Mark
)

// User-facing messages and details
var (
	WithHint    = crdb.WithHint
	WithHintf   = crdb.WithHintf
	WithDetail  = crdb.WithDetail
	WithDetailf = crdb.WithDetailf
)

// Error inspection
var (
	Is            = crdb.Is
	IsAny         = crdb.IsAny
	As            = crdb.As
	Unwrap        = crdb.Unwrap
	UnwrapAll     = crdb.UnwrapAll
	GetAllHints   = crdb.GetAllHints
	GetAllDetails = crdb.GetAllDetails
	FlattenHints  = crdb.FlattenHints
	GetStack      = crdb.GetReportableStackTrace
)

// Sentinel errors of the detection pipeline.
var (
	// ErrConfiguration means the inference engine cannot be constructed at all
	// (no factory or model configured). Fatal until configuration changes.
	ErrConfiguration = New("configuration error")

	// ErrServiceUnavailable means engine construction or inference failed for
	// this attempt. A later attempt may succeed.
	ErrServiceUnavailable = New("service unavailable")

	// ErrValidation means the caller supplied malformed input (unsupported or
	// empty image, out of range query parameters).
	ErrValidation = New("validation error")

	// ErrPersistence means the history store rejected a write or read.
	ErrPersistence = New("persistence error")

	// ErrNotFound indicates the requested resource does not exist
	ErrNotFound = New("not found")
)

// NewConfigurationError creates a configuration error with a formatted message.
func NewConfigurationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrConfiguration)
}

// NewValidationError creates a validation error with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return Mark(Newf(format, args...), ErrValidation)
}

// WrapServiceUnavailable marks err as a transient service failure.
func WrapServiceUnavailable(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrServiceUnavailable)
}

// WrapPersistence marks err as a history store failure.
func WrapPersistence(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrPersistence)
}

// WrapValidation marks err as a validation failure.
func WrapValidation(err error, msg string) error {
	if err == nil {
		return nil
	}
	return Mark(Wrap(err, msg), ErrValidation)
}

// IsConfigurationError checks if an error is or is marked as ErrConfiguration
func IsConfigurationError(err error) bool {
	return err != nil && Is(err, ErrConfiguration)
}

// IsServiceUnavailableError checks if an error is or is marked as ErrServiceUnavailable
func IsServiceUnavailableError(err error) bool {
	return err != nil && Is(err, ErrServiceUnavailable)
}

// IsValidationError checks if an error is or is marked as ErrValidation
func IsValidationError(err error) bool {
	return err != nil && Is(err, ErrValidation)
}

// IsPersistenceError checks if an error is or is marked as ErrPersistence
func IsPersistenceError(err error) bool {
	return err != nil && Is(err, ErrPersistence)
}

// IsNotFoundError checks if an error is or wraps ErrNotFound
func IsNotFoundError(err error) bool {
	return err != nil && Is(err, ErrNotFound)
}
