package model

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error code surfaced to the presentation layer,
// which translates it into user-facing text.
type Code string

const (
	// CodeNotFound indicates no local machine exists and no source was given.
	CodeNotFound Code = "not_found"

	// CodeInvalidURL indicates a URL that is not a valid absolute URL.
	CodeInvalidURL Code = "invalid_url"

	// CodeInvalidReferenceURL indicates a reference data URL that is
	// malformed or disallowed by policy.
	CodeInvalidReferenceURL Code = "invalid_reference_url"

	// CodeDownloadFailed indicates a remote fetch or apply failed.
	CodeDownloadFailed Code = "download_failed"

	// CodeFleetValidationFailed indicates a fleet descriptor was rejected.
	// Detail carries the specific validation sub-code.
	CodeFleetValidationFailed Code = "fleet_validation_failed"

	// CodeCommitFailed indicates a fleet commit failed. Creates made during
	// the attempt have been rolled back.
	CodeCommitFailed Code = "commit_failed"

	// CodeInternal covers failures that fit no other category.
	CodeInternal Code = "internal"
)

// Error is the structured error returned by synchronization and
// provisioning operations.
type Error struct {
	// Code identifies the error category.
	Code Code

	// Detail is an optional sub-code or short context string.
	Detail string

	// MachineID identifies the affected machine, if any.
	MachineID string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Code)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.MachineID != "" {
		msg = fmt.Sprintf("%s (machine=%s)", msg, e.MachineID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates an Error with the given code and detail.
func NewError(code Code, detail string) *Error {
	return &Error{Code: code, Detail: detail}
}

// WrapError creates an Error with the given code wrapping err.
func WrapError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

// CodeOf extracts the code from err. Uses errors.As to handle wrapped errors.
// Returns CodeInternal for non-nil errors that carry no code and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
