// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"errors"
	"fmt"
)

// Category classifies a command failure for the exit status.
type Category string

const (
	// CategoryValidation: bad arguments or flags. Exit status 2.
	CategoryValidation Category = "validation"

	// CategoryNotFound: the named file or folder does not exist.
	// Exit status 3.
	CategoryNotFound Category = "not_found"

	// CategoryTransient: the engine is unreachable or timed out.
	// Exit status 4.
	CategoryTransient Category = "transient"

	// CategoryInternal: everything else. Exit status 1.
	CategoryInternal Category = "internal"
)

// Error is a categorized command error.
type Error struct {
	Category Category
	Err      error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func Validation(format string, args ...any) *Error {
	return &Error{Category: CategoryValidation, Err: fmt.Errorf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Category: CategoryNotFound, Err: fmt.Errorf(format, args...)}
}

func Transient(format string, args ...any) *Error {
	return &Error{Category: CategoryTransient, Err: fmt.Errorf(format, args...)}
}

func Internal(format string, args ...any) *Error {
	return &Error{Category: CategoryInternal, Err: fmt.Errorf(format, args...)}
}

// ExitError ends the process with Code after the command has already
// reported the outcome itself.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exit code %d", e.Code) }

// ExitCode maps an error returned by Execute to the process exit
// status.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	var categorized *Error
	if errors.As(err, &categorized) {
		switch categorized.Category {
		case CategoryValidation:
			return 2
		case CategoryNotFound:
			return 3
		case CategoryTransient:
			return 4
		}
	}
	return 1
}
