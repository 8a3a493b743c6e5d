// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/aira/pkg/extensions"
)

// =============================================================================
// Error taxonomy
// =============================================================================
//
//   ErrUnauthorized   surfaced, never retried
//   ErrNotFound       surfaced
//   *ValidationError  surfaced, no partial state change
//   *ExtractionFailure recovered locally, never reaches a handler
//   ErrStoreFailure   surfaced as internal error; logged-and-skipped in batch jobs
//   ErrConflict       surfaced (duplicate account, duplicate goal)

var (
	// ErrUnauthorized is the same sentinel the auth providers return.
	ErrUnauthorized = extensions.ErrUnauthorized

	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrStoreFailure = errors.New("store failure")

	// ErrForbidden matches ErrUnauthorized too; handlers answer 403 for it.
	ErrForbidden = fmt.Errorf("forbidden: %w", ErrUnauthorized)
)

// ValidationError rejects malformed input.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError builds a *ValidationError.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// ExtractionFailure signals that a rule or model output produced nothing usable.
//
// Callers recover by substituting a sentinel or default.
type ExtractionFailure struct {
	Kind   string
	Reason string
}

func (e *ExtractionFailure) Error() string {
	return fmt.Sprintf("%s extraction failed: %s", e.Kind, e.Reason)
}

// IsExtractionFailure reports whether err wraps an *ExtractionFailure.
func IsExtractionFailure(err error) bool {
	var x *ExtractionFailure
	return errors.As(err, &x)
}

// messageError carries a client-facing message while unwrapping to a sentinel.
type messageError struct {
	msg  string
	kind error
}

func (e *messageError) Error() string { return e.msg }
func (e *messageError) Unwrap() error { return e.kind }

// NotFoundf returns an error matching ErrNotFound whose text is the message.
func NotFoundf(format string, args ...any) error {
	return &messageError{msg: fmt.Sprintf(format, args...), kind: ErrNotFound}
}

// Conflictf returns an error matching ErrConflict whose text is the message.
func Conflictf(format string, args ...any) error {
	return &messageError{msg: fmt.Sprintf(format, args...), kind: ErrConflict}
}

// Unauthorizedf returns an error matching ErrUnauthorized whose text is the message.
func Unauthorizedf(format string, args ...any) error {
	return &messageError{msg: fmt.Sprintf(format, args...), kind: ErrUnauthorized}
}

// Forbiddenf returns an error matching ErrForbidden and ErrUnauthorized.
func Forbiddenf(format string, args ...any) error {
	return &messageError{msg: fmt.Sprintf(format, args...), kind: ErrForbidden}
}

// StoreError wraps a backend error with ErrStoreFailure, keeping the cause.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStoreFailure, err)
}
