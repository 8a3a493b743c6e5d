// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the orchestrator's HTTP and websocket
// endpoints. Handlers are constructors returning gin.HandlerFunc closures
// over the service they front; errors are attached with c.Error and turned
// into responses by ErrorMiddleware.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/observability"
)

// internalMessage is the body for every 5xx; store and driver details stay
// in the logs.
const internalMessage = "internal server error"

// validatable is implemented by every request DTO.
type validatable interface {
	Validate() error
}

// bindJSON decodes the body into req and runs its validation. On failure it
// records the error and returns false; the handler must return.
func bindJSON(c *gin.Context, req validatable) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		fail(c, datatypes.NewValidationError("", "invalid request body: %v", err))
		return false
	}
	if err := req.Validate(); err != nil {
		fail(c, err)
		return false
	}
	return true
}

// fail attaches err to the context and stops the handler chain.
func fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}

// StatusFor maps a domain error to its HTTP status and metrics code.
//
// # Description
//
// Forbidden is checked before Unauthorized because it wraps it.
func StatusFor(err error) (int, observability.ErrorCode) {
	switch {
	case errors.Is(err, datatypes.ErrForbidden):
		return http.StatusForbidden, observability.ErrorCodeForbidden
	case errors.Is(err, datatypes.ErrUnauthorized):
		return http.StatusUnauthorized, observability.ErrorCodeUnauthorized
	case errors.Is(err, datatypes.ErrNotFound):
		return http.StatusNotFound, observability.ErrorCodeNotFound
	case datatypes.IsValidation(err):
		return http.StatusBadRequest, observability.ErrorCodeValidation
	case errors.Is(err, datatypes.ErrConflict):
		return http.StatusConflict, observability.ErrorCodeConflict
	default:
		return http.StatusInternalServerError, observability.ErrorCodeInternal
	}
}

// ErrorMiddleware renders the last error a handler attached as
// {"error": msg}.
//
// # Inputs
//
//   - metrics: Counts error responses. May be nil.
//   - logger: 5xx responses are logged at error level. Nil means
//     slog.Default().
func ErrorMiddleware(metrics *observability.Metrics, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}
		status, code := StatusFor(last.Err)
		metrics.RecordError(c.FullPath(), code)

		msg := last.Err.Error()
		if status >= http.StatusInternalServerError {
			logger.ErrorContext(c.Request.Context(), "request failed",
				slog.String("route", c.FullPath()),
				slog.String("error", msg))
			msg = internalMessage
		}
		c.JSON(status, gin.H{"error": msg})
	}
}

// HealthCheck answers liveness probes.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Pinger reports whether a backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadinessCheck answers 503 until the store responds.
func ReadinessCheck(store Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": "store unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
