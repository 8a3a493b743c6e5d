// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// =============================================================================
// Metrics
// =============================================================================

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aira",
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Completion calls by backend, operation and outcome.",
		},
		[]string{"backend", "op", "outcome"},
	)

	llmCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aira",
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "Completion latency including retries.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"backend", "op"},
	)

	llmRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aira",
			Subsystem: "llm",
			Name:      "retries_total",
			Help:      "Retry attempts after a failed completion call.",
		},
		[]string{"backend"},
	)
)

// =============================================================================
// ResilientClient
// =============================================================================

// ResilientConfig bounds every completion call.
//
// # Fields
//
//   - Backend: Label for metrics and spans.
//   - Timeout: Per-attempt deadline. Default 60s.
//   - MaxAttempts: Total attempts including the first. Default 3.
//   - InitialBackoff: Delay before the second attempt, doubled after. Default 1s.
//   - RatePerSecond: Sustained call rate. Zero disables limiting.
//   - Burst: Limiter bucket size. Default 1.
type ResilientConfig struct {
	Backend        string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	RatePerSecond  float64
	Burst          int
}

// DefaultResilientConfig returns the production bounds.
func DefaultResilientConfig(backend string) ResilientConfig {
	return ResilientConfig{
		Backend:        backend,
		Timeout:        60 * time.Second,
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		RatePerSecond:  5,
		Burst:          5,
	}
}

// ResilientClient decorates an LLMClient with a per-attempt timeout,
// exponential-backoff retries, a token-bucket rate limit, spans and metrics.
//
// # Description
//
// An attempt whose own deadline fires while the caller's context is still
// live yields ErrTimeout and is retried. Cancellation of the caller's
// context and ErrEmptyResponse end the call immediately.
//
// # Thread Safety
//
// Safe for concurrent use.
type ResilientClient struct {
	next    LLMClient
	cfg     ResilientConfig
	limiter *rate.Limiter
	logger  *slog.Logger
	wait    func(ctx context.Context, d time.Duration) error
}

// NewResilientClient wraps next. A nil logger uses slog.Default().
func NewResilientClient(next LLMClient, cfg ResilientConfig, logger *slog.Logger) *ResilientClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Backend == "" {
		cfg.Backend = "unknown"
	}
	if logger == nil {
		logger = slog.Default()
	}
	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst)
	}
	return &ResilientClient{
		next:    next,
		cfg:     cfg,
		limiter: limiter,
		logger:  logger,
		wait:    sleepCtx,
	}
}

// Generate implements LLMClient.
func (r *ResilientClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	return r.do(ctx, "generate", func(ctx context.Context) (string, error) {
		return r.next.Generate(ctx, prompt, params)
	})
}

// Chat implements LLMClient.
func (r *ResilientClient) Chat(ctx context.Context, messages []ChatMessage, params GenerationParams) (string, error) {
	return r.do(ctx, "chat", func(ctx context.Context) (string, error) {
		return r.next.Chat(ctx, messages, params)
	})
}

func (r *ResilientClient) do(ctx context.Context, op string, call func(context.Context) (string, error)) (string, error) {
	ctx, span := tracer.Start(ctx, "ResilientClient."+op)
	defer span.End()
	span.SetAttributes(attribute.String("llm.backend", r.cfg.Backend))

	start := time.Now()
	defer func() {
		llmCallDuration.WithLabelValues(r.cfg.Backend, op).Observe(time.Since(start).Seconds())
	}()

	var lastErr error
	delay := r.cfg.InitialBackoff
	for attempt := 0; attempt < r.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			span.AddEvent("retry_attempt", trace.WithAttributes(
				attribute.Int("attempt", attempt),
				attribute.String("delay", delay.String()),
			))
			r.logger.Info("Retrying completion call",
				"backend", r.cfg.Backend,
				"attempt", attempt,
				"delay", delay,
				"lastError", lastErr,
			)
			llmRetriesTotal.WithLabelValues(r.cfg.Backend).Inc()
			if err := r.wait(ctx, delay); err != nil {
				return r.fail(span, op, "cancelled", err)
			}
			delay *= 2
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return r.fail(span, op, "cancelled", err)
			}
		}

		out, err := r.attempt(ctx, call)
		if err == nil {
			span.SetAttributes(attribute.Int("llm.attempts", attempt+1))
			llmCallsTotal.WithLabelValues(r.cfg.Backend, op, "success").Inc()
			return out, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return r.fail(span, op, "cancelled", ctx.Err())
		}
		if !isRetryable(err) {
			return r.fail(span, op, "error", err)
		}
	}

	outcome := "error"
	if errors.Is(lastErr, ErrTimeout) {
		outcome = "timeout"
	}
	return r.fail(span, op, outcome,
		fmt.Errorf("completion failed after %d attempts: %w", r.cfg.MaxAttempts, lastErr))
}

func (r *ResilientClient) attempt(ctx context.Context, call func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	out, err := call(callCtx)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%w after %s: %v", ErrTimeout, r.cfg.Timeout, err)
	}
	return out, err
}

func (r *ResilientClient) fail(span trace.Span, op, outcome string, err error) (string, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, outcome)
	llmCallsTotal.WithLabelValues(r.cfg.Backend, op, outcome).Inc()
	return "", err
}

// isRetryable reports whether another attempt may succeed.
func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrTimeout):
		return true
	case errors.Is(err, ErrEmptyResponse):
		return false
	case errors.Is(err, context.Canceled):
		return false
	}
	// Transport and 5xx errors from the backends are not typed consistently.
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

var _ LLMClient = (*ResilientClient)(nil)
