// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides metrics, tracing setup and HTTP
// instrumentation for the orchestrator.
//
// # Description
//
// Prometheus metrics cover the HTTP surface and the chat pipeline:
//   - Request counters and latency histograms by route
//   - Reply latency by conversation phase (intake, chat)
//   - Error counters by error code
//   - Active websocket connections
//
// Metrics are exposed at /metrics. Tracing and the OTel meter provider are
// configured by InitTelemetry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "aira"

const httpSubsystem = "http"

const chatSubsystem = "chat"

// Metrics holds the orchestrator's Prometheus collectors.
//
// # Fields
//
//   - RequestsTotal: Requests by route, method and status code.
//   - RequestDurationSeconds: Handler latency by route.
//   - ReplyLatencySeconds: Time to produce a reply by phase.
//   - ErrorsTotal: Error responses by route and code.
//   - ActiveWebsockets: Open chat websocket connections.
//
// # Thread Safety
//
// All operations are thread-safe.
type Metrics struct {
	RequestsTotal          *prometheus.CounterVec
	RequestDurationSeconds *prometheus.HistogramVec
	ReplyLatencySeconds    *prometheus.HistogramVec
	ErrorsTotal            *prometheus.CounterVec
	ActiveWebsockets       prometheus.Gauge

	replies metric.Int64Counter
}

// NewMetrics creates and registers the collectors with reg.
//
// # Inputs
//
//   - reg: Registry to use. Nil means prometheus.DefaultRegisterer. Tests
//     pass prometheus.NewRegistry() so instances do not collide.
//
// # Limitations
//
//   - Panics if the same registry already holds these collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	replies, _ := otel.Meter("aira.orchestrator").Int64Counter("aira.chat.replies",
		metric.WithDescription("Replies produced, by conversation phase"))
	return &Metrics{
		replies: replies,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "requests_total",
				Help:      "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "status"},
		),
		RequestDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "request_duration_seconds",
				Help:      "HTTP handler latency in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"route"},
		),
		ReplyLatencySeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "reply_latency_seconds",
				Help:      "Time to produce a reply by conversation phase",
				Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"phase"},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: httpSubsystem,
				Name:      "errors_total",
				Help:      "Error responses by route and error code",
			},
			[]string{"route", "code"},
		),
		ActiveWebsockets: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: chatSubsystem,
				Name:      "active_websockets",
				Help:      "Open chat websocket connections",
			},
		),
	}
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode is the metrics label for an error response.
type ErrorCode string

const (
	ErrorCodeValidation   ErrorCode = "validation"
	ErrorCodeUnauthorized ErrorCode = "unauthorized"
	ErrorCodeForbidden    ErrorCode = "forbidden"
	ErrorCodeNotFound     ErrorCode = "not_found"
	ErrorCodeConflict     ErrorCode = "conflict"
	ErrorCodeInternal     ErrorCode = "internal"
)

// =============================================================================
// Recording
// =============================================================================

// RecordError counts one error response. Safe on a nil receiver.
func (m *Metrics) RecordError(route string, code ErrorCode) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(route, string(code)).Inc()
}

// RecordReply observes the latency of one reply. Safe on a nil receiver.
func (m *Metrics) RecordReply(phase string, seconds float64) {
	if m == nil {
		return
	}
	m.ReplyLatencySeconds.WithLabelValues(phase).Observe(seconds)
	if m.replies != nil {
		m.replies.Add(context.Background(), 1, metric.WithAttributes(attribute.String("phase", phase)))
	}
}

// WebsocketOpened increments the open connection gauge.
func (m *Metrics) WebsocketOpened() {
	if m != nil {
		m.ActiveWebsockets.Inc()
	}
}

// WebsocketClosed decrements the open connection gauge.
func (m *Metrics) WebsocketClosed() {
	if m != nil {
		m.ActiveWebsockets.Dec()
	}
}

// Middleware records request count and latency for every matched route.
// Unmatched paths are labelled "unmatched" to bound cardinality. A nil
// Metrics yields a pass-through middleware.
func (m *Metrics) Middleware() gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RequestsTotal.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		m.RequestDurationSeconds.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
