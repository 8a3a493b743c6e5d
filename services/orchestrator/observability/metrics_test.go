// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestMetrics(t *testing.T) *Metrics {
	t.Helper()
	return NewMetrics(prometheus.NewRegistry())
}

func TestMetrics_Middleware(t *testing.T) {
	m := newTestMetrics(t)
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/chat/sessions/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	for _, path := range []string{"/v1/chat/sessions/a", "/v1/chat/sessions/b", "/nope"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/v1/chat/sessions/:id", "GET", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("unmatched", "GET", "404")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.RequestDurationSeconds))
}

func TestMetrics_RecordError(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordError("/v1/feedback", ErrorCodeValidation)
	m.RecordError("/v1/feedback", ErrorCodeValidation)
	m.RecordError("/v1/feedback", ErrorCodeInternal)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("/v1/feedback", "validation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ErrorsTotal.WithLabelValues("/v1/feedback", "internal")))
}

func TestMetrics_Websockets(t *testing.T) {
	m := newTestMetrics(t)
	m.WebsocketOpened()
	m.WebsocketOpened()
	m.WebsocketClosed()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveWebsockets))
}

func TestMetrics_RecordReply(t *testing.T) {
	m := newTestMetrics(t)
	m.RecordReply("chat", 0.4)
	m.RecordReply("intake", 0.01)
	assert.Equal(t, 2, testutil.CollectAndCount(m.ReplyLatencySeconds))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordError("r", ErrorCodeConflict)
		m.RecordReply("chat", 1)
		m.WebsocketOpened()
		m.WebsocketClosed()
	})
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewMetrics(reg)
	assert.Panics(t, func() { NewMetrics(reg) })
}

func TestInitTelemetry(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultTelemetryConfig()
	cfg.MetricExporter = "none"
	shutdown, err := InitTelemetry(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, shutdown(ctx))

	cfg.TraceExporter = "zipkin"
	_, err = InitTelemetry(ctx, cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)

	cfg = DefaultTelemetryConfig()
	cfg.MetricExporter = "carrier-pigeon"
	_, err = InitTelemetry(ctx, cfg)
	assert.ErrorIs(t, err, ErrUnknownExporter)
}
