// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ttl

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/aira/pkg/extensions"
	"github.com/AleutianAI/aira/services/orchestrator/kv"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

var tracer = otel.Tracer("aira.orchestrator.ttl")

var cleanupDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "aira",
	Subsystem: "cleanup",
	Name:      "items_removed_total",
	Help:      "Items removed by the retention job, by phase.",
}, []string{"phase"})

// DefaultSessionRetention is how long a non-intro session may stay idle.
const DefaultSessionRetention = 90 * 24 * time.Hour

// TokenExpirer removes refresh tokens past their expiry.
type TokenExpirer interface {
	DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error)
}

// CleanerConfig configures a Cleaner.
//
// # Fields
//
//   - SessionRetention: Idle time after which a session is deleted. Zero
//     means DefaultSessionRetention.
//   - Clock: Source of "now". Nil means a ClockChecker with
//     DefaultClockConfig.
//   - AuditLog: Hash-chained run log. Nil skips it.
//   - Audit: Receives one event per run. Nil means a no-op logger.
//   - Logger: Nil means slog.Default().
type CleanerConfig struct {
	SessionRetention time.Duration
	Clock            ClockChecker
	AuditLog         *AuditLog
	Audit            extensions.AuditLogger
	Logger           *slog.Logger
}

// Cleaner is the single retention entry point.
//
// # Description
//
// RunCleanup is idempotent: a second run with nothing stale removes nothing.
// The scheduler, the admin HTTP route and the `aira cleanup` command all
// call the same method.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent runs are serialised.
type Cleaner struct {
	sessions  store.Sessions
	tokens    TokenExpirer
	purgers   map[string]kv.Purger
	retention time.Duration
	clock     ClockChecker
	auditLog  *AuditLog
	audit     extensions.AuditLogger
	logger    *slog.Logger
	runMu     sync.Mutex
}

// NewCleaner wires a Cleaner. tokens may be nil when accounts are disabled.
func NewCleaner(sessions store.Sessions, tokens TokenExpirer, cfg CleanerConfig) *Cleaner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SessionRetention <= 0 {
		cfg.SessionRetention = DefaultSessionRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = NewClockChecker(DefaultClockConfig(), cfg.Logger)
	}
	if cfg.Audit == nil {
		cfg.Audit = &extensions.NopAuditLogger{}
	}
	return &Cleaner{
		sessions:  sessions,
		tokens:    tokens,
		purgers:   make(map[string]kv.Purger),
		retention: cfg.SessionRetention,
		clock:     cfg.Clock,
		auditLog:  cfg.AuditLog,
		audit:     cfg.Audit,
		logger:    cfg.Logger,
	}
}

// RegisterPurger adds a kv store whose expired entries each run drops.
// Registering the same name twice replaces the earlier store.
func (c *Cleaner) RegisterPurger(name string, p kv.Purger) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	c.purgers[name] = p
}

// Retention returns the configured session retention.
func (c *Cleaner) Retention() time.Duration { return c.retention }

// RunCleanup performs one retention run.
//
// # Description
//
//  1. Reads the clock through the ClockChecker; a failed check aborts the
//     run before anything is deleted.
//  2. Deletes non-intro sessions last active before now minus retention.
//  3. Purges every registered kv store.
//  4. Deletes expired refresh tokens.
//  5. Appends an audit record.
//
// A failure in steps 2 to 5 is recorded in the result and the remaining
// steps still run.
//
// # Outputs
//
//   - CleanupResult: What was removed.
//   - error: Non-nil only when the run was aborted.
func (c *Cleaner) RunCleanup(ctx context.Context) (CleanupResult, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	ctx, span := tracer.Start(ctx, "ttl.RunCleanup")
	defer span.End()
	begin := time.Now()

	now, err := c.clock.Now()
	if err != nil {
		span.SetStatus(codes.Error, "clock check failed")
		c.logAudit(ctx, now, "failure", map[string]any{"error": err.Error()})
		return CleanupResult{}, fmt.Errorf("cleanup aborted: %w", err)
	}

	result := CleanupResult{StartTime: now, Cutoff: now.Add(-c.retention)}

	n, err := c.sessions.DeleteInactiveBefore(ctx, result.Cutoff, true)
	if err != nil {
		result.addError(PhaseSessions, err)
	} else {
		result.SessionsDeleted = n
		cleanupDeleted.WithLabelValues(string(PhaseSessions)).Add(float64(n))
	}

	for _, name := range c.purgerNames() {
		n, err := c.purgers[name].Purge(ctx)
		if err != nil {
			result.addError(PhaseKV, fmt.Errorf("%s: %w", name, err))
			continue
		}
		result.KVPurged += n
	}
	cleanupDeleted.WithLabelValues(string(PhaseKV)).Add(float64(result.KVPurged))

	if c.tokens != nil {
		n, err := c.tokens.DeleteExpiredRefreshTokens(ctx, now)
		if err != nil {
			result.addError(PhaseRefreshTokens, err)
		} else {
			result.RefreshTokensExpired = n
			cleanupDeleted.WithLabelValues(string(PhaseRefreshTokens)).Add(float64(n))
		}
	}

	result.EndTime = now.Add(time.Since(begin))
	if c.auditLog != nil {
		rec, err := c.auditLog.Append(result)
		if err != nil {
			result.addError(PhaseAudit, err)
		} else {
			result.AuditSequence = rec.Sequence
		}
	}

	span.SetAttributes(
		attribute.Int("cleanup.sessions_deleted", result.SessionsDeleted),
		attribute.Int("cleanup.kv_purged", result.KVPurged),
		attribute.Int("cleanup.refresh_tokens_expired", result.RefreshTokensExpired),
		attribute.Int("cleanup.errors", len(result.Errors)),
	)
	outcome := "success"
	if result.HasErrors() {
		outcome = "partial"
		span.SetStatus(codes.Error, "cleanup phases failed")
		for _, e := range result.Errors {
			c.logger.Error("cleanup phase failed",
				slog.String("phase", string(e.Phase)),
				slog.String("error", e.Message))
		}
	}
	c.logAudit(ctx, now, outcome, map[string]any{
		"cutoff":                 result.Cutoff.Format(time.RFC3339),
		"sessions_deleted":       result.SessionsDeleted,
		"kv_purged":              result.KVPurged,
		"refresh_tokens_expired": result.RefreshTokensExpired,
	})

	c.logger.Info("cleanup run completed",
		slog.Time("cutoff", result.Cutoff),
		slog.Int("sessions_deleted", result.SessionsDeleted),
		slog.Int("kv_purged", result.KVPurged),
		slog.Int("refresh_tokens_expired", result.RefreshTokensExpired),
		slog.Int("errors", len(result.Errors)),
		slog.Duration("duration", result.Duration()))
	return result, nil
}

func (c *Cleaner) purgerNames() []string {
	names := make([]string, 0, len(c.purgers))
	for name := range c.purgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Cleaner) logAudit(ctx context.Context, at time.Time, outcome string, meta map[string]any) {
	if at.IsZero() {
		at = time.Now()
	}
	_ = c.audit.Log(ctx, extensions.AuditEvent{
		EventType:    "data.retention",
		Timestamp:    at,
		UserID:       "system",
		Action:       "cleanup",
		ResourceType: "sessions",
		Outcome:      outcome,
		Metadata:     meta,
	})
}
