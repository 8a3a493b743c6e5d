// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent records a security-relevant action.
//
// # Fields
//
//   - EventType: Category, e.g. "auth.login", "auth.logout", "retention.cleanup".
//   - Timestamp: When the event happened (UTC).
//   - UserID: Acting user, empty for system jobs.
//   - Action: Verb, e.g. "create", "delete".
//   - ResourceType / ResourceID: What was acted on.
//   - Outcome: "success", "failure" or "denied".
//   - Metadata: Extra non-sensitive attributes. Never put passwords or tokens here.
type AuditEvent struct {
	EventType    string
	Timestamp    time.Time
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Outcome      string
	Metadata     map[string]any
}

// AuditLogger records security-relevant events.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type AuditLogger interface {
	Log(ctx context.Context, event AuditEvent) error
	Flush(ctx context.Context) error
}

// NopAuditLogger discards all events.
type NopAuditLogger struct{}

func (l *NopAuditLogger) Log(context.Context, AuditEvent) error { return nil }
func (l *NopAuditLogger) Flush(context.Context) error           { return nil }

// SlogAuditLogger writes audit events as structured log records under the
// "audit" group.
type SlogAuditLogger struct {
	Logger *slog.Logger
}

// Log emits the event at info level, or warn for non-success outcomes.
func (l *SlogAuditLogger) Log(ctx context.Context, event AuditEvent) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	level := slog.LevelInfo
	if event.Outcome != "" && event.Outcome != "success" {
		level = slog.LevelWarn
	}
	logger.Log(ctx, level, "audit event",
		slog.Group("audit",
			"event_type", event.EventType,
			"timestamp", event.Timestamp,
			"user_id", event.UserID,
			"action", event.Action,
			"resource_type", event.ResourceType,
			"resource_id", event.ResourceID,
			"outcome", event.Outcome,
			"metadata", event.Metadata,
		),
	)
	return nil
}

func (l *SlogAuditLogger) Flush(context.Context) error { return nil }

var (
	_ AuditLogger = (*NopAuditLogger)(nil)
	_ AuditLogger = (*SlogAuditLogger)(nil)
)
