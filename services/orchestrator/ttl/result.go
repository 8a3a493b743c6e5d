// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ttl runs the retention job: it deletes stale conversation data,
// purges expired short-lived state and keeps a tamper-evident record of each
// run. A Scheduler triggers the job daily and follows it with the memory
// consolidation pass.
package ttl

import "time"

// CleanupPhase names one step of a cleanup run.
type CleanupPhase string

const (
	PhaseClock         CleanupPhase = "clock"
	PhaseSessions      CleanupPhase = "sessions"
	PhaseKV            CleanupPhase = "kv"
	PhaseRefreshTokens CleanupPhase = "refresh_tokens"
	PhaseAudit         CleanupPhase = "audit"
)

// CleanupError records a phase that failed without aborting the run.
type CleanupError struct {
	Phase   CleanupPhase `json:"phase"`
	Message string       `json:"message"`
}

// CleanupResult summarises one RunCleanup call.
//
// # Fields
//
//   - StartTime, EndTime: Wall clock bounds of the run.
//   - Cutoff: Sessions last active before this instant were eligible.
//   - SessionsDeleted: Non-intro sessions removed.
//   - KVPurged: Expired kv entries dropped across every registered store.
//   - RefreshTokensExpired: Refresh tokens past their expiry removed.
//   - Errors: Phases that failed. The remaining phases still ran.
//   - AuditSequence: Sequence number of the audit record, zero when no audit
//     log is configured.
type CleanupResult struct {
	StartTime            time.Time      `json:"start_time"`
	EndTime              time.Time      `json:"end_time"`
	Cutoff               time.Time      `json:"cutoff"`
	SessionsDeleted      int            `json:"sessions_deleted"`
	KVPurged             int            `json:"kv_purged"`
	RefreshTokensExpired int            `json:"refresh_tokens_expired"`
	Errors               []CleanupError `json:"errors,omitempty"`
	AuditSequence        int64          `json:"audit_sequence,omitempty"`
}

// Duration returns how long the run took.
func (r CleanupResult) Duration() time.Duration {
	if r.EndTime.IsZero() {
		return 0
	}
	return r.EndTime.Sub(r.StartTime)
}

// HasErrors reports whether any phase failed.
func (r CleanupResult) HasErrors() bool {
	return len(r.Errors) > 0
}

func (r *CleanupResult) addError(phase CleanupPhase, err error) {
	r.Errors = append(r.Errors, CleanupError{Phase: phase, Message: err.Error()})
}
