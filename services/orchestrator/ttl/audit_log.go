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
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// =============================================================================
// Hash-Chained Audit Log
// =============================================================================

// GenesisHash is PrevHash of the first record in a chain.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// auditLogFileMode keeps the log readable by the owner only.
const auditLogFileMode = 0600

// AuditOperation is the operation recorded for every cleanup run.
const AuditOperation = "cleanup_run"

// AuditRecord is one line of the audit log.
//
// # Description
//
// EntryHash covers every other field, PrevHash included, so editing or
// removing a line breaks verification of every line after it.
type AuditRecord struct {
	Sequence             int64  `json:"sequence"`
	Timestamp            string `json:"timestamp"`
	Operation            string `json:"operation"`
	Cutoff               string `json:"cutoff"`
	SessionsDeleted      int    `json:"sessions_deleted"`
	KVPurged             int    `json:"kv_purged"`
	RefreshTokensExpired int    `json:"refresh_tokens_expired"`
	ErrorCount           int    `json:"error_count"`
	PrevHash             string `json:"prev_hash"`
	EntryHash            string `json:"entry_hash"`
}

// AuditLog appends cleanup summaries to a JSONL file as a hash chain.
//
// # Thread Safety
//
// Safe for concurrent use. Appends are serialised.
type AuditLog struct {
	mu       sync.Mutex
	file     *os.File
	path     string
	sequence int64
	prevHash string
	logger   *slog.Logger
}

// OpenAuditLog opens or creates the log at path and resumes its chain.
//
// # Inputs
//
//   - path: JSONL file. Created with mode 0600 if missing.
//   - logger: Nil means slog.Default().
//
// # Outputs
//
//   - *AuditLog: Ready for Append. Close must be called.
//   - error: Non-nil if the file cannot be opened or read.
//
// # Limitations
//
//   - Rotation must be handled externally; verification after rotation
//     needs the older files.
func OpenAuditLog(path string, logger *slog.Logger) (*AuditLog, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, errors.New("audit log path is required")
	}
	l := &AuditLog{path: path, prevHash: GenesisHash, logger: logger}
	if err := l.resume(); err != nil {
		return nil, fmt.Errorf("resume audit chain: %w", err)
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, auditLogFileMode)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l.file = file

	logger.Info("cleanup audit log opened",
		slog.String("path", path),
		slog.Int64("sequence", l.sequence))
	return l, nil
}

// Append writes a record for result and advances the chain.
func (l *AuditLog) Append(result CleanupResult) (AuditRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return AuditRecord{}, errors.New("audit log closed")
	}

	rec := AuditRecord{
		Sequence:             l.sequence + 1,
		Timestamp:            result.EndTime.UTC().Format(time.RFC3339Nano),
		Operation:            AuditOperation,
		Cutoff:               result.Cutoff.UTC().Format(time.RFC3339),
		SessionsDeleted:      result.SessionsDeleted,
		KVPurged:             result.KVPurged,
		RefreshTokensExpired: result.RefreshTokensExpired,
		ErrorCount:           len(result.Errors),
		PrevHash:             l.prevHash,
	}
	rec.EntryHash = recordHash(rec)

	line, err := json.Marshal(rec)
	if err != nil {
		return AuditRecord{}, fmt.Errorf("encode audit record: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return AuditRecord{}, fmt.Errorf("write audit record: %w", err)
	}

	l.sequence = rec.Sequence
	l.prevHash = rec.EntryHash
	return rec, nil
}

// Verify walks the file and checks every link.
//
// # Outputs
//
//   - valid: True if every record hashes correctly and links to its
//     predecessor.
//   - breakIndex: Zero-based index of the first bad record, or -1.
//   - err: Non-nil if the file cannot be read.
func (l *AuditLog) Verify() (valid bool, breakIndex int64, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return VerifyAuditFile(l.path)
}

// Count returns the number of records appended so far.
func (l *AuditLog) Count() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sequence
}

// Path returns the file backing the log.
func (l *AuditLog) Path() string { return l.path }

// Close closes the file. Further appends fail.
func (l *AuditLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// VerifyAuditFile checks the chain stored at path without opening it for
// writing. Lines that are not audit records are reported as breaks.
func VerifyAuditFile(path string) (bool, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, -1, fmt.Errorf("open audit log for verification: %w", err)
	}
	defer file.Close()

	prev := GenesisHash
	var index int64
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil || rec.Sequence != index+1 {
			return false, index, nil
		}
		if rec.PrevHash != prev || recordHash(rec) != rec.EntryHash {
			return false, index, nil
		}
		prev = rec.EntryHash
		index++
	}
	if err := scanner.Err(); err != nil {
		return false, -1, fmt.Errorf("read audit log: %w", err)
	}
	return true, -1, nil
}

// resume loads the sequence and last hash from an existing file.
func (l *AuditLog) resume() error {
	file, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue
		}
		if rec.Sequence > l.sequence {
			l.sequence = rec.Sequence
			l.prevHash = rec.EntryHash
		}
	}
	return scanner.Err()
}

// recordHash hashes every field except EntryHash in a fixed order.
func recordHash(r AuditRecord) string {
	data := fmt.Sprintf("%d|%s|%s|%s|%d|%d|%d|%d|%s",
		r.Sequence,
		r.Timestamp,
		r.Operation,
		r.Cutoff,
		r.SessionsDeleted,
		r.KVPurged,
		r.RefreshTokensExpired,
		r.ErrorCount,
		r.PrevHash,
	)
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}
