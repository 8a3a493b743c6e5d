// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package assessment

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

//go:embed questions.yaml
var defaultBankYAML []byte

type bankFile struct {
	Questions []datatypes.Question `yaml:"questions"`
}

// DefaultBank returns the embedded question bank.
func DefaultBank() ([]datatypes.Question, error) {
	return ParseBank(defaultBankYAML)
}

// ParseBank decodes and checks a YAML question bank.
//
// # Description
//
// Every question needs an id, a category and text, and at least one option
// with exactly one score per option. Ids must be unique. A zero Order is
// replaced by the question's position within its category, so file order
// is question order unless stated otherwise.
func ParseBank(data []byte) ([]datatypes.Question, error) {
	var f bankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse question bank: %w", err)
	}
	if len(f.Questions) == 0 {
		return nil, fmt.Errorf("question bank is empty")
	}
	seen := make(map[string]bool, len(f.Questions))
	pos := make(map[string]int)
	for i := range f.Questions {
		q := &f.Questions[i]
		q.ID = strings.TrimSpace(q.ID)
		q.Category = strings.TrimSpace(q.Category)
		switch {
		case q.ID == "":
			return nil, fmt.Errorf("question %d: id is required", i)
		case seen[q.ID]:
			return nil, fmt.Errorf("question %s: duplicate id", q.ID)
		case q.Category == "":
			return nil, fmt.Errorf("question %s: category is required", q.ID)
		case strings.TrimSpace(q.Text) == "":
			return nil, fmt.Errorf("question %s: text is required", q.ID)
		case len(q.Options) == 0:
			return nil, fmt.Errorf("question %s: at least one option is required", q.ID)
		case len(q.Options) != len(q.Scores):
			return nil, fmt.Errorf("question %s: %d options but %d scores", q.ID, len(q.Options), len(q.Scores))
		}
		seen[q.ID] = true
		pos[q.Category]++
		if q.Order == 0 {
			q.Order = pos[q.Category]
		}
	}
	return f.Questions, nil
}

// LoadBankFile reads and parses a question bank from disk.
func LoadBankFile(path string) ([]datatypes.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read question bank %s: %w", path, err)
	}
	return ParseBank(data)
}

// Seed upserts questions into the store.
func Seed(ctx context.Context, s store.Questions, qs []datatypes.Question) error {
	if err := s.UpsertQuestions(ctx, qs); err != nil {
		return fmt.Errorf("seed %d questions: %w", len(qs), err)
	}
	return nil
}

// =============================================================================
// Watcher
// =============================================================================

// BankWatcher reseeds the question store whenever the bank file changes.
//
// # Description
//
// The parent directory is watched rather than the file, because editors
// commonly replace a file by rename. Bursts of events are collapsed into
// one reload after the debounce delay. A file that fails to parse is
// logged and the previous questions stay in place.
//
// # Thread Safety
//
// Start and Stop may be called from different goroutines.
type BankWatcher struct {
	path     string
	store    store.Questions
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	onReload func(n int, err error)

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewBankWatcher creates a watcher for path. It does not start watching.
func NewBankWatcher(path string, s store.Questions, logger *slog.Logger) (*BankWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		_ = w.Close()
		return nil, err
	}
	return &BankWatcher{
		path:     abs,
		store:    s,
		logger:   logger,
		debounce: 300 * time.Millisecond,
		watcher:  w,
	}, nil
}

// Start watches until ctx is cancelled or Stop is called.
func (b *BankWatcher) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return nil
	}
	if err := b.watcher.Add(filepath.Dir(b.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(b.path), err)
	}
	b.running = true
	b.stopCh = make(chan struct{})
	b.doneCh = make(chan struct{})
	go b.run(ctx)
	b.logger.Info("Watching question bank", "path", b.path)
	return nil
}

// Stop ends the watch loop and releases the watcher.
func (b *BankWatcher) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		_ = b.watcher.Close()
		return
	}
	b.running = false
	close(b.stopCh)
	b.mu.Unlock()

	<-b.doneCh
	if err := b.watcher.Close(); err != nil {
		b.logger.Warn("Closing question bank watcher failed", "error", err)
	}
}

func (b *BankWatcher) run(ctx context.Context) {
	defer close(b.doneCh)

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-b.stopCh:
			return
		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != b.path || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(b.debounce)
			} else {
				timer.Reset(b.debounce)
			}
			fire = timer.C
		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			b.logger.Warn("Question bank watcher error", "error", err)
		case <-fire:
			fire = nil
			b.reload(ctx)
		}
	}
}

func (b *BankWatcher) reload(ctx context.Context) {
	qs, err := LoadBankFile(b.path)
	if err == nil {
		err = Seed(ctx, b.store, qs)
	}
	if err != nil {
		b.logger.Error("Question bank reload failed, keeping previous questions", "path", b.path, "error", err)
	} else {
		b.logger.Info("Question bank reloaded", "path", b.path, "questions", len(qs))
	}
	if b.onReload != nil {
		b.onReload(len(qs), err)
	}
}
