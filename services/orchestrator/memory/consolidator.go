// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/aira/services/llm"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

const (
	// DefaultRetentionDays is how long sentiment entries are kept.
	DefaultRetentionDays = 30

	// DefaultParallelism bounds how many users are analysed at once.
	DefaultParallelism = 4
)

// Deps are the collaborators of the Consolidator.
type Deps struct {
	Sessions   store.Sessions
	Sentiments store.Sentiments
	Profiles   store.Profiles
	Reminders  *Reminders
	LLM        llm.LLMClient
	Trend      TrendSink
	Logger     *slog.Logger
}

// Config tunes the Consolidator.
//
// # Fields
//
//   - Location: Reference zone that decides which calendar day a message
//     belongs to. Nil means UTC.
//   - RetentionDays: Sentiment retention window.
//   - Parallelism: Users analysed concurrently by RunSentimentPass.
type Config struct {
	Location      *time.Location
	RetentionDays int
	Parallelism   int
}

// Consolidator is the memory consolidation engine.
//
// # Description
//
// It only reads session transcripts. Everything it writes goes to other
// collections (sentiment, reminders, profile lists), so it is safe to run
// alongside live chat.
//
// # Thread Safety
//
// Safe for concurrent use.
type Consolidator struct {
	deps      Deps
	cfg       Config
	extractor *Extractor
	analyzer  *Analyzer
	now       func() time.Time
	newID     func() string
	logger    *slog.Logger
}

// NewConsolidator wires the engine. A nil Trend uses NopTrendSink.
func NewConsolidator(deps Deps, cfg Config) *Consolidator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Trend == nil {
		deps.Trend = NopTrendSink{}
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = DefaultParallelism
	}
	return &Consolidator{
		deps:      deps,
		cfg:       cfg,
		extractor: NewExtractor(deps.LLM, logger),
		analyzer:  NewAnalyzer(deps.LLM, logger),
		now:       time.Now,
		newID:     uuid.NewString,
		logger:    logger,
	}
}

// Reminders exposes the reminder service.
func (c *Consolidator) Reminders() *Reminders {
	return c.deps.Reminders
}

// =============================================================================
// Sentiment pass
// =============================================================================

// PassResult summarises one sentiment pass.
type PassResult struct {
	Users       int           `json:"users"`
	DaysScored  int           `json:"days_scored"`
	FailedUsers int           `json:"failed_users"`
	Duration    time.Duration `json:"duration_ns"`
}

// RunSentimentPass analyses every user with sessions.
//
// Per-user failures are logged and counted; the pass continues. Only a
// failure to enumerate users, or cancellation, is returned.
func (c *Consolidator) RunSentimentPass(ctx context.Context) (PassResult, error) {
	ctx, span := tracer.Start(ctx, "Consolidator.RunSentimentPass")
	defer span.End()
	start := c.now()

	users, err := c.deps.Sessions.ListSessionUserIDs(ctx)
	if err != nil {
		span.RecordError(err)
		return PassResult{}, fmt.Errorf("list users: %w", err)
	}

	var scored, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Parallelism)
	for _, uid := range users {
		g.Go(func() error {
			n, err := c.AnalyzeUser(gctx, uid)
			scored.Add(int64(n))
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed.Add(1)
				c.logger.Error("Sentiment pass failed for user", "user_id", uid, "error", err)
			}
			return nil
		})
	}
	err = g.Wait()

	res := PassResult{
		Users:       len(users),
		DaysScored:  int(scored.Load()),
		FailedUsers: int(failed.Load()),
		Duration:    c.now().Sub(start),
	}
	span.SetAttributes(
		attribute.Int("sentiment.users", res.Users),
		attribute.Int("sentiment.days_scored", res.DaysScored),
	)
	c.logger.Info("Sentiment pass finished",
		"users", res.Users, "days_scored", res.DaysScored, "failed_users", res.FailedUsers,
		"duration", res.Duration.String())
	return res, err
}

// AnalyzeUser scores every day of the user's free-chat messages that has
// no entry yet, then prunes entries past the retention window.
//
// # Outputs
//
//   - int: Days scored and stored.
//   - error: Failure to load sessions or prior scores. A failed write for
//     one day is logged and the remaining days still run.
func (c *Consolidator) AnalyzeUser(ctx context.Context, userID string) (int, error) {
	ctx, span := tracer.Start(ctx, "Consolidator.AnalyzeUser")
	defer span.End()
	span.SetAttributes(attribute.String("user.id", userID))

	sessions, err := c.deps.Sessions.ListSessions(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	days, texts := c.groupByDay(sessions)
	if len(days) == 0 {
		return 0, nil
	}

	existing, err := c.deps.Sentiments.ListSentiments(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load previous scores: %w", err)
	}
	previous := make([]float64, 0, len(existing))
	for _, e := range existing {
		previous = append(previous, e.MentalScore)
	}
	previous = lastN(previous, ScoreContext)

	scored := 0
	for _, day := range days {
		if err := ctx.Err(); err != nil {
			return scored, err
		}
		done, err := c.deps.Sentiments.HasSentiment(ctx, userID, day)
		if err != nil {
			c.logger.Warn("Sentiment lookup failed, skipping day", "user_id", userID, "date", day, "error", err)
			continue
		}
		if done {
			continue
		}

		a := c.analyzer.AnalyzeDay(ctx, texts[day], previous)
		entry := &datatypes.SentimentEntry{
			UserID:          userID,
			Date:            day,
			MentalScore:     a.MentalScore,
			StressCategory:  a.StressCategory,
			SupportingQuote: a.Quote,
			Suggestions:     a.Suggestions,
			CreatedAt:       c.now().UTC(),
		}
		if err := c.deps.Sentiments.PutSentiment(ctx, entry); err != nil {
			c.logger.Error("Failed to store sentiment entry", "user_id", userID, "date", day, "error", err)
			continue
		}
		scored++
		previous = lastN(append(previous, a.MentalScore), ScoreContext)

		if err := c.deps.Trend.Record(ctx, entry); err != nil {
			c.logger.Warn("Trend sink write failed", "user_id", userID, "date", day, "error", err)
		}
		c.prune(ctx, userID)
	}
	return scored, nil
}

// prune drops entries older than the retention window counted back from
// today in the reference zone.
func (c *Consolidator) prune(ctx context.Context, userID string) {
	cutoff := c.today().AddDate(0, 0, -c.cfg.RetentionDays).Format(datatypes.DateLayout)
	n, err := c.deps.Sentiments.PruneSentiments(ctx, userID, cutoff)
	if err != nil {
		c.logger.Warn("Sentiment prune failed", "user_id", userID, "error", err)
		return
	}
	if n > 0 {
		c.logger.Debug("Pruned sentiment entries", "user_id", userID, "count", n, "before", cutoff)
	}
}

func (c *Consolidator) today() time.Time {
	now := c.now().In(c.cfg.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, c.cfg.Location)
}

// groupByDay collects non-blank User messages of free-chat sessions by
// calendar day in the reference zone. Days come back in ascending order.
func (c *Consolidator) groupByDay(sessions []*datatypes.Session) ([]string, map[string]string) {
	byDay := make(map[string][]string)
	for _, s := range sessions {
		if s == nil || s.IsIntro() {
			continue
		}
		for _, m := range s.Messages {
			if m.Role != datatypes.RoleUser || m.CreatedAt.IsZero() {
				continue
			}
			content := strings.TrimSpace(m.Content)
			if content == "" {
				continue
			}
			day := m.CreatedAt.In(c.cfg.Location).Format(datatypes.DateLayout)
			byDay[day] = append(byDay[day], content)
		}
	}
	days := make([]string, 0, len(byDay))
	texts := make(map[string]string, len(byDay))
	for d, msgs := range byDay {
		days = append(days, d)
		texts[d] = strings.Join(msgs, "\n")
	}
	sort.Strings(days)
	return days, texts
}

func lastN(xs []float64, n int) []float64 {
	if len(xs) <= n {
		return xs
	}
	return append([]float64(nil), xs[len(xs)-n:]...)
}

// Sentiments returns the user's stored entries, oldest first.
func (c *Consolidator) Sentiments(ctx context.Context, userID string) ([]*datatypes.SentimentEntry, error) {
	list, err := c.deps.Sentiments.ListSentiments(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*datatypes.SentimentEntry{}
	}
	return list, nil
}

// Summary aggregates the entries of the last days days, today included.
func (c *Consolidator) Summary(ctx context.Context, userID string, days int) (*datatypes.SentimentSummary, error) {
	if days <= 0 || days > c.cfg.RetentionDays {
		return nil, datatypes.NewValidationError("days", "days must be between 1 and %d", c.cfg.RetentionDays)
	}
	list, err := c.deps.Sentiments.ListSentiments(ctx, userID)
	if err != nil {
		return nil, err
	}
	since := c.today().AddDate(0, 0, -(days - 1)).Format(datatypes.DateLayout)
	sum := &datatypes.SentimentSummary{Days: days, CategoryCounts: map[datatypes.StressCategory]int{}}
	var total float64
	for _, e := range list {
		if e.Date < since {
			continue
		}
		sum.Entries++
		total += e.MentalScore
		sum.CategoryCounts[e.StressCategory]++
		if sum.Latest == nil || e.Date > sum.Latest.Date {
			sum.Latest = e
		}
	}
	if sum.Entries > 0 {
		sum.AverageScore = total / float64(sum.Entries)
	}
	return sum, nil
}

// =============================================================================
// Remembered exchanges
// =============================================================================

// RememberOptions carries the extra inputs of a remember-as request.
type RememberOptions struct {
	ResponseID string
	Slot       string
	TimeZone   string
}

// Remembered is what a remember-as request produced.
type Remembered struct {
	Kind     Kind                `json:"kind"`
	Text     string              `json:"text"`
	Reminder *datatypes.Reminder `json:"reminder,omitempty"`
	Created  bool                `json:"created"`
}

// Remember extracts one memory of the given kind from an exchange and
// stores it.
//
// # Outputs
//
//   - *Remembered: What was stored. Created is false for a suppressed
//     duplicate reminder (same slot). Goals are deduplicated only when
//     added manually through AddCustomGoal.
//   - error: *datatypes.ExtractionFailure when nothing was detected, a
//     ValidationError for bad slot or zone, or store failures.
func (c *Consolidator) Remember(ctx context.Context, userID string, kind Kind, userMessage, aiResponse string, opts RememberOptions) (*Remembered, error) {
	ctx, span := tracer.Start(ctx, "Consolidator.Remember")
	defer span.End()
	span.SetAttributes(attribute.String("memory.kind", string(kind)))

	if kind == KindReminder {
		// Reject a bad slot or zone before paying for a completion.
		if _, err := ParseSlot(opts.Slot); err != nil {
			return nil, err
		}
		if _, _, err := LoadZone(opts.TimeZone); err != nil {
			return nil, err
		}
	}

	text, err := c.extractor.Extract(ctx, kind, userMessage, aiResponse)
	if err != nil {
		return nil, err
	}
	out := &Remembered{Kind: kind, Text: text}
	item := datatypes.MemoryItem{ID: c.newID(), Text: text, CreatedAt: c.now().UTC(), ResponseID: opts.ResponseID}

	switch kind {
	case KindReminder:
		if c.deps.Reminders == nil {
			return nil, errors.New("reminders are not configured")
		}
		rem, created, err := c.deps.Reminders.Add(ctx, userID, NewReminder{
			Text:             text,
			Slot:             opts.Slot,
			TimeZone:         opts.TimeZone,
			SourceResponseID: opts.ResponseID,
		})
		if err != nil {
			return nil, err
		}
		out.Reminder, out.Created = rem, created
	case KindGoal:
		added, err := c.deps.Profiles.AddGoal(ctx, userID, item, false)
		if err != nil {
			return nil, err
		}
		out.Created = added
	case KindPersonalInfo:
		if err := c.deps.Profiles.AddPersonalInfo(ctx, userID, item); err != nil {
			return nil, err
		}
		out.Created = true
	}
	c.logger.Info("Stored remembered memory", "user_id", userID, "kind", kind, "created", out.Created)
	return out, nil
}

// =============================================================================
// Goals
// =============================================================================

// Goals returns the user's goals, oldest first.
func (c *Consolidator) Goals(ctx context.Context, userID string) ([]datatypes.MemoryItem, error) {
	p, err := c.deps.Profiles.GetProfile(ctx, userID)
	if errors.Is(err, datatypes.ErrNotFound) {
		return []datatypes.MemoryItem{}, nil
	}
	if err != nil {
		return nil, err
	}
	if p.Goals == nil {
		return []datatypes.MemoryItem{}, nil
	}
	return p.Goals, nil
}

// AddCustomGoal adds a goal the user typed on the vision board.
//
// # Outputs
//
//   - error: ValidationError for blank text, NotFound when the user has no
//     profile yet, Conflict "Goal already exists." for a case-insensitive
//     duplicate.
func (c *Consolidator) AddCustomGoal(ctx context.Context, userID, text string) (*datatypes.MemoryItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, datatypes.NewValidationError("goal", "goal is required")
	}
	if _, err := c.deps.Profiles.GetProfile(ctx, userID); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("User profile not found")
		}
		return nil, err
	}
	item := datatypes.MemoryItem{ID: c.newID(), Text: text, CreatedAt: c.now().UTC()}
	added, err := c.deps.Profiles.AddGoal(ctx, userID, item, true)
	if err != nil {
		return nil, err
	}
	if !added {
		return nil, datatypes.Conflictf("Goal already exists.")
	}
	return &item, nil
}
