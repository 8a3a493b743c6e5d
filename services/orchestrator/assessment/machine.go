// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package assessment runs the scripted self-report questionnaire.
//
// # Description
//
// A run has two phases. Start offers the categories of the question bank.
// The first Next call selects one or more of them, and every later call
// answers the current question by option index. When every selected
// category is exhausted the answers are scored, classified into a stress
// tier and appended to the user's profile.
//
// In-flight state lives in an injected kv store with an idle TTL. An
// expired run cannot be resumed; the client must call Start again.
package assessment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/kv"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

var tracer = otel.Tracer("aira.orchestrator.assessment")

const (
	// IdleTTL is how long an unanswered run survives.
	IdleTTL = 10 * time.Minute

	// CategoryPrompt opens every run.
	CategoryPrompt = "Which area would you like to assess today?"

	categoryInfo = "Select one or more options, by number or name, separated by commas."

	LevelLow      = "Low Stress"
	LevelModerate = "Moderate Stress"
	LevelHigh     = "High Stress"
)

// Tier classifies a total score.
func Tier(score int) string {
	switch {
	case score < 5:
		return LevelLow
	case score < 10:
		return LevelModerate
	default:
		return LevelHigh
	}
}

// State is one user's run in progress.
//
// # Fields
//
//   - Offered: Categories shown by Start, in index order.
//   - Selected: Categories chosen; empty until the first Next call.
//   - Current: Index into Selected.
//   - Asked: Question ids already asked in the current category.
//   - QuestionID: The question awaiting an answer.
type State struct {
	Offered    []string  `json:"offered"`
	Selected   []string  `json:"selected"`
	Current    int       `json:"current"`
	Asked      []string  `json:"asked"`
	QuestionID string    `json:"question_id"`
	Answers    []int     `json:"answers"`
	Score      int       `json:"score"`
	StartedAt  time.Time `json:"started_at"`
}

// Step is what the client shows next. Exactly one of Question or Result
// is set.
type Step struct {
	Question string                      `json:"question,omitempty"`
	Options  []string                    `json:"options,omitempty"`
	Category string                      `json:"category,omitempty"`
	Info     string                      `json:"info,omitempty"`
	Result   *datatypes.AssessmentResult `json:"result,omitempty"`
}

// Machine drives assessment runs.
//
// # Thread Safety
//
// Safe for concurrent use. Calls for the same user are serialised.
type Machine struct {
	profiles  store.Profiles
	questions store.Questions
	state     kv.Store[State]
	locks     *kv.KeyedMutex
	now       func() time.Time
	logger    *slog.Logger
}

// NewMachine wires a Machine. A nil locks gets its own KeyedMutex.
func NewMachine(profiles store.Profiles, questions store.Questions, state kv.Store[State], locks *kv.KeyedMutex, logger *slog.Logger) *Machine {
	if logger == nil {
		logger = slog.Default()
	}
	if locks == nil {
		locks = kv.NewKeyedMutex(0)
	}
	return &Machine{
		profiles:  profiles,
		questions: questions,
		state:     state,
		locks:     locks,
		now:       time.Now,
		logger:    logger,
	}
}

func stateKey(userID string) string { return "assessment:" + userID }

// Start begins a new run, discarding any earlier one.
//
// # Outputs
//
//   - *Step: The category prompt with the categories as options.
//   - error: NotFound when the user has no profile or the bank is empty.
func (m *Machine) Start(ctx context.Context, userID string) (*Step, error) {
	ctx, span := tracer.Start(ctx, "Machine.Start")
	defer span.End()
	unlock := m.locks.Lock(stateKey(userID))
	defer unlock()

	if _, err := m.profiles.GetProfile(ctx, userID); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("User profile not found. Please create a profile first.")
		}
		return nil, err
	}
	cats, err := m.questions.QuestionCategories(ctx)
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, datatypes.NotFoundf("No assessment questions are available.")
	}

	st := State{Offered: cats, StartedAt: m.now().UTC()}
	if err := m.state.Set(ctx, stateKey(userID), st, IdleTTL); err != nil {
		return nil, fmt.Errorf("save assessment state: %w", err)
	}
	m.logger.Info("Assessment started", "user_id", userID, "categories", len(cats))
	return &Step{Question: CategoryPrompt, Options: cats, Info: categoryInfo}, nil
}

// Next applies one answer.
//
// # Inputs
//
//   - answer: On the first call, a comma-separated list of category
//     indexes or names. Afterwards, the index of the chosen option.
//
// # Outputs
//
//   - *Step: The next question, or the final result.
//   - error: NotFound when no run is in progress (never started, finished,
//     or idle past IdleTTL). ValidationError for an unusable answer; the
//     run is left unchanged.
func (m *Machine) Next(ctx context.Context, userID, answer string) (*Step, error) {
	ctx, span := tracer.Start(ctx, "Machine.Next")
	defer span.End()
	unlock := m.locks.Lock(stateKey(userID))
	defer unlock()

	st, ok, err := m.state.Get(ctx, stateKey(userID))
	if err != nil {
		return nil, fmt.Errorf("load assessment state: %w", err)
	}
	if !ok {
		return nil, datatypes.NotFoundf("No assessment in progress. Please start a new assessment.")
	}

	if len(st.Selected) == 0 {
		selected, err := selectCategories(st.Offered, answer)
		if err != nil {
			return nil, err
		}
		st.Selected = selected
		span.SetAttributes(attribute.StringSlice("assessment.categories", selected))
		return m.advance(ctx, userID, &st)
	}

	q, err := m.currentQuestion(ctx, &st)
	if err != nil {
		return nil, err
	}
	idx, err := strconv.Atoi(strings.TrimSpace(answer))
	if err != nil || idx < 0 || idx >= len(q.Options) {
		return nil, datatypes.NewValidationError("answer", "answer must be an option index between 0 and %d", len(q.Options)-1)
	}
	st.Answers = append(st.Answers, idx)
	st.Score += q.Scores[idx]
	st.Asked = append(st.Asked, q.ID)
	st.QuestionID = ""
	return m.advance(ctx, userID, &st)
}

// advance asks the next unasked question, moving through the selected
// categories, and finishes the run when none is left.
func (m *Machine) advance(ctx context.Context, userID string, st *State) (*Step, error) {
	for st.Current < len(st.Selected) {
		cat := st.Selected[st.Current]
		qs, err := m.questions.QuestionsByCategory(ctx, cat)
		if err != nil {
			return nil, err
		}
		if q := firstUnasked(qs, st.Asked); q != nil {
			st.QuestionID = q.ID
			if err := m.state.Set(ctx, stateKey(userID), *st, IdleTTL); err != nil {
				return nil, fmt.Errorf("save assessment state: %w", err)
			}
			return &Step{Question: q.Text, Options: q.Options, Category: cat}, nil
		}
		st.Current++
		st.Asked = nil
	}
	return m.finish(ctx, userID, st)
}

func (m *Machine) finish(ctx context.Context, userID string, st *State) (*Step, error) {
	res := datatypes.AssessmentResult{
		Categories: st.Selected,
		Score:      st.Score,
		Level:      Tier(st.Score),
		CreatedAt:  m.now().UTC(),
	}
	if err := m.profiles.AddAssessment(ctx, userID, res); err != nil {
		return nil, err
	}
	if err := m.state.Delete(ctx, stateKey(userID)); err != nil {
		m.logger.Warn("Failed to clear finished assessment", "user_id", userID, "error", err)
	}
	m.logger.Info("Assessment completed", "user_id", userID, "score", res.Score, "level", res.Level)
	return &Step{Result: &res}, nil
}

func (m *Machine) currentQuestion(ctx context.Context, st *State) (*datatypes.Question, error) {
	if st.Current >= len(st.Selected) || st.QuestionID == "" {
		return nil, fmt.Errorf("assessment state has no open question")
	}
	qs, err := m.questions.QuestionsByCategory(ctx, st.Selected[st.Current])
	if err != nil {
		return nil, err
	}
	for i := range qs {
		if qs[i].ID == st.QuestionID {
			return &qs[i], nil
		}
	}
	return nil, datatypes.NotFoundf("The current question is no longer available. Please start a new assessment.")
}

func firstUnasked(qs []datatypes.Question, asked []string) *datatypes.Question {
	done := make(map[string]bool, len(asked))
	for _, id := range asked {
		done[id] = true
	}
	for i := range qs {
		if !done[qs[i].ID] {
			return &qs[i]
		}
	}
	return nil
}

// selectCategories maps "0, 2" or "sleep,Mood" onto offered categories,
// dropping repeats and keeping the order given.
func selectCategories(offered []string, answer string) ([]string, error) {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(answer, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		cat, ok := matchCategory(offered, part)
		if !ok {
			return nil, datatypes.NewValidationError("answer",
				"invalid category %q; choose a number between 0 and %d or a category name", part, len(offered)-1)
		}
		if !seen[cat] {
			seen[cat] = true
			out = append(out, cat)
		}
	}
	if len(out) == 0 {
		return nil, datatypes.NewValidationError("answer", "select at least one category")
	}
	return out, nil
}

func matchCategory(offered []string, part string) (string, bool) {
	if i, err := strconv.Atoi(part); err == nil {
		if i >= 0 && i < len(offered) {
			return offered[i], true
		}
		return "", false
	}
	for _, c := range offered {
		if strings.EqualFold(c, part) {
			return c, true
		}
	}
	return "", false
}
