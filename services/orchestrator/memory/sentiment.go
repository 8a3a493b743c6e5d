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
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/aira/services/llm"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/textsim"
)

const (
	// DefaultScore is the neutral mental score used whenever extraction
	// yields nothing usable.
	DefaultScore = 80.0

	// StressThreshold is the score at or above which no stress is reported.
	StressThreshold = 70.0

	// MinAnalysisRunes is the shortest day text sent for analysis.
	MinAnalysisRunes = 20

	// QuoteOverlap is the share of significant quote tokens that must occur
	// in the source text for a paraphrased quote to be accepted.
	QuoteOverlap = 0.6

	// significantTokenLen: tokens longer than this count toward overlap.
	significantTokenLen = 3

	// ScoreContext is how many previous scores accompany each analysis.
	ScoreContext = 7
)

// extractionKeys must all be present in the JSON object the engine returns.
var extractionKeys = []string{"mental_score", "stress_type", "supporting_text", "suggestions"}

// Analysis is the validated mood reading for one day.
type Analysis struct {
	MentalScore    float64
	StressCategory datatypes.StressCategory
	Quote          string
	Suggestions    []string
}

// DefaultAnalysis is the neutral reading.
func DefaultAnalysis() Analysis {
	return Analysis{MentalScore: DefaultScore, StressCategory: datatypes.StressNone, Suggestions: []string{}}
}

// =============================================================================
// Parse then validate
// =============================================================================

// ParseExtraction finds the first JSON object in raw that carries all the
// extraction keys. Markdown fences and chatter around it are ignored.
func ParseExtraction(raw string) (map[string]any, bool) {
	for i := 0; i < len(raw); i++ {
		if raw[i] != '{' {
			continue
		}
		dec := json.NewDecoder(strings.NewReader(raw[i:]))
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			continue
		}
		if hasAll(obj, extractionKeys) {
			return obj, true
		}
	}
	return nil, false
}

func hasAll(obj map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := obj[k]; !ok {
			return false
		}
	}
	return true
}

// Validate turns a parsed extraction into an Analysis checked against the
// day's source text.
//
// # Description
//
//   - A score that is not a number or lies outside [0,100] becomes DefaultScore.
//   - A category outside the enum becomes None.
//   - A score at or above StressThreshold clears category, quote and suggestions.
//   - Below the threshold, a quote that is neither a substring of source nor
//     a QuoteOverlap token paraphrase of it clears the same three fields.
//     The score is kept.
//
// Validate is pure.
func Validate(obj map[string]any, source string) Analysis {
	a := DefaultAnalysis()
	if obj == nil {
		return a
	}
	if v, ok := obj["mental_score"].(float64); ok && !math.IsNaN(v) && v >= 0 && v <= 100 {
		a.MentalScore = v
	}
	if s, ok := obj["stress_type"].(string); ok {
		a.StressCategory = datatypes.ParseStressCategory(s)
	}
	if s, ok := obj["supporting_text"].(string); ok {
		a.Quote = strings.TrimSpace(s)
	}
	if list, ok := obj["suggestions"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				a.Suggestions = append(a.Suggestions, strings.TrimSpace(s))
			}
		}
	}

	if a.MentalScore >= StressThreshold || !quoteSupported(a.Quote, source) {
		a.StressCategory = datatypes.StressNone
		a.Quote = ""
		a.Suggestions = []string{}
	}
	return a
}

func quoteSupported(quote, source string) bool {
	if quote == "" {
		return false
	}
	if strings.Contains(source, quote) {
		return true
	}
	return textsim.TokenOverlap(quote, source, significantTokenLen) >= QuoteOverlap
}

// =============================================================================
// Analyzer
// =============================================================================

// Analyzer scores one day of user messages with the completion engine.
type Analyzer struct {
	llm    llm.LLMClient
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer. A nil logger uses slog.Default().
func NewAnalyzer(client llm.LLMClient, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{llm: client, logger: logger}
}

// AnalyzeDay reads the mood of one day's text. previous holds the most
// recent scores, oldest first, so the engine can judge the trend.
//
// Texts shorter than MinAnalysisRunes, failed calls and unparseable
// answers all produce DefaultAnalysis.
func (a *Analyzer) AnalyzeDay(ctx context.Context, text string, previous []float64) Analysis {
	ctx, span := tracer.Start(ctx, "Analyzer.AnalyzeDay")
	defer span.End()

	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < MinAnalysisRunes {
		return DefaultAnalysis()
	}

	raw, err := a.llm.Generate(ctx, analysisPrompt(text, previous), llm.GenerationParams{Temperature: llm.Float32(0.2)})
	if err != nil {
		a.logger.Warn("Sentiment analysis call failed, using default", "error",
			&datatypes.ExtractionFailure{Kind: "sentiment", Reason: err.Error()})
		return DefaultAnalysis()
	}
	obj, ok := ParseExtraction(raw)
	if !ok {
		a.logger.Warn("Sentiment analysis returned no usable JSON, using default", "error",
			&datatypes.ExtractionFailure{Kind: "sentiment", Reason: "no JSON object with the required keys"})
		return DefaultAnalysis()
	}
	return Validate(obj, text)
}

func analysisPrompt(text string, previous []float64) string {
	var trend string
	if len(previous) > 0 {
		parts := make([]string, len(previous))
		for i, s := range previous {
			parts[i] = fmt.Sprintf("%.1f", s)
		}
		trend = fmt.Sprintf("The user's recent daily scores, oldest first, were: %s. "+
			"Move the score by 1-3 points for small changes and 5-10 for significant ones.\n\n",
			strings.Join(parts, ", "))
	}
	return fmt.Sprintf(`You assess emotional wellbeing from one day of a user's messages:
%q

Look for signs of stress, anxiety, low mood or other concerns.

%sRespond ONLY with one JSON object with these keys:
- mental_score: number 0-100, lower means more concern, decimals allowed
- stress_type: one of "Burnout", "Overthinking", "Anxiety", "Social Stress", "Low Mood", "None"
- supporting_text: a direct quote from the messages showing the strongest evidence
- suggestions: array of 2-3 short ideas, empty when stress_type is "None"`,
		strings.ReplaceAll(text, `"`, "'"), trend)
}
