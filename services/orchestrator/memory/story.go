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
	"sort"
	"strings"

	"github.com/AleutianAI/aira/services/llm"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
)

const (
	// MotivationWindow is how many recent chat messages feed the motivation line.
	MotivationWindow = 10

	// FallbackMotivation is returned when no line can be generated.
	FallbackMotivation = "Every small step you take still counts."

	fallbackName = "friend"
)

// fallbackStory is used when the profile is empty or the engine fails.
func fallbackStory(name string) string {
	if strings.TrimSpace(name) == "" {
		name = fallbackName
	}
	return fmt.Sprintf("Welcome, %s! We're here to help you on your journey.", name)
}

// UserStory writes a short second-person narrative of the user from their
// profile. A missing profile or a failed call yields the welcome fallback.
func (c *Consolidator) UserStory(ctx context.Context, userID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Consolidator.UserStory")
	defer span.End()

	p, err := c.deps.Profiles.GetProfile(ctx, userID)
	if errors.Is(err, datatypes.ErrNotFound) {
		return fallbackStory(""), nil
	}
	if err != nil {
		return "", err
	}

	var b strings.Builder
	for _, f := range datatypes.IntakeOrder {
		if v := strings.TrimSpace(p.Get(f)); v != "" {
			fmt.Fprintf(&b, "%s: %s\n", f, v)
		}
	}
	for _, g := range p.Goals {
		fmt.Fprintf(&b, "goal: %s\n", g.Text)
	}
	for _, i := range p.PersonalInfo {
		fmt.Fprintf(&b, "shared: %s\n", i.Text)
	}
	if b.Len() == 0 {
		return fallbackStory(p.Get(datatypes.FieldName)), nil
	}

	out, err := c.deps.LLM.Chat(ctx, []llm.ChatMessage{
		llm.System("Write a warm 3 to 5 sentence story about the user in the second person. " +
			"Use only the facts given. Do not invent details and do not give advice."),
		llm.User(b.String()),
	}, llm.GenerationParams{Temperature: llm.Float32(0.7)})
	out = strings.TrimSpace(out)
	if err != nil || out == "" {
		c.logger.Warn("User story generation failed, using fallback", "user_id", userID, "error", err)
		return fallbackStory(p.Get(datatypes.FieldName)), nil
	}
	return out, nil
}

// Motivation writes one short encouraging line from the user's most recent
// free-chat messages.
func (c *Consolidator) Motivation(ctx context.Context, userID string) (string, error) {
	ctx, span := tracer.Start(ctx, "Consolidator.Motivation")
	defer span.End()

	sessions, err := c.deps.Sessions.ListSessions(ctx, userID)
	if err != nil {
		return "", err
	}
	recent := recentMessages(sessions, MotivationWindow)
	if len(recent) == 0 {
		return FallbackMotivation, nil
	}

	var b strings.Builder
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	out, err := c.deps.LLM.Chat(ctx, []llm.ChatMessage{
		llm.System("Based on this recent conversation, write one motivational line of 5 to 8 words. " +
			"Return only the line."),
		llm.User(b.String()),
	}, llm.GenerationParams{Temperature: llm.Float32(0.8), MaxTokens: llm.Int(32)})
	out = strings.Trim(strings.TrimSpace(out), "\"")
	if err != nil || out == "" {
		c.logger.Warn("Motivation generation failed, using fallback", "user_id", userID, "error", err)
		return FallbackMotivation, nil
	}
	return out, nil
}

// recentMessages returns the last n messages across free-chat sessions in
// chronological order.
func recentMessages(sessions []*datatypes.Session, n int) []datatypes.Message {
	var all []datatypes.Message
	for _, s := range sessions {
		if s == nil || s.IsIntro() {
			continue
		}
		all = append(all, s.Messages...)
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	if len(all) > n {
		all = all[len(all)-n:]
	}
	return all
}
