// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
)

// defaultSummaryDays is the window of GET /v1/sentiment/summary without
// a days parameter.
const defaultSummaryDays = 7

// Memory is the consolidator's per-user read and write surface.
type Memory interface {
	AnalyzeUser(ctx context.Context, userID string) (int, error)
	Sentiments(ctx context.Context, userID string) ([]*datatypes.SentimentEntry, error)
	Summary(ctx context.Context, userID string, days int) (*datatypes.SentimentSummary, error)
	Goals(ctx context.Context, userID string) ([]datatypes.MemoryItem, error)
	AddCustomGoal(ctx context.Context, userID, text string) (*datatypes.MemoryItem, error)
	UserStory(ctx context.Context, userID string) (string, error)
	Motivation(ctx context.Context, userID string) (string, error)
}

// AnalyzeSentiment scores the caller's unscored days now.
// POST /v1/sentiment/analyze
func AnalyzeSentiment(mem Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := mem.AnalyzeUser(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"days_scored": n})
	}
}

// ListSentiment returns the stored daily entries. GET /v1/sentiment
func ListSentiment(mem Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := mem.Sentiments(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": list})
	}
}

// SentimentSummary aggregates recent days. GET /v1/sentiment/summary?days=N
func SentimentSummary(mem Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		days := defaultSummaryDays
		if raw := c.Query("days"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil {
				fail(c, datatypes.NewValidationError("days", "must be an integer"))
				return
			}
			days = n
		}
		sum, err := mem.Summary(c.Request.Context(), middleware.UserID(c), days)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, sum)
	}
}

// ListGoals returns the vision board. GET /v1/goals
func ListGoals(mem Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		goals, err := mem.Goals(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"goals": goals})
	}
}

// AddGoal adds a goal to the vision board. POST /v1/goals
func AddGoal(mem Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AddGoalRequest
		if !bindJSON(c, &req) {
			return
		}
		item, err := mem.AddCustomGoal(c.Request.Context(), middleware.UserID(c), req.Goal)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, item)
	}
}

// UserStory returns the welcome narrative. GET /v1/memory/story
func UserStory(mem Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		story, err := mem.UserStory(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"story": story})
	}
}

// Motivation returns a one-line encouragement. GET /v1/memory/motivation
func Motivation(mem Memory) gin.HandlerFunc {
	return func(c *gin.Context) {
		line, err := mem.Motivation(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"motivation": line})
	}
}
