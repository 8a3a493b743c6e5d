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

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/aira/services/orchestrator/assessment"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
)

// assessmentDone is the prompt sent with the final result.
const assessmentDone = "Assessment complete."

// Assessments drives the questionnaire.
type Assessments interface {
	Start(ctx context.Context, userID string) (*assessment.Step, error)
	Next(ctx context.Context, userID, answer string) (*assessment.Step, error)
}

func toAssessmentStep(s *assessment.Step) datatypes.AssessmentStep {
	out := datatypes.AssessmentStep{
		Prompt:   s.Question,
		Options:  s.Options,
		Category: s.Category,
		Done:     s.Result != nil,
		Result:   s.Result,
	}
	switch {
	case out.Done:
		out.Prompt = assessmentDone
	case s.Info != "" && s.Question != "":
		out.Prompt = s.Info + "\n\n" + s.Question
	case s.Info != "":
		out.Prompt = s.Info
	}
	return out
}

// StartAssessment begins a run and offers the categories.
// POST /v1/assessment/start
func StartAssessment(m Assessments) gin.HandlerFunc {
	return func(c *gin.Context) {
		step, err := m.Start(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toAssessmentStep(step))
	}
}

// NextAssessment submits one answer. POST /v1/assessment/next
func NextAssessment(m Assessments) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AssessmentNextRequest
		if !bindJSON(c, &req) {
			return
		}
		step, err := m.Next(c.Request.Context(), middleware.UserID(c), req.Answer)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, toAssessmentStep(step))
	}
}
