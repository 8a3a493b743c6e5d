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

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/feedback"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
)

// Feedback records reactions and daily ratings.
type Feedback interface {
	Submit(ctx context.Context, userID string, req datatypes.FeedbackRequest) (*feedback.Result, error)
	SubmitDaily(ctx context.Context, userID string, req datatypes.DailyFeedbackRequest) (*datatypes.DailyFeedback, error)
}

// SubmitFeedback applies like, dislike, comment or remember to a reply.
// POST /v1/feedback
//
// A remember action that found nothing to keep is still a 200; the body's
// "stored" is false and "message" says why.
func SubmitFeedback(svc Feedback) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.FeedbackRequest
		if !bindJSON(c, &req) {
			return
		}
		res, err := svc.Submit(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

// SubmitDailyFeedback rates a session. POST /v1/feedback/daily
func SubmitDailyFeedback(svc Feedback) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.DailyFeedbackRequest
		if !bindJSON(c, &req) {
			return
		}
		rec, err := svc.SubmitDaily(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, rec)
	}
}
