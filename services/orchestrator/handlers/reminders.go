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
	"github.com/AleutianAI/aira/services/orchestrator/memory"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
)

// Reminders is the reminder service.
type Reminders interface {
	Add(ctx context.Context, userID string, req memory.NewReminder) (*datatypes.Reminder, bool, error)
	List(ctx context.Context, userID string) ([]*datatypes.Reminder, error)
	UpdateStatus(ctx context.Context, userID, id string, status datatypes.ReminderStatus) (*datatypes.Reminder, error)
	Delete(ctx context.Context, userID, id string) error
	Due(ctx context.Context, userID string) ([]*datatypes.Reminder, error)
}

// ListReminders returns every reminder of the caller. GET /v1/reminders
func ListReminders(svc Reminders) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.List(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		if list == nil {
			list = []*datatypes.Reminder{}
		}
		c.JSON(http.StatusOK, gin.H{"reminders": list})
	}
}

// AddReminder schedules a reminder. POST /v1/reminders
//
// A reminder that collides with an existing pending one at the same instant
// is not stored; the response is 200 with "created": false.
func AddReminder(svc Reminders) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AddReminderRequest
		if !bindJSON(c, &req) {
			return
		}
		rem, created, err := svc.Add(c.Request.Context(), middleware.UserID(c), memory.NewReminder{
			Text:     req.Text,
			Slot:     string(req.Slot),
			TimeZone: req.TimeZone,
			At:       req.At,
		})
		if err != nil {
			fail(c, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, gin.H{"reminder": rem, "created": created})
	}
}

// DueReminders returns pending reminders whose time has come.
// GET /v1/reminders/due
func DueReminders(svc Reminders) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := svc.Due(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		if list == nil {
			list = []*datatypes.Reminder{}
		}
		c.JSON(http.StatusOK, gin.H{"reminders": list})
	}
}

// UpdateReminder marks a reminder done or not done.
// PATCH /v1/reminders/:id
func UpdateReminder(svc Reminders) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateReminderRequest
		if !bindJSON(c, &req) {
			return
		}
		rem, err := svc.UpdateStatus(c.Request.Context(), middleware.UserID(c), c.Param("id"), req.Status)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, rem)
	}
}

// DeleteReminder removes a reminder. DELETE /v1/reminders/:id
func DeleteReminder(svc Reminders) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), middleware.UserID(c), c.Param("id")); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
