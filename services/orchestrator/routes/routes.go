// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package routes mounts the AIRA HTTP surface on a gin engine.
package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/aira/pkg/extensions"
	"github.com/AleutianAI/aira/services/orchestrator/handlers"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
	"github.com/AleutianAI/aira/services/orchestrator/observability"
	"github.com/AleutianAI/aira/services/orchestrator/ttl"
)

// AdminRole gates operational endpoints.
const AdminRole = "admin"

// Deps holds the services the routes dispatch to.
//
// # Fields
//
//   - Store: Backs /ready. Nil skips the readiness route.
//   - Metrics: Request and reply metrics. Nil disables them.
//   - Websocket: Origin policy of /v1/chat/ws.
//   - Logger: Nil means slog.Default().
type Deps struct {
	Accounts     handlers.Accounts
	Conversation handlers.Conversation
	Sessions     handlers.SessionLister
	Feedback     handlers.Feedback
	Assessment   handlers.Assessments
	Reminders    handlers.Reminders
	Memory       handlers.Memory
	Cleaner      ttl.CleanupRunner
	Store        handlers.Pinger
	Metrics      *observability.Metrics
	Websocket    handlers.WebsocketConfig
	Logger       *slog.Logger
}

// SetupRoutes registers every endpoint on router.
//
// # Description
//
// /health, /ready, /metrics and /v1/auth/{register,login,refresh} are
// public. Everything else requires a bearer token validated by
// opts.AuthProvider; /v1/chat/cleanup additionally requires the admin role.
// Handler errors are rendered by handlers.ErrorMiddleware.
func SetupRoutes(router *gin.Engine, deps Deps, opts extensions.ServiceOptions) {
	opts = opts.Normalize()
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router.Use(deps.Metrics.Middleware(), handlers.ErrorMiddleware(deps.Metrics, logger))

	router.GET("/health", handlers.HealthCheck)
	if deps.Store != nil {
		router.GET("/ready", handlers.ReadinessCheck(deps.Store))
	}
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")

	auth := v1.Group("/auth")
	{
		auth.POST("/register", handlers.Register(deps.Accounts))
		auth.POST("/login", handlers.Login(deps.Accounts))
		auth.POST("/refresh", handlers.Refresh(deps.Accounts))
	}

	private := v1.Group("", middleware.AuthMiddleware(opts.AuthProvider, logger))
	private.POST("/auth/logout", handlers.Logout(deps.Accounts))

	user := private.Group("/user")
	{
		user.GET("/profile", handlers.GetProfile(deps.Accounts))
		user.PUT("/profile", handlers.UpdateProfile(deps.Accounts))
	}

	chat := private.Group("/chat")
	{
		chat.POST("/intro", handlers.StartIntro(deps.Conversation))
		chat.POST("/sessions", handlers.CreateSession(deps.Sessions))
		chat.GET("/sessions", handlers.ListSessions(deps.Sessions))
		chat.GET("/sessions/:id", handlers.GetHistory(deps.Sessions))
		chat.POST("/sessions/:id/messages", handlers.SendMessage(deps.Conversation, deps.Metrics))
		chat.GET("/ws", handlers.ChatWebSocket(deps.Conversation, deps.Metrics, deps.Websocket, logger))
		chat.POST("/cleanup", middleware.RequireRole(AdminRole), handlers.RunCleanup(deps.Cleaner))
	}

	fb := private.Group("/feedback")
	{
		fb.POST("", handlers.SubmitFeedback(deps.Feedback))
		fb.POST("/daily", handlers.SubmitDailyFeedback(deps.Feedback))
	}

	as := private.Group("/assessment")
	{
		as.POST("/start", handlers.StartAssessment(deps.Assessment))
		as.POST("/next", handlers.NextAssessment(deps.Assessment))
	}

	rem := private.Group("/reminders")
	{
		rem.GET("", handlers.ListReminders(deps.Reminders))
		rem.POST("", handlers.AddReminder(deps.Reminders))
		rem.GET("/due", handlers.DueReminders(deps.Reminders))
		rem.PATCH("/:id", handlers.UpdateReminder(deps.Reminders))
		rem.DELETE("/:id", handlers.DeleteReminder(deps.Reminders))
	}

	sent := private.Group("/sentiment")
	{
		sent.POST("/analyze", handlers.AnalyzeSentiment(deps.Memory))
		sent.GET("", handlers.ListSentiment(deps.Memory))
		sent.GET("/summary", handlers.SentimentSummary(deps.Memory))
	}

	private.GET("/goals", handlers.ListGoals(deps.Memory))
	private.POST("/goals", handlers.AddGoal(deps.Memory))
	private.GET("/memory/story", handlers.UserStory(deps.Memory))
	private.GET("/memory/motivation", handlers.Motivation(deps.Memory))
}
