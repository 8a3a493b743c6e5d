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
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
	"github.com/AleutianAI/aira/services/orchestrator/observability"
)

// =============================================================================
// Websocket Chat
// =============================================================================

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 64 * 1024
)

// WSRequest is one client frame.
type WSRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// WSResponse is one server frame. Exactly one of Reply or Error is set.
type WSResponse struct {
	Reply *datatypes.ChatReply `json:"reply,omitempty"`
	Error string               `json:"error,omitempty"`
	Code  int                  `json:"code,omitempty"`
}

// WebsocketConfig configures the upgrader.
//
// # Fields
//
//   - AllowedOrigins: Origins accepted on the handshake. Empty keeps
//     gorilla's same-origin check.
type WebsocketConfig struct {
	AllowedOrigins []string
}

func (cfg WebsocketConfig) upgrader() *websocket.Upgrader {
	u := &websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096}
	if len(cfg.AllowedOrigins) > 0 {
		allowed := cfg.AllowedOrigins
		u.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || slices.Contains(allowed, origin) || slices.Contains(allowed, "*")
		}
	}
	return u
}

// ChatWebSocket runs the Send loop over a websocket. GET /v1/chat/ws
//
// # Description
//
// Each text frame is a WSRequest; the server answers with one WSResponse
// per request, in order. Domain errors are reported in-band and keep the
// connection open. The connection closes when the client goes away, a
// frame is not valid JSON, or the request context ends.
//
// # Thread Safety
//
// One goroutine reads and writes replies; a second only sends pings with
// WriteControl, which gorilla allows concurrently with other writes.
func ChatWebSocket(conv Conversation, metrics *observability.Metrics, cfg WebsocketConfig, logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	upgrader := cfg.upgrader()

	return func(c *gin.Context) {
		userID := middleware.UserID(c)
		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
			return
		}
		defer ws.Close()
		metrics.WebsocketOpened()
		defer metrics.WebsocketClosed()

		ctx := c.Request.Context()
		ws.SetReadLimit(wsMaxMessage)
		_ = ws.SetReadDeadline(time.Now().Add(wsPongWait))
		ws.SetPongHandler(func(string) error {
			return ws.SetReadDeadline(time.Now().Add(wsPongWait))
		})

		done := make(chan struct{})
		defer close(done)
		go func() {
			ticker := time.NewTicker(wsPingPeriod)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
						return
					}
				}
			}
		}()

		logger.Debug("websocket client connected", slog.String("user_id", userID))
		for {
			var req WSRequest
			if err := ws.ReadJSON(&req); err != nil {
				var closeErr *websocket.CloseError
				if !errors.As(err, &closeErr) {
					logger.Debug("websocket read ended", slog.String("error", err.Error()))
				}
				return
			}
			if ctx.Err() != nil {
				return
			}

			var resp WSResponse
			res, err := conv.Send(ctx, userID, req.SessionID, req.Message)
			if err != nil {
				status, code := StatusFor(err)
				metrics.RecordError("/v1/chat/ws", code)
				resp.Code = status
				resp.Error = err.Error()
				if status >= http.StatusInternalServerError {
					logger.Error("websocket send failed", slog.String("error", err.Error()))
					resp.Error = internalMessage
				}
			} else {
				metrics.RecordReply(string(res.Phase), res.Latency)
				r := toChatReply(res)
				resp.Reply = &r
			}

			_ = ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := ws.WriteJSON(resp); err != nil {
				logger.Warn("websocket write failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}
