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

	"github.com/AleutianAI/aira/pkg/extensions"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/middleware"
)

// Accounts is the account service behind /v1/auth and /v1/user.
type Accounts interface {
	Register(ctx context.Context, req datatypes.RegisterRequest) (*datatypes.Account, error)
	Login(ctx context.Context, req datatypes.LoginRequest) (*datatypes.AuthTokens, error)
	Refresh(ctx context.Context, req datatypes.RefreshRequest) (*datatypes.AuthTokens, error)
	Logout(ctx context.Context, info *extensions.AuthInfo) error
	Profile(ctx context.Context, userID string) (*datatypes.Account, error)
	UpdateProfile(ctx context.Context, userID string, req datatypes.UpdateProfileRequest) (*datatypes.Account, error)
}

// Register creates an account. POST /v1/auth/register
func Register(svc Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RegisterRequest
		if !bindJSON(c, &req) {
			return
		}
		acct, err := svc.Register(c.Request.Context(), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, acct.View())
	}
}

// Login exchanges credentials for tokens. POST /v1/auth/login
func Login(svc Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.LoginRequest
		if !bindJSON(c, &req) {
			return
		}
		tokens, err := svc.Login(c.Request.Context(), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, tokens)
	}
}

// Refresh issues a new access token. POST /v1/auth/refresh
func Refresh(svc Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.RefreshRequest
		if !bindJSON(c, &req) {
			return
		}
		tokens, err := svc.Refresh(c.Request.Context(), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, tokens)
	}
}

// Logout revokes the caller's refresh token. POST /v1/auth/logout
func Logout(svc Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Logout(c.Request.Context(), middleware.GetAuthInfo(c)); err != nil {
			fail(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// GetProfile returns the caller's account. GET /v1/user/profile
func GetProfile(svc Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		acct, err := svc.Profile(c.Request.Context(), middleware.UserID(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, acct.View())
	}
}

// UpdateProfile renames the caller. PUT /v1/user/profile
func UpdateProfile(svc Accounts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.UpdateProfileRequest
		if !bindJSON(c, &req) {
			return
		}
		acct, err := svc.UpdateProfile(c.Request.Context(), middleware.UserID(c), req)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, acct.View())
	}
}
