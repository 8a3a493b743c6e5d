// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package accounts handles registration, login and token refresh.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"

	"github.com/AleutianAI/aira/pkg/extensions"
	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

var tracer = otel.Tracer("aira.orchestrator.accounts")

const (
	// DefaultRefreshTTL is the lifetime of a login session.
	DefaultRefreshTTL = 7 * 24 * time.Hour

	// RoleUser is granted to every registered account.
	RoleUser = "user"

	tokenType = "Bearer"
)

// Config tunes the account service.
type Config struct {
	RefreshTTL time.Duration
	BcryptCost int
	// AdminEmails are granted the admin role at registration.
	AdminEmails []string
}

// Service issues credentials and tokens.
//
// # Thread Safety
//
// Safe for concurrent use.
type Service struct {
	store  store.Accounts
	jwt    *extensions.JWTProvider
	audit  extensions.AuditLogger
	cfg    Config
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewService wires the account service and installs the logout check on
// the JWT provider.
func NewService(s store.Accounts, jwt *extensions.JWTProvider, audit extensions.AuditLogger, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if audit == nil {
		audit = &extensions.NopAuditLogger{}
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = bcrypt.DefaultCost
	}
	svc := &Service{store: s, jwt: jwt, audit: audit, cfg: cfg, now: time.Now, newID: uuid.NewString, logger: logger}
	jwt.Revoked = svc.Revoked
	return svc
}

// Register creates an account.
//
// # Outputs
//
//   - *datatypes.Account: The stored account.
//   - error: ValidationError for bad input, Conflict if the email is taken.
func (s *Service) Register(ctx context.Context, req datatypes.RegisterRequest) (*datatypes.Account, error) {
	ctx, span := tracer.Start(ctx, "Service.Register")
	defer span.End()

	req.Email = normalizeEmail(req.Email)
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now().UTC()
	acct := &datatypes.Account{
		UserID:       s.newID(),
		Email:        req.Email,
		Name:         req.Name,
		PasswordHash: hash,
		Roles:        s.rolesFor(req.Email),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateAccount(ctx, acct); err != nil {
		if errors.Is(err, datatypes.ErrConflict) {
			s.auditEvent(ctx, "auth.register", "", "create", "failure", map[string]any{"reason": "email_taken"})
			return nil, datatypes.Conflictf("Email already registered")
		}
		return nil, err
	}
	s.auditEvent(ctx, "auth.register", acct.UserID, "create", "success", nil)
	s.logger.Info("Account registered", "user_id", acct.UserID)
	return acct, nil
}

func (s *Service) rolesFor(email string) []string {
	roles := []string{RoleUser}
	for _, a := range s.cfg.AdminEmails {
		if normalizeEmail(a) == email {
			roles = append(roles, "admin")
			break
		}
	}
	return roles
}

// Login verifies credentials and starts a login session.
//
// Unknown email and wrong password give the same Unauthorized error.
func (s *Service) Login(ctx context.Context, req datatypes.LoginRequest) (*datatypes.AuthTokens, error) {
	ctx, span := tracer.Start(ctx, "Service.Login")
	defer span.End()

	req.Email = normalizeEmail(req.Email)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	acct, err := s.store.GetAccountByEmail(ctx, req.Email)
	if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
		return nil, err
	}
	if acct == nil || bcrypt.CompareHashAndPassword(acct.PasswordHash, []byte(req.Password)) != nil {
		s.auditEvent(ctx, "auth.login", "", "login", "denied", nil)
		return nil, datatypes.Unauthorizedf("Invalid email or password")
	}

	now := s.now().UTC()
	rt := &datatypes.RefreshToken{
		ID:        s.newID(),
		UserID:    acct.UserID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.RefreshTTL),
	}
	if err := s.store.PutRefreshToken(ctx, rt); err != nil {
		return nil, err
	}
	tokens, err := s.issue(acct, rt)
	if err != nil {
		return nil, err
	}
	tokens.RefreshToken = rt.ID
	tokens.RefreshExpiresAt = rt.ExpiresAt
	s.auditEvent(ctx, "auth.login", acct.UserID, "login", "success", nil)
	return tokens, nil
}

// Refresh mints a new access token for a live login session. An expired
// session is removed.
func (s *Service) Refresh(ctx context.Context, req datatypes.RefreshRequest) (*datatypes.AuthTokens, error) {
	ctx, span := tracer.Start(ctx, "Service.Refresh")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}
	rt, err := s.store.GetRefreshToken(ctx, req.RefreshToken)
	if errors.Is(err, datatypes.ErrNotFound) {
		return nil, datatypes.Unauthorizedf("Invalid refresh token")
	}
	if err != nil {
		return nil, err
	}
	if !s.now().Before(rt.ExpiresAt) {
		if err := s.store.DeleteRefreshToken(ctx, rt.ID); err != nil {
			s.logger.Warn("Failed to delete expired refresh token", "error", err)
		}
		return nil, datatypes.Unauthorizedf("Refresh token expired")
	}
	acct, err := s.store.GetAccount(ctx, rt.UserID)
	if errors.Is(err, datatypes.ErrNotFound) {
		return nil, datatypes.Unauthorizedf("Account no longer exists")
	}
	if err != nil {
		return nil, err
	}
	return s.issue(acct, rt)
}

func (s *Service) issue(acct *datatypes.Account, rt *datatypes.RefreshToken) (*datatypes.AuthTokens, error) {
	token, exp, err := s.jwt.Issue(extensions.AuthInfo{
		UserID:    acct.UserID,
		Email:     acct.Email,
		Roles:     acct.Roles,
		SessionID: rt.ID,
	})
	if err != nil {
		return nil, err
	}
	return &datatypes.AuthTokens{AccessToken: token, TokenType: tokenType, ExpiresAt: exp}, nil
}

// Logout ends the login session the access token was issued under. Tokens
// minted from it stop validating immediately.
func (s *Service) Logout(ctx context.Context, info *extensions.AuthInfo) error {
	if info == nil || info.SessionID == "" {
		return nil
	}
	err := s.store.DeleteRefreshToken(ctx, info.SessionID)
	if err != nil && !errors.Is(err, datatypes.ErrNotFound) {
		return err
	}
	s.auditEvent(ctx, "auth.logout", info.UserID, "logout", "success", nil)
	return nil
}

// Revoked reports whether a login session has ended. It is installed as
// the JWT provider's revocation check.
func (s *Service) Revoked(ctx context.Context, sessionID string) (bool, error) {
	rt, err := s.store.GetRefreshToken(ctx, sessionID)
	if errors.Is(err, datatypes.ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !s.now().Before(rt.ExpiresAt), nil
}

// Profile returns the account.
func (s *Service) Profile(ctx context.Context, userID string) (*datatypes.Account, error) {
	acct, err := s.store.GetAccount(ctx, userID)
	if errors.Is(err, datatypes.ErrNotFound) {
		return nil, datatypes.NotFoundf("User not found")
	}
	return acct, err
}

// UpdateProfile changes the display name.
func (s *Service) UpdateProfile(ctx context.Context, userID string, req datatypes.UpdateProfileRequest) (*datatypes.Account, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if err := s.store.UpdateAccountName(ctx, userID, req.Name); err != nil {
		if errors.Is(err, datatypes.ErrNotFound) {
			return nil, datatypes.NotFoundf("User not found")
		}
		return nil, err
	}
	return s.Profile(ctx, userID)
}

func (s *Service) auditEvent(ctx context.Context, eventType, userID, action, outcome string, meta map[string]any) {
	err := s.audit.Log(ctx, extensions.AuditEvent{
		EventType:    eventType,
		Timestamp:    s.now().UTC(),
		UserID:       userID,
		Action:       action,
		ResourceType: "account",
		ResourceID:   userID,
		Outcome:      outcome,
		Metadata:     meta,
	})
	if err != nil {
		s.logger.Warn("Audit log write failed", "event_type", eventType, "error", err)
	}
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
