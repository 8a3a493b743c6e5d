// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extensions

import (
	"context"
	"errors"
)

// ErrUnauthorized is returned when authentication or authorization fails.
//
// Implementations wrap it with context:
//
//	return nil, fmt.Errorf("token expired: %w", extensions.ErrUnauthorized)
var ErrUnauthorized = errors.New("unauthorized")

// AuthInfo contains identity information returned after successful authentication.
//
// # Fields
//
//   - UserID: Unique identifier for the user. Never empty.
//   - Email: The user's email address, if known.
//   - Roles: Role memberships used for authorization ("admin", "user").
//   - SessionID: The refresh-token id the access token was issued under.
//     Empty for providers that have no login sessions.
type AuthInfo struct {
	UserID    string
	Email     string
	Roles     []string
	SessionID string
}

// HasRole checks if the user has a specific role.
func (a *AuthInfo) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// AuthProvider validates bearer tokens and returns user identity.
//
// # Description
//
// This is the "verify identity" capability every chat, feedback, reminder,
// assessment and goal operation depends on.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use by multiple goroutines.
type AuthProvider interface {
	// Validate checks if the token is valid and returns the user's identity.
	//
	// # Outputs
	//
	//   - *AuthInfo: User identity if valid.
	//   - error: ErrUnauthorized (or wrapped) if invalid, other errors for failures.
	Validate(ctx context.Context, token string) (*AuthInfo, error)
}

// NopAuthProvider accepts every token as a single local admin user.
//
// Used for local single-user deployments and handler tests.
type NopAuthProvider struct{}

// Validate always returns "local-user" with the admin role.
func (p *NopAuthProvider) Validate(_ context.Context, _ string) (*AuthInfo, error) {
	return &AuthInfo{
		UserID: "local-user",
		Roles:  []string{"admin"},
	}, nil
}

var _ AuthProvider = (*NopAuthProvider)(nil)
