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
	"fmt"
	"time"

	"github.com/awnumar/memguard"
	"github.com/golang-jwt/jwt/v5"
)

// MinJWTSecretLen is the shortest HS256 signing secret accepted.
const MinJWTSecretLen = 32

// Claims is the access-token payload.
//
// Subject carries the user id; SessionID ("sid") links the token to the
// refresh token it was minted from so logout can revoke it.
type Claims struct {
	SessionID string   `json:"sid,omitempty"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider issues and verifies HS256 access tokens.
//
// # Description
//
// The signing secret is sealed in a memguard Enclave and only decrypted into
// a locked buffer for the duration of a sign or verify call.
//
// # Thread Safety
//
// Safe for concurrent use. The struct is immutable after construction.
type JWTProvider struct {
	secret *memguard.Enclave
	issuer string
	ttl    time.Duration
	now    func() time.Time

	// Revoked, if set, reports whether the session id has been logged out.
	Revoked func(ctx context.Context, sessionID string) (bool, error)
}

// NewJWTProvider creates a provider from a raw secret.
//
// # Inputs
//
//   - secret: At least MinJWTSecretLen bytes. The slice is wiped.
//   - issuer: Value of the "iss" claim, also required on verify.
//   - ttl: Access-token lifetime. Zero means 24h.
//
// # Outputs
//
//   - *JWTProvider: Ready provider.
//   - error: Non-nil if the secret is too short.
func NewJWTProvider(secret []byte, issuer string, ttl time.Duration) (*JWTProvider, error) {
	if len(secret) < MinJWTSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinJWTSecretLen)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTProvider{
		secret: memguard.NewEnclave(secret),
		issuer: issuer,
		ttl:    ttl,
		now:    time.Now,
	}, nil
}

// TTL returns the access-token lifetime.
func (p *JWTProvider) TTL() time.Duration {
	return p.ttl
}

// Issue signs a new access token.
//
// # Outputs
//
//   - string: The compact JWT.
//   - time.Time: Its expiry.
//   - error: Non-nil if the enclave cannot be opened or signing fails.
func (p *JWTProvider) Issue(info AuthInfo) (string, time.Time, error) {
	now := p.now()
	expires := now.Add(p.ttl)
	claims := Claims{
		SessionID: info.SessionID,
		Email:     info.Email,
		Roles:     info.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   info.UserID,
			Issuer:    p.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	key, err := p.secret.Open()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("open jwt secret: %w", err)
	}
	defer key.Destroy()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key.Bytes())
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expires, nil
}

// Validate verifies signature, issuer and expiry and returns the identity.
//
// Every rejection wraps ErrUnauthorized.
func (p *JWTProvider) Validate(ctx context.Context, token string) (*AuthInfo, error) {
	if token == "" {
		return nil, fmt.Errorf("missing token: %w", ErrUnauthorized)
	}

	key, err := p.secret.Open()
	if err != nil {
		return nil, fmt.Errorf("open jwt secret: %w", err)
	}
	defer key.Destroy()

	claims := &Claims{}
	_, err = jwt.ParseWithClaims(token, claims,
		func(*jwt.Token) (any, error) { return key.Bytes(), nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(p.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("token expired: %w", ErrUnauthorized)
		}
		return nil, fmt.Errorf("invalid token: %w", ErrUnauthorized)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("token has no subject: %w", ErrUnauthorized)
	}

	if p.Revoked != nil && claims.SessionID != "" {
		revoked, err := p.Revoked(ctx, claims.SessionID)
		if err != nil {
			return nil, fmt.Errorf("check token session: %w", err)
		}
		if revoked {
			return nil, fmt.Errorf("session logged out: %w", ErrUnauthorized)
		}
	}

	return &AuthInfo{
		UserID:    claims.Subject,
		Email:     claims.Email,
		Roles:     claims.Roles,
		SessionID: claims.SessionID,
	}, nil
}

var _ AuthProvider = (*JWTProvider)(nil)
