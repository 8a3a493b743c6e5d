// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// MaxMessageContentBytes caps a single chat message.
const MaxMessageContentBytes = 16 * 1024

// apiValidate is the validator instance for request payloads.
// Initialized in init() with custom validators.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()
	_ = apiValidate.RegisterValidation("maxbytes", validateMaxBytes)
}

// validateMaxBytes enforces MaxMessageContentBytes on byte length, not rune count.
func validateMaxBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxMessageContentBytes
}

// validateStruct runs tag validation and converts the first failure into a
// *ValidationError.
func validateStruct(v any) error {
	err := apiValidate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &ValidationError{
			Field:   strings.ToLower(fe.Field()),
			Message: describeTag(fe),
		}
	}
	return &ValidationError{Message: err.Error()}
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "timezone":
		return "must be an IANA time zone name"
	case "maxbytes":
		return fmt.Sprintf("exceeds %d bytes", MaxMessageContentBytes)
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}

// =============================================================================
// Accounts
// =============================================================================

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	Name     string `json:"name" validate:"required,max=100"`
}

func (r *RegisterRequest) Validate() error { return validateStruct(r) }

// LoginRequest exchanges credentials for tokens.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (r *LoginRequest) Validate() error { return validateStruct(r) }

// RefreshRequest exchanges a refresh token for a new access token.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

func (r *RefreshRequest) Validate() error { return validateStruct(r) }

// UpdateProfileRequest changes account display data.
type UpdateProfileRequest struct {
	Name string `json:"name" validate:"required,max=100"`
}

func (r *UpdateProfileRequest) Validate() error { return validateStruct(r) }

// AuthTokens is returned by login and refresh.
type AuthTokens struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at,omitempty"`
}

// AccountView is the public projection of an Account.
type AccountView struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// View projects the account without credentials.
func (a *Account) View() AccountView {
	return AccountView{UserID: a.UserID, Email: a.Email, Name: a.Name, CreatedAt: a.CreatedAt}
}

// =============================================================================
// Chat
// =============================================================================

// SendMessageRequest carries one user turn. Message may be empty only on the
// introduction session, where it asks for the current question.
type SendMessageRequest struct {
	Message string `json:"message" validate:"maxbytes"`
}

func (r *SendMessageRequest) Validate() error { return validateStruct(r) }

// ChatReply is the response to a user turn.
type ChatReply struct {
	SessionID    string `json:"session_id"`
	Reply        string `json:"reply"`
	ResponseID   string `json:"response_id,omitempty"`
	LatencyMs    int64  `json:"latency_ms"`
	Title        string `json:"title"`
	IntakeCursor string `json:"intake_cursor,omitempty"`
}

// =============================================================================
// Feedback
// =============================================================================

// FeedbackRequest reacts to one AI reply.
type FeedbackRequest struct {
	ResponseID string       `json:"response_id" validate:"required,max=64"`
	Type       FeedbackType `json:"type" validate:"required,oneof=like dislike comment remember"`
	Comment    string       `json:"comment" validate:"max=2000"`
	RememberAs RememberAs   `json:"remember_as" validate:"omitempty,oneof=recall reminder goal personal_info"`
	Slot       Slot         `json:"slot" validate:"omitempty,oneof=morning afternoon evening"`
	TimeZone   string       `json:"timezone" validate:"omitempty,timezone"`
}

// Validate checks tags and the cross-field rules.
func (r *FeedbackRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.Type == FeedbackComment && strings.TrimSpace(r.Comment) == "" {
		return NewValidationError("comment", "is required for comment feedback")
	}
	if r.Type == FeedbackRemember && r.RememberAs == RememberReminder && r.Slot == "" {
		return NewValidationError("slot", "is required when remembering as a reminder")
	}
	return nil
}

// DailyFeedbackRequest rates a day's session.
type DailyFeedbackRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	Rating    int    `json:"rating" validate:"required,min=1,max=5"`
	Comment   string `json:"comment" validate:"max=2000"`
}

func (r *DailyFeedbackRequest) Validate() error { return validateStruct(r) }

// =============================================================================
// Assessment
// =============================================================================

// AssessmentNextRequest submits one answer.
type AssessmentNextRequest struct {
	Answer string `json:"answer" validate:"required,max=200"`
}

func (r *AssessmentNextRequest) Validate() error { return validateStruct(r) }

// AssessmentStep is the state machine's reply.
type AssessmentStep struct {
	Prompt   string            `json:"prompt"`
	Options  []string          `json:"options,omitempty"`
	Category string            `json:"category,omitempty"`
	Done     bool              `json:"done"`
	Result   *AssessmentResult `json:"result,omitempty"`
}

// =============================================================================
// Reminders and goals
// =============================================================================

// AddReminderRequest creates a reminder manually. Exactly one of Slot or At
// must be set; At is RFC 3339.
type AddReminderRequest struct {
	Text     string `json:"text" validate:"required,max=500"`
	Slot     Slot   `json:"slot" validate:"omitempty,oneof=morning afternoon evening"`
	At       string `json:"at"`
	TimeZone string `json:"timezone" validate:"omitempty,timezone"`
}

// Validate checks tags, slot/at exclusivity and the time format.
func (r *AddReminderRequest) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if (r.Slot == "") == (r.At == "") {
		return NewValidationError("slot", "exactly one of slot or at must be set")
	}
	if r.At != "" {
		if _, err := time.Parse(time.RFC3339, r.At); err != nil {
			return NewValidationError("at", "must be an RFC 3339 timestamp")
		}
	}
	return nil
}

// UpdateReminderRequest acknowledges or defers a reminder.
type UpdateReminderRequest struct {
	Status ReminderStatus `json:"status" validate:"required,oneof=done not_done"`
}

func (r *UpdateReminderRequest) Validate() error { return validateStruct(r) }

// AddGoalRequest adds a vision-board goal.
type AddGoalRequest struct {
	Goal string `json:"goal" validate:"required,max=500"`
}

func (r *AddGoalRequest) Validate() error { return validateStruct(r) }
