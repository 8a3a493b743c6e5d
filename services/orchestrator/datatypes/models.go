// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the persistent entities, API payloads and error
// taxonomy shared by every orchestrator package.
//
// All timestamps are absolute instants normalised to UTC. Where a local
// wall-clock matters (reminders) the IANA zone name is stored alongside.
package datatypes

import (
	"strings"
	"time"
)

// =============================================================================
// Messages and Sessions
// =============================================================================

// Role identifies the author of a chat message.
type Role string

const (
	RoleUser Role = "User"
	RoleAI   Role = "AI"
)

// Message is one entry in a session's ordered log.
//
// ResponseID is only set on AI messages produced by the response generator.
// It is the join key used by feedback and memory consolidation.
type Message struct {
	Role       Role      `json:"role" bson:"role"`
	Content    string    `json:"content" bson:"content"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	ResponseID string    `json:"response_id,omitempty" bson:"response_id,omitempty"`
}

// SessionKind separates the introduction session from free chat sessions.
type SessionKind string

const (
	SessionKindChat  SessionKind = "chat"
	SessionKindIntro SessionKind = "intro"
)

const (
	// DefaultSessionTitle is the title of a freshly created chat session.
	DefaultSessionTitle = "New Session"

	// IntroSessionTitle is the fixed title of the introduction session.
	IntroSessionTitle = "Introduction Session"

	// FallbackTitle is used when no title tokens survive filtering.
	FallbackTitle = "New Chat"

	// IntakeComplete is the terminal intake cursor, distinct from "unset".
	IntakeComplete = "__complete__"
)

// Session is one chat thread owned by a user.
//
// # Fields
//
//   - IntakeCursor: "" before intake starts, the next unanswered profile
//     field while intake runs, IntakeComplete afterwards. Only meaningful
//     for intro sessions.
//   - Titled: true once the derived title has been assigned.
type Session struct {
	ID           string      `json:"session_id" bson:"_id"`
	UserID       string      `json:"user_id" bson:"user_id"`
	Title        string      `json:"title" bson:"title"`
	Kind         SessionKind `json:"kind" bson:"kind"`
	Messages     []Message   `json:"messages" bson:"messages"`
	CreatedAt    time.Time   `json:"created_at" bson:"created_at"`
	LastActive   time.Time   `json:"last_active" bson:"last_active"`
	IntakeCursor string      `json:"intake_cursor,omitempty" bson:"intake_cursor,omitempty"`
	Titled       bool        `json:"titled" bson:"titled"`
}

// IsIntro reports whether this is the introduction session.
func (s *Session) IsIntro() bool {
	return s.Kind == SessionKindIntro
}

// IntakeDone reports whether the intake cursor reached its terminal state.
func (s *Session) IntakeDone() bool {
	return s.IntakeCursor == IntakeComplete
}

// FindResponse returns the index of the AI message carrying responseID, or -1.
func (s *Session) FindResponse(responseID string) int {
	for i := len(s.Messages) - 1; i >= 0; i-- {
		m := s.Messages[i]
		if m.Role == RoleAI && m.ResponseID == responseID {
			return i
		}
	}
	return -1
}

// PrecedingUserMessage scans backward from index i for the closest User message.
func (s *Session) PrecedingUserMessage(i int) (Message, bool) {
	for j := i - 1; j >= 0; j-- {
		if s.Messages[j].Role == RoleUser {
			return s.Messages[j], true
		}
	}
	return Message{}, false
}

// SessionSummary is the listing view of a session.
type SessionSummary struct {
	ID         string      `json:"session_id"`
	Title      string      `json:"title"`
	Kind       SessionKind `json:"kind"`
	CreatedAt  time.Time   `json:"created_at"`
	LastActive time.Time   `json:"last_active"`
}

// Summary projects the session for listings.
func (s *Session) Summary() SessionSummary {
	return SessionSummary{
		ID:         s.ID,
		Title:      s.Title,
		Kind:       s.Kind,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive,
	}
}

// =============================================================================
// Profile
// =============================================================================

// ProfileField names one scalar fact elicited by the intake flow.
type ProfileField string

const (
	FieldName      ProfileField = "name"
	FieldSex       ProfileField = "sex"
	FieldAge       ProfileField = "age"
	FieldHeight    ProfileField = "height"
	FieldWeight    ProfileField = "weight"
	FieldHabits    ProfileField = "habits"
	FieldInterests ProfileField = "interests"
)

// IntakeOrder is the fixed order in which profile fields are elicited.
var IntakeOrder = []ProfileField{
	FieldName, FieldSex, FieldAge, FieldHeight, FieldWeight, FieldHabits, FieldInterests,
}

// MemoryItem is a timestamped durable snippet (goal or personal info).
type MemoryItem struct {
	ID         string    `json:"id" bson:"id"`
	Text       string    `json:"text" bson:"text"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
	ResponseID string    `json:"response_id,omitempty" bson:"response_id,omitempty"`
}

// AssessmentResult is one completed questionnaire.
type AssessmentResult struct {
	Categories []string  `json:"categories" bson:"categories"`
	Score      int       `json:"score" bson:"score"`
	Level      string    `json:"level" bson:"level"`
	CreatedAt  time.Time `json:"created_at" bson:"created_at"`
}

// Profile holds the durable structured facts about a user.
//
// Presence of a key in Fields, not its value, drives intake progression.
type Profile struct {
	UserID       string                  `json:"user_id" bson:"_id"`
	Fields       map[ProfileField]string `json:"fields" bson:"fields"`
	Goals        []MemoryItem            `json:"goals" bson:"goals"`
	PersonalInfo []MemoryItem            `json:"personal_info" bson:"personal_info"`
	Assessments  []AssessmentResult      `json:"assessments" bson:"assessments"`
	CreatedAt    time.Time               `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time               `json:"updated_at" bson:"updated_at"`
}

// Has reports whether the field has been recorded.
func (p *Profile) Has(field ProfileField) bool {
	if p == nil || p.Fields == nil {
		return false
	}
	_, ok := p.Fields[field]
	return ok
}

// Get returns the field value or "".
func (p *Profile) Get(field ProfileField) string {
	if p == nil || p.Fields == nil {
		return ""
	}
	return p.Fields[field]
}

// HasGoal reports whether a goal with the same text exists, ignoring case
// and surrounding whitespace.
func (p *Profile) HasGoal(text string) bool {
	if p == nil {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(text))
	for _, g := range p.Goals {
		if strings.ToLower(strings.TrimSpace(g.Text)) == needle {
			return true
		}
	}
	return false
}

// =============================================================================
// Reminders
// =============================================================================

// ReminderStatus is the lifecycle state of a reminder.
type ReminderStatus string

const (
	ReminderPending ReminderStatus = "pending"
	ReminderDone    ReminderStatus = "done"
	ReminderNotDone ReminderStatus = "not_done"
)

// Slot is a coarse, user-chosen delivery window.
type Slot string

const (
	SlotMorning   Slot = "morning"
	SlotAfternoon Slot = "afternoon"
	SlotEvening   Slot = "evening"
)

// SlotHours maps each slot to its local wall-clock hour.
var SlotHours = map[Slot]int{
	SlotMorning:   9,
	SlotAfternoon: 14,
	SlotEvening:   19,
}

// Reminder is a scheduled nudge derived from a remembered exchange.
//
// ScheduledAt is the canonical UTC instant. TimeZone is the IANA zone the
// slot was resolved in and is used only for display.
type Reminder struct {
	ID               string         `json:"id" bson:"_id"`
	UserID           string         `json:"user_id" bson:"user_id"`
	Text             string         `json:"text" bson:"text"`
	ScheduledAt      time.Time      `json:"scheduled_at" bson:"scheduled_at"`
	TimeZone         string         `json:"timezone" bson:"timezone"`
	Slot             Slot           `json:"slot,omitempty" bson:"slot,omitempty"`
	Status           ReminderStatus `json:"status" bson:"status"`
	SourceResponseID string         `json:"source_response_id,omitempty" bson:"source_response_id,omitempty"`
	CreatedAt        time.Time      `json:"created_at" bson:"created_at"`
}

// LocalTime renders ScheduledAt in the reminder's own zone.
func (r *Reminder) LocalTime() time.Time {
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil {
		return r.ScheduledAt
	}
	return r.ScheduledAt.In(loc)
}

// =============================================================================
// Sentiment
// =============================================================================

// StressCategory is the closed set of stress labels.
type StressCategory string

const (
	StressBurnout      StressCategory = "Burnout"
	StressOverthinking StressCategory = "Overthinking"
	StressAnxiety      StressCategory = "Anxiety"
	StressSocial       StressCategory = "Social Stress"
	StressLowMood      StressCategory = "Low Mood"
	StressNone         StressCategory = "None"
)

// ValidStressCategories lists every accepted category.
var ValidStressCategories = []StressCategory{
	StressBurnout, StressOverthinking, StressAnxiety, StressSocial, StressLowMood, StressNone,
}

// ParseStressCategory maps free text onto the enum. Unknown values become None.
func ParseStressCategory(s string) StressCategory {
	s = strings.TrimSpace(s)
	for _, c := range ValidStressCategories {
		if strings.EqualFold(s, string(c)) {
			return c
		}
	}
	if strings.EqualFold(strings.ReplaceAll(s, " ", ""), "SocialStress") {
		return StressSocial
	}
	return StressNone
}

// DateLayout is the calendar-day key format for sentiment entries.
const DateLayout = "2006-01-02"

// SentimentEntry is the per-user, per-day mood record.
type SentimentEntry struct {
	UserID          string         `json:"user_id" bson:"user_id"`
	Date            string         `json:"date" bson:"date"`
	MentalScore     float64        `json:"mental_score" bson:"mental_score"`
	StressCategory  StressCategory `json:"stress_category" bson:"stress_category"`
	SupportingQuote string         `json:"supporting_quote" bson:"supporting_quote"`
	Suggestions     []string       `json:"suggestions" bson:"suggestions"`
	CreatedAt       time.Time      `json:"created_at" bson:"created_at"`
}

// SentimentSummary aggregates entries over a window.
type SentimentSummary struct {
	Days           int                    `json:"days"`
	Entries        int                    `json:"entries"`
	AverageScore   float64                `json:"average_score"`
	Latest         *SentimentEntry        `json:"latest,omitempty"`
	CategoryCounts map[StressCategory]int `json:"category_counts"`
}

// =============================================================================
// Feedback
// =============================================================================

// FeedbackType enumerates the reactions a user can leave on an AI reply.
type FeedbackType string

const (
	FeedbackLike     FeedbackType = "like"
	FeedbackDislike  FeedbackType = "dislike"
	FeedbackComment  FeedbackType = "comment"
	FeedbackRemember FeedbackType = "remember"
)

// RememberAs routes a "remember" action to a memory destination.
type RememberAs string

const (
	RememberRecall       RememberAs = "recall"
	RememberReminder     RememberAs = "reminder"
	RememberGoal         RememberAs = "goal"
	RememberPersonalInfo RememberAs = "personal_info"
)

// Reaction aggregates feedback on a single AI reply.
type Reaction struct {
	Like      bool      `json:"like" bson:"like"`
	Dislike   bool      `json:"dislike" bson:"dislike"`
	Comments  []string  `json:"comments" bson:"comments"`
	UpdatedAt time.Time `json:"updated_at" bson:"updated_at"`
}

// RememberedExchange is a (user, AI) pair the user asked to be recalled.
type RememberedExchange struct {
	ResponseID  string    `json:"response_id" bson:"response_id"`
	UserMessage string    `json:"user_message" bson:"user_message"`
	AIResponse  string    `json:"aira_response" bson:"aira_response"`
	CreatedAt   time.Time `json:"created_at" bson:"created_at"`
}

// FeedbackRecord is the per-user feedback document.
type FeedbackRecord struct {
	UserID     string               `json:"user_id" bson:"_id"`
	Reactions  map[string]Reaction  `json:"reactions" bson:"reactions"`
	Remembered []RememberedExchange `json:"remembered" bson:"remembered"`
}

// DailyFeedback is the end-of-day session rating.
type DailyFeedback struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	SessionID string    `json:"session_id" bson:"session_id"`
	Rating    int       `json:"rating" bson:"rating"`
	Comment   string    `json:"comment,omitempty" bson:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
}

// =============================================================================
// Assessment question bank
// =============================================================================

// Question is one item of the self-report questionnaire.
//
// Scores[i] is the weight added when option i is chosen.
type Question struct {
	ID       string   `json:"id" bson:"_id" yaml:"id"`
	Category string   `json:"category" bson:"category" yaml:"category"`
	Text     string   `json:"text" bson:"text" yaml:"text"`
	Options  []string `json:"options" bson:"options" yaml:"options"`
	Scores   []int    `json:"scores" bson:"scores" yaml:"scores"`
	Order    int      `json:"order" bson:"order" yaml:"order"`
}

// =============================================================================
// Accounts
// =============================================================================

// Account is a registered user's credentials and display data.
type Account struct {
	UserID       string    `json:"user_id" bson:"_id"`
	Email        string    `json:"email" bson:"email"`
	Name         string    `json:"name" bson:"name"`
	PasswordHash []byte    `json:"-" bson:"password_hash"`
	Roles        []string  `json:"roles" bson:"roles"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// RefreshToken is a login session. Its ID is the opaque refresh token.
type RefreshToken struct {
	ID        string    `json:"id" bson:"_id"`
	UserID    string    `json:"user_id" bson:"user_id"`
	CreatedAt time.Time `json:"created_at" bson:"created_at"`
	ExpiresAt time.Time `json:"expires_at" bson:"expires_at"`
}
