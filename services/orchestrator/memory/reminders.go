// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

const (
	// DeferDelay is how far a "not done" reminder is pushed back.
	DeferDelay = time.Hour

	// StaggerInterval spaces out reminders that fell due together.
	StaggerInterval = 10 * time.Minute

	// maxSlotProbes bounds how many later instants are tried when a
	// reschedule target is already taken.
	maxSlotProbes = 12
)

// =============================================================================
// Time helpers
// =============================================================================

// ParseSlot validates a slot name. Empty means morning.
func ParseSlot(s string) (datatypes.Slot, error) {
	if strings.TrimSpace(s) == "" {
		return datatypes.SlotMorning, nil
	}
	slot := datatypes.Slot(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := datatypes.SlotHours[slot]; !ok {
		return "", datatypes.NewValidationError("slot", "slot must be morning, afternoon or evening")
	}
	return slot, nil
}

// LoadZone resolves an IANA zone name. Empty means UTC.
func LoadZone(name string) (*time.Location, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC, "UTC", nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, "", datatypes.NewValidationError("timezone", "unknown time zone %q", name)
	}
	return loc, name, nil
}

// NextSlot returns the next occurrence of the slot's hour in loc at or
// after now. A slot that has already passed today rolls to tomorrow.
func NextSlot(now time.Time, slot datatypes.Slot, loc *time.Location) time.Time {
	local := now.In(loc)
	at := time.Date(local.Year(), local.Month(), local.Day(), datatypes.SlotHours[slot], 0, 0, 0, loc)
	if !at.After(local) {
		at = time.Date(local.Year(), local.Month(), local.Day()+1, datatypes.SlotHours[slot], 0, 0, 0, loc)
	}
	return at.UTC()
}

// =============================================================================
// Reminders
// =============================================================================

// NewReminder describes a reminder to schedule. At, when set, is an
// RFC3339 instant and overrides Slot.
type NewReminder struct {
	Text             string
	Slot             string
	TimeZone         string
	At               string
	SourceResponseID string
}

// Reminders schedules and delivers reminders.
//
// Times are stored as a UTC instant plus the IANA zone the user chose; the
// zone only matters when resolving a slot to an instant.
type Reminders struct {
	store  store.Reminders
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

// NewReminders creates the service. A nil logger uses slog.Default().
func NewReminders(s store.Reminders, logger *slog.Logger) *Reminders {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reminders{store: s, now: time.Now, newID: uuid.NewString, logger: logger}
}

// Add schedules a reminder.
//
// # Outputs
//
//   - *datatypes.Reminder: The stored reminder, or the request resolved to
//     an instant when a duplicate was suppressed.
//   - bool: False when a reminder already holds that slot.
//   - error: ValidationError for bad text, slot, zone or time.
func (r *Reminders) Add(ctx context.Context, userID string, req NewReminder) (*datatypes.Reminder, bool, error) {
	ctx, span := tracer.Start(ctx, "Reminders.Add")
	defer span.End()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, false, datatypes.NewValidationError("text", "reminder text is required")
	}
	loc, zone, err := LoadZone(req.TimeZone)
	if err != nil {
		return nil, false, err
	}

	rem := &datatypes.Reminder{
		ID:               r.newID(),
		UserID:           userID,
		Text:             text,
		TimeZone:         zone,
		Status:           datatypes.ReminderPending,
		SourceResponseID: req.SourceResponseID,
		CreatedAt:        r.now().UTC(),
	}
	if req.At != "" {
		at, err := time.Parse(time.RFC3339, req.At)
		if err != nil {
			return nil, false, datatypes.NewValidationError("time", "time must be RFC3339, e.g. 2025-01-02T09:00:00+05:30")
		}
		rem.ScheduledAt = at.UTC()
	} else {
		slot, err := ParseSlot(req.Slot)
		if err != nil {
			return nil, false, err
		}
		rem.Slot = slot
		rem.ScheduledAt = NextSlot(r.now(), slot, loc)
	}

	inserted, err := r.store.InsertReminderIfSlotFree(ctx, rem)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		r.logger.Info("Duplicate reminder slot suppressed",
			"user_id", userID, "scheduled_at", rem.ScheduledAt.Format(time.RFC3339))
		return rem, false, nil
	}
	r.logger.Info("Reminder scheduled", "user_id", userID, "reminder_id", rem.ID,
		"scheduled_at", rem.ScheduledAt.Format(time.RFC3339), "timezone", zone)
	return rem, true, nil
}

// List returns the user's reminders, earliest first.
func (r *Reminders) List(ctx context.Context, userID string) ([]*datatypes.Reminder, error) {
	list, err := r.store.ListReminders(ctx, userID)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []*datatypes.Reminder{}
	}
	return list, nil
}

// UpdateStatus applies the consumer's answer to a delivered reminder.
// "done" deletes it and returns nil; "not_done" defers it by DeferDelay
// from now and returns the updated reminder.
func (r *Reminders) UpdateStatus(ctx context.Context, userID, id string, status datatypes.ReminderStatus) (*datatypes.Reminder, error) {
	switch status {
	case datatypes.ReminderDone:
		if err := r.store.DeleteReminder(ctx, userID, id); err != nil {
			return nil, r.notFound(err)
		}
		return nil, nil
	case datatypes.ReminderNotDone:
		if _, err := r.store.GetReminder(ctx, userID, id); err != nil {
			return nil, r.notFound(err)
		}
		if _, err := r.reschedule(ctx, userID, id, r.now().Add(DeferDelay)); err != nil {
			return nil, err
		}
		return r.store.GetReminder(ctx, userID, id)
	default:
		return nil, datatypes.NewValidationError("status", "status must be %q or %q", datatypes.ReminderDone, datatypes.ReminderNotDone)
	}
}

// Delete removes a reminder.
func (r *Reminders) Delete(ctx context.Context, userID, id string) error {
	return r.notFound(r.store.DeleteReminder(ctx, userID, id))
}

// Due returns the oldest pending reminder whose time has come and
// re-staggers the other due ones StaggerInterval apart starting from now,
// so a backlog is delivered one at a time.
func (r *Reminders) Due(ctx context.Context, userID string) ([]*datatypes.Reminder, error) {
	ctx, span := tracer.Start(ctx, "Reminders.Due")
	defer span.End()

	list, err := r.store.ListReminders(ctx, userID)
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	var due []*datatypes.Reminder
	for _, rem := range list {
		if rem.Status == datatypes.ReminderPending && !rem.ScheduledAt.After(now) {
			due = append(due, rem)
		}
	}
	if len(due) == 0 {
		return []*datatypes.Reminder{}, nil
	}
	sort.SliceStable(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })

	next := now.Add(StaggerInterval)
	for _, rem := range due[1:] {
		at, err := r.reschedule(ctx, userID, rem.ID, next)
		if err != nil {
			r.logger.Warn("Failed to re-stagger reminder", "reminder_id", rem.ID, "error", err)
			continue
		}
		next = at.Add(StaggerInterval)
	}
	return due[:1], nil
}

// reschedule moves a reminder to at, probing later minutes when the slot
// is held by another reminder. It returns the instant actually used.
func (r *Reminders) reschedule(ctx context.Context, userID, id string, at time.Time) (time.Time, error) {
	at = at.UTC().Truncate(time.Second)
	var err error
	for i := 0; i < maxSlotProbes; i++ {
		err = r.store.RescheduleReminder(ctx, userID, id, at)
		if !errors.Is(err, datatypes.ErrConflict) {
			return at, err
		}
		at = at.Add(time.Minute)
	}
	return time.Time{}, fmt.Errorf("no free slot near %s: %w", at.Format(time.RFC3339), err)
}

func (r *Reminders) notFound(err error) error {
	if errors.Is(err, datatypes.ErrNotFound) {
		return datatypes.NotFoundf("Reminder not found")
	}
	return err
}
