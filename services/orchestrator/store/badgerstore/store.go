// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore implements store.Store on an embedded BadgerDB.
//
// # Key Layout
//
//	profile/{uid}                  Profile
//	session/{sid}                  Session
//	usess/{uid}/{sid}              owner index (empty value)
//	intro/{uid}                    sid of the introduction session
//	resp/{rid}                     sid holding the AI message
//	rem/{uid}/{id}                 Reminder
//	remslot/{uid}/{unix-nanos}     id of the reminder holding the slot
//	sent/{uid}/{yyyy-mm-dd}        SentimentEntry
//	fb/{uid}                       FeedbackRecord
//	daily/{uid}/{id}               DailyFeedback
//	q/{category}/{order}/{id}      Question
//	qid/{id}                       q/... key of the question
//	acct/{uid}                     Account
//	email/{lower(email)}           uid
//	rt/{id}                        RefreshToken (badger TTL = expiry)
//
// Every value is JSON. Values are small, so read-modify-write inside one
// transaction is the update strategy throughout.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

// Store is the BadgerDB-backed store.Store.
type Store struct {
	db     *DB
	ownsDB bool
	now    func() time.Time
}

// New wraps an already open DB. Close on the returned Store does not close db.
func New(db *DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Open opens a DB from cfg and returns a Store that owns it.
func Open(cfg Config) (*Store, error) {
	db, err := OpenDB(cfg)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, ownsDB: true, now: time.Now}, nil
}

// DB exposes the underlying database so other components (kv) can share it.
func (s *Store) DB() *DB {
	return s.db
}

// Ping reports whether the database is open.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return datatypes.StoreError("ping", errors.New("badger closed"))
	}
	return nil
}

// Close closes the DB when the Store owns it.
func (s *Store) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}

func k(parts ...string) []byte {
	return []byte(strings.Join(parts, "/"))
}

func lastSegment(key []byte) string {
	str := string(key)
	return str[strings.LastIndexByte(str, '/')+1:]
}

// wrap converts badger errors into the store taxonomy.
func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datatypes.ErrNotFound), errors.Is(err, datatypes.ErrConflict),
		datatypes.IsValidation(err):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return datatypes.NotFoundf("%s: not found", op)
	default:
		return datatypes.StoreError(op, err)
	}
}

// =============================================================================
// Profiles
// =============================================================================

func (s *Store) GetProfile(ctx context.Context, userID string) (*datatypes.Profile, error) {
	var p datatypes.Profile
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k("profile", userID), &p)
	})
	if err != nil {
		return nil, wrap("get profile", err)
	}
	return &p, nil
}

// updateProfile loads or lazily creates the profile and applies fn.
func (s *Store) updateProfile(ctx context.Context, op, userID string, fn func(p *datatypes.Profile) error) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := k("profile", userID)
		var p datatypes.Profile
		if err := getJSON(txn, key, &p); err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			p = datatypes.Profile{UserID: userID, CreatedAt: s.now().UTC()}
		}
		if p.Fields == nil {
			p.Fields = map[datatypes.ProfileField]string{}
		}
		if err := fn(&p); err != nil {
			return err
		}
		p.UpdatedAt = s.now().UTC()
		return setJSON(txn, key, &p)
	})
	return wrap(op, err)
}

func (s *Store) SetProfileField(ctx context.Context, userID string, field datatypes.ProfileField, value string) error {
	return s.updateProfile(ctx, "set profile field", userID, func(p *datatypes.Profile) error {
		p.Fields[field] = value
		return nil
	})
}

// errDuplicate aborts a transaction without writing.
var errDuplicate = errors.New("duplicate")

func (s *Store) AddGoal(ctx context.Context, userID string, item datatypes.MemoryItem, dedupe bool) (bool, error) {
	err := s.updateProfile(ctx, "add goal", userID, func(p *datatypes.Profile) error {
		if dedupe && p.HasGoal(item.Text) {
			return errDuplicate
		}
		p.Goals = append(p.Goals, item)
		return nil
	})
	if errors.Is(err, errDuplicate) {
		return false, nil
	}
	return err == nil, err
}

func (s *Store) AddPersonalInfo(ctx context.Context, userID string, item datatypes.MemoryItem) error {
	return s.updateProfile(ctx, "add personal info", userID, func(p *datatypes.Profile) error {
		p.PersonalInfo = append(p.PersonalInfo, item)
		return nil
	})
}

func (s *Store) AddAssessment(ctx context.Context, userID string, result datatypes.AssessmentResult) error {
	return s.updateProfile(ctx, "add assessment", userID, func(p *datatypes.Profile) error {
		p.Assessments = append(p.Assessments, result)
		return nil
	})
}

// =============================================================================
// Sessions
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, session *datatypes.Session) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := k("session", session.ID)
		if _, err := txn.Get(key); err == nil {
			return datatypes.Conflictf("session %s already exists", session.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if session.IsIntro() {
			introKey := k("intro", session.UserID)
			if _, err := txn.Get(introKey); err == nil {
				return datatypes.Conflictf("introduction session already exists")
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Set(introKey, []byte(session.ID)); err != nil {
				return err
			}
		}
		if err := txn.Set(k("usess", session.UserID, session.ID), nil); err != nil {
			return err
		}
		for _, m := range session.Messages {
			if m.ResponseID != "" {
				if err := txn.Set(k("resp", m.ResponseID), []byte(session.ID)); err != nil {
					return err
				}
			}
		}
		return setJSON(txn, key, session)
	})
	return wrap("create session", err)
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	var sess datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k("session", sessionID), &sess)
	})
	if err != nil {
		return nil, wrap("get session", err)
	}
	return &sess, nil
}

func (s *Store) FindIntroSession(ctx context.Context, userID string) (*datatypes.Session, error) {
	var sess datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(k("intro", userID))
		if err != nil {
			return err
		}
		sid, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, k("session", string(sid)), &sess)
	})
	if err != nil {
		return nil, wrap("find intro session", err)
	}
	return &sess, nil
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]*datatypes.Session, error) {
	var out []*datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, k("usess", userID, ""), true, func(key []byte, _ *badger.Item) error {
			var sess datatypes.Session
			if err := getJSON(txn, k("session", lastSegment(key)), &sess); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					return nil
				}
				return err
			}
			out = append(out, &sess)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	return out, nil
}

func (s *Store) ListSessionUserIDs(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("usess/"), true, func(key []byte, _ *badger.Item) error {
			parts := strings.SplitN(string(key), "/", 3)
			if len(parts) != 3 {
				return nil
			}
			if _, ok := seen[parts[1]]; !ok {
				seen[parts[1]] = struct{}{}
				out = append(out, parts[1])
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list session users", err)
	}
	return out, nil
}

func (s *Store) updateSession(ctx context.Context, op, sessionID string, fn func(txn *badger.Txn, sess *datatypes.Session) (bool, error)) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := k("session", sessionID)
		var sess datatypes.Session
		if err := getJSON(txn, key, &sess); err != nil {
			return err
		}
		changed, err := fn(txn, &sess)
		if err != nil || !changed {
			return err
		}
		return setJSON(txn, key, &sess)
	})
	return wrap(op, err)
}

func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []datatypes.Message, lastActive time.Time) error {
	return s.updateSession(ctx, "append messages", sessionID, func(txn *badger.Txn, sess *datatypes.Session) (bool, error) {
		for _, m := range msgs {
			if m.ResponseID != "" {
				if err := txn.Set(k("resp", m.ResponseID), []byte(sessionID)); err != nil {
					return false, err
				}
			}
		}
		sess.Messages = append(sess.Messages, msgs...)
		sess.LastActive = lastActive.UTC()
		return true, nil
	})
}

func (s *Store) SetTitleOnce(ctx context.Context, sessionID, title string) (bool, error) {
	applied := false
	err := s.updateSession(ctx, "set title", sessionID, func(_ *badger.Txn, sess *datatypes.Session) (bool, error) {
		applied = false
		if sess.Titled {
			return false, nil
		}
		sess.Title = title
		sess.Titled = true
		applied = true
		return true, nil
	})
	return applied, err
}

func (s *Store) SetIntakeCursor(ctx context.Context, sessionID, cursor string) error {
	return s.updateSession(ctx, "set intake cursor", sessionID, func(_ *badger.Txn, sess *datatypes.Session) (bool, error) {
		sess.IntakeCursor = cursor
		return true, nil
	})
}

func (s *Store) FindByResponseID(ctx context.Context, userID, responseID string) (*datatypes.Session, error) {
	var sess datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(k("resp", responseID))
		if err != nil {
			return err
		}
		sid, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, k("session", string(sid)), &sess)
	})
	if err != nil {
		return nil, wrap("find by response id", err)
	}
	if sess.UserID != userID {
		return nil, datatypes.NotFoundf("find by response id: not found")
	}
	return &sess, nil
}

func (s *Store) DeleteInactiveBefore(ctx context.Context, cutoff time.Time, keepIntro bool) (int, error) {
	// Collect candidates first so each deletion is its own small transaction.
	var victims []datatypes.Session
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("session/"), false, func(_ []byte, item *badger.Item) error {
			var sess datatypes.Session
			if err := decodeItem(item, &sess); err != nil {
				return err
			}
			if keepIntro && sess.IsIntro() {
				return nil
			}
			if sess.LastActive.Before(cutoff) {
				victims = append(victims, sess)
			}
			return nil
		})
	})
	if err != nil {
		return 0, wrap("scan inactive sessions", err)
	}

	deleted := 0
	for _, sess := range victims {
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			for _, m := range sess.Messages {
				if m.ResponseID != "" {
					if err := txn.Delete(k("resp", m.ResponseID)); err != nil {
						return err
					}
				}
			}
			if sess.IsIntro() {
				if err := txn.Delete(k("intro", sess.UserID)); err != nil {
					return err
				}
			}
			if err := txn.Delete(k("usess", sess.UserID, sess.ID)); err != nil {
				return err
			}
			return txn.Delete(k("session", sess.ID))
		})
		if err != nil {
			return deleted, wrap("delete session", err)
		}
		deleted++
	}
	return deleted, nil
}

// =============================================================================
// Reminders
// =============================================================================

func slotKey(userID string, at time.Time) []byte {
	return k("remslot", userID, fmt.Sprintf("%020d", at.UTC().UnixNano()))
}

func (s *Store) InsertReminderIfSlotFree(ctx context.Context, r *datatypes.Reminder) (bool, error) {
	inserted := false
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		inserted = false
		sk := slotKey(r.UserID, r.ScheduledAt)
		if _, err := txn.Get(sk); err == nil {
			return nil
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(sk, []byte(r.ID)); err != nil {
			return err
		}
		inserted = true
		return setJSON(txn, k("rem", r.UserID, r.ID), r)
	})
	if err != nil {
		return false, wrap("insert reminder", err)
	}
	return inserted, nil
}

func (s *Store) GetReminder(ctx context.Context, userID, id string) (*datatypes.Reminder, error) {
	var r datatypes.Reminder
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k("rem", userID, id), &r)
	})
	if err != nil {
		return nil, wrap("get reminder", err)
	}
	return &r, nil
}

func (s *Store) ListReminders(ctx context.Context, userID string) ([]*datatypes.Reminder, error) {
	var out []*datatypes.Reminder
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, k("rem", userID, ""), false, func(_ []byte, item *badger.Item) error {
			var r datatypes.Reminder
			if err := decodeItem(item, &r); err != nil {
				return err
			}
			out = append(out, &r)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list reminders", err)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *Store) RescheduleReminder(ctx context.Context, userID, id string, at time.Time) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := k("rem", userID, id)
		var r datatypes.Reminder
		if err := getJSON(txn, key, &r); err != nil {
			return err
		}
		newSlot := slotKey(userID, at)
		if item, err := txn.Get(newSlot); err == nil {
			holder, verr := item.ValueCopy(nil)
			if verr != nil {
				return verr
			}
			if string(holder) != id {
				return datatypes.Conflictf("reminder slot %s already taken", at.UTC().Format(time.RFC3339))
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Delete(slotKey(userID, r.ScheduledAt)); err != nil {
			return err
		}
		if err := txn.Set(newSlot, []byte(id)); err != nil {
			return err
		}
		r.ScheduledAt = at.UTC()
		r.Status = datatypes.ReminderPending
		return setJSON(txn, key, &r)
	})
	return wrap("reschedule reminder", err)
}

func (s *Store) DeleteReminder(ctx context.Context, userID, id string) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := k("rem", userID, id)
		var r datatypes.Reminder
		if err := getJSON(txn, key, &r); err != nil {
			return err
		}
		if err := txn.Delete(slotKey(userID, r.ScheduledAt)); err != nil {
			return err
		}
		return txn.Delete(key)
	})
	return wrap("delete reminder", err)
}

// =============================================================================
// Sentiments
// =============================================================================

func (s *Store) PutSentiment(ctx context.Context, e *datatypes.SentimentEntry) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, k("sent", e.UserID, e.Date), e)
	})
	return wrap("put sentiment", err)
}

func (s *Store) HasSentiment(ctx context.Context, userID, date string) (bool, error) {
	found := false
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(k("sent", userID, date))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		found = err == nil
		return err
	})
	if err != nil {
		return false, wrap("has sentiment", err)
	}
	return found, nil
}

func (s *Store) ListSentiments(ctx context.Context, userID string) ([]*datatypes.SentimentEntry, error) {
	var out []*datatypes.SentimentEntry
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, k("sent", userID, ""), false, func(_ []byte, item *badger.Item) error {
			var e datatypes.SentimentEntry
			if err := decodeItem(item, &e); err != nil {
				return err
			}
			out = append(out, &e)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("list sentiments", err)
	}
	return out, nil
}

func (s *Store) PruneSentiments(ctx context.Context, userID, beforeDate string) (int, error) {
	pruned := 0
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		pruned = 0
		var stale [][]byte
		err := scanPrefix(txn, k("sent", userID, ""), true, func(key []byte, _ *badger.Item) error {
			if lastSegment(key) < beforeDate {
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			pruned++
		}
		return nil
	})
	if err != nil {
		return 0, wrap("prune sentiments", err)
	}
	return pruned, nil
}

// =============================================================================
// Feedback
// =============================================================================

func (s *Store) updateFeedback(ctx context.Context, op, userID string, fn func(rec *datatypes.FeedbackRecord)) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := k("fb", userID)
		var rec datatypes.FeedbackRecord
		if err := getJSON(txn, key, &rec); err != nil {
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			rec = datatypes.FeedbackRecord{UserID: userID}
		}
		if rec.Reactions == nil {
			rec.Reactions = map[string]datatypes.Reaction{}
		}
		fn(&rec)
		return setJSON(txn, key, &rec)
	})
	return wrap(op, err)
}

func (s *Store) ApplyReaction(ctx context.Context, userID, responseID string, kind datatypes.FeedbackType, comment string) error {
	return s.updateFeedback(ctx, "apply reaction", userID, func(rec *datatypes.FeedbackRecord) {
		r := rec.Reactions[responseID]
		switch kind {
		case datatypes.FeedbackLike:
			r.Like, r.Dislike = true, false
		case datatypes.FeedbackDislike:
			r.Like, r.Dislike = false, true
		}
		if comment != "" {
			r.Comments = append(r.Comments, comment)
		}
		r.UpdatedAt = s.now().UTC()
		rec.Reactions[responseID] = r
	})
}

func (s *Store) AddRemembered(ctx context.Context, userID string, ex datatypes.RememberedExchange) error {
	return s.updateFeedback(ctx, "add remembered", userID, func(rec *datatypes.FeedbackRecord) {
		kept := rec.Remembered[:0]
		for _, old := range rec.Remembered {
			if old.ResponseID != ex.ResponseID {
				kept = append(kept, old)
			}
		}
		rec.Remembered = append(kept, ex)
	})
}

func (s *Store) ListRemembered(ctx context.Context, userID string) ([]datatypes.RememberedExchange, error) {
	rec, err := s.GetFeedback(ctx, userID)
	if err != nil {
		return nil, err
	}
	return rec.Remembered, nil
}

func (s *Store) GetFeedback(ctx context.Context, userID string) (*datatypes.FeedbackRecord, error) {
	rec := datatypes.FeedbackRecord{UserID: userID}
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		err := getJSON(txn, k("fb", userID), &rec)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return nil, wrap("get feedback", err)
	}
	if rec.Reactions == nil {
		rec.Reactions = map[string]datatypes.Reaction{}
	}
	return &rec, nil
}

func (s *Store) AddDailyFeedback(ctx context.Context, fb *datatypes.DailyFeedback) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSON(txn, k("daily", fb.UserID, fb.ID), fb)
	})
	return wrap("add daily feedback", err)
}

// =============================================================================
// Questions
// =============================================================================

func questionKey(q datatypes.Question) []byte {
	return k("q", q.Category, fmt.Sprintf("%06d", q.Order), q.ID)
}

func (s *Store) UpsertQuestions(ctx context.Context, qs []datatypes.Question) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		for _, q := range qs {
			if strings.Contains(q.Category, "/") || strings.Contains(q.ID, "/") {
				return datatypes.NewValidationError("question", "id and category must not contain '/'")
			}
			idKey := k("qid", q.ID)
			if item, err := txn.Get(idKey); err == nil {
				old, verr := item.ValueCopy(nil)
				if verr != nil {
					return verr
				}
				if err := txn.Delete(old); err != nil {
					return err
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			qk := questionKey(q)
			if err := txn.Set(idKey, qk); err != nil {
				return err
			}
			if err := setJSON(txn, qk, q); err != nil {
				return err
			}
		}
		return nil
	})
	return wrap("upsert questions", err)
}

func (s *Store) QuestionCategories(ctx context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	var out []string
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte("q/"), true, func(key []byte, _ *badger.Item) error {
			parts := strings.SplitN(string(key), "/", 4)
			if len(parts) < 4 {
				return nil
			}
			if _, ok := seen[parts[1]]; !ok {
				seen[parts[1]] = struct{}{}
				out = append(out, parts[1])
			}
			return nil
		})
	})
	if err != nil {
		return nil, wrap("question categories", err)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) QuestionsByCategory(ctx context.Context, category string) ([]datatypes.Question, error) {
	var out []datatypes.Question
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return scanPrefix(txn, k("q", category, ""), false, func(_ []byte, item *badger.Item) error {
			var q datatypes.Question
			if err := decodeItem(item, &q); err != nil {
				return err
			}
			out = append(out, q)
			return nil
		})
	})
	if err != nil {
		return nil, wrap("questions by category", err)
	}
	return out, nil
}

// =============================================================================
// Accounts
// =============================================================================

func emailKey(email string) []byte {
	return k("email", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) CreateAccount(ctx context.Context, a *datatypes.Account) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		ek := emailKey(a.Email)
		if _, err := txn.Get(ek); err == nil {
			return datatypes.Conflictf("User already exists")
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(ek, []byte(a.UserID)); err != nil {
			return err
		}
		return setJSON(txn, k("acct", a.UserID), a)
	})
	return wrap("create account", err)
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*datatypes.Account, error) {
	var a datatypes.Account
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k("acct", userID), &a)
	})
	if err != nil {
		return nil, wrap("get account", err)
	}
	return &a, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*datatypes.Account, error) {
	var a datatypes.Account
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(emailKey(email))
		if err != nil {
			return err
		}
		uid, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return getJSON(txn, k("acct", string(uid)), &a)
	})
	if err != nil {
		return nil, wrap("get account by email", err)
	}
	return &a, nil
}

func (s *Store) UpdateAccountName(ctx context.Context, userID, name string) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		key := k("acct", userID)
		var a datatypes.Account
		if err := getJSON(txn, key, &a); err != nil {
			return err
		}
		a.Name = name
		a.UpdatedAt = s.now().UTC()
		return setJSON(txn, key, &a)
	})
	return wrap("update account", err)
}

func (s *Store) PutRefreshToken(ctx context.Context, t *datatypes.RefreshToken) error {
	ttl := t.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return datatypes.NewValidationError("expires_at", "refresh token already expired")
	}
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return setJSONWithTTL(txn, k("rt", t.ID), t, ttl)
	})
	return wrap("put refresh token", err)
}

func (s *Store) GetRefreshToken(ctx context.Context, id string) (*datatypes.RefreshToken, error) {
	var t datatypes.RefreshToken
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		return getJSON(txn, k("rt", id), &t)
	})
	if err != nil {
		return nil, wrap("get refresh token", err)
	}
	return &t, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, id string) error {
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(k("rt", id))
	})
	return wrap("delete refresh token", err)
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error) {
	deleted := 0
	err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		deleted = 0
		var stale [][]byte
		err := scanPrefix(txn, []byte("rt/"), false, func(key []byte, item *badger.Item) error {
			var t datatypes.RefreshToken
			if err := decodeItem(item, &t); err != nil {
				return err
			}
			if !t.ExpiresAt.After(now) {
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, wrap("delete expired refresh tokens", err)
	}
	return deleted, nil
}

var _ store.Store = (*Store)(nil)
