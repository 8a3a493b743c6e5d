// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mongostore implements store.Store on MongoDB.
//
// # Collections
//
//	users, refresh_tokens, profiles, sessions (messages embedded),
//	reminders, sentiment, feedback, daily_feedback, questions
//
// Uniqueness invariants are enforced with indexes created by EnsureIndexes:
// one intro session per user (partial unique index), one pending reminder
// per (user, scheduled_at), one sentiment entry per (user, date), one
// account per email. Refresh tokens expire through a TTL index.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/AleutianAI/aira/services/orchestrator/datatypes"
	"github.com/AleutianAI/aira/services/orchestrator/store"
)

const (
	collUsers         = "users"
	collRefreshTokens = "refresh_tokens"
	collProfiles      = "profiles"
	collSessions      = "sessions"
	collReminders     = "reminders"
	collSentiment     = "sentiment"
	collFeedback      = "feedback"
	collDailyFeedback = "daily_feedback"
	collQuestions     = "questions"
)

// Config configures the MongoDB connection.
type Config struct {
	URI            string
	Database       string
	ConnectTimeout time.Duration
}

// Store is the MongoDB-backed store.Store.
//
// # Thread Safety
//
// Safe for concurrent use; the driver pools connections.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
	now    func() time.Time
}

// Open connects, pings and ensures indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri is required")
	}
	if cfg.Database == "" {
		cfg.Database = "aira"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(connectCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &Store{client: client, db: client.Database(cfg.Database), now: time.Now}
	if err := s.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

// Database exposes the underlying database handle.
func (s *Store) Database() *mongo.Database {
	return s.db
}

// EnsureIndexes creates the indexes backing the store invariants.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		collUsers: {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collRefreshTokens: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0)},
		},
		collSessions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "last_active", Value: -1}}},
			{Keys: bson.D{{Key: "messages.response_id", Value: 1}}},
			{
				Keys: bson.D{{Key: "user_id", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"kind": string(datatypes.SessionKindIntro)}).
					SetName("one_intro_per_user"),
			},
		},
		collReminders: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "scheduled_at", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collSentiment: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		collQuestions: {
			{Keys: bson.D{{Key: "category", Value: 1}, {Key: "order", Value: 1}}},
		},
	}
	for coll, models := range specs {
		if _, err := s.db.Collection(coll).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Ping checks the primary is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return wrap("ping", s.client.Ping(ctx, readpref.Primary()))
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) c(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func wrap(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, datatypes.ErrNotFound), errors.Is(err, datatypes.ErrConflict):
		return err
	case errors.Is(err, mongo.ErrNoDocuments):
		return datatypes.NotFoundf("%s: not found", op)
	default:
		return datatypes.StoreError(op, err)
	}
}

func upsert() *options.UpdateOptions {
	return options.Update().SetUpsert(true)
}

// =============================================================================
// Profiles
// =============================================================================

func (s *Store) GetProfile(ctx context.Context, userID string) (*datatypes.Profile, error) {
	var p datatypes.Profile
	if err := s.c(collProfiles).FindOne(ctx, bson.M{"_id": userID}).Decode(&p); err != nil {
		return nil, wrap("get profile", err)
	}
	if p.Fields == nil {
		p.Fields = map[datatypes.ProfileField]string{}
	}
	return &p, nil
}

func (s *Store) profileUpdate(set bson.M, push bson.M) bson.M {
	now := s.now().UTC()
	if set == nil {
		set = bson.M{}
	}
	set["updated_at"] = now
	update := bson.M{
		"$set":         set,
		"$setOnInsert": bson.M{"created_at": now},
	}
	if push != nil {
		update["$push"] = push
	}
	return update
}

func (s *Store) SetProfileField(ctx context.Context, userID string, field datatypes.ProfileField, value string) error {
	_, err := s.c(collProfiles).UpdateOne(ctx,
		bson.M{"_id": userID},
		s.profileUpdate(bson.M{"fields." + string(field): value}, nil),
		upsert(),
	)
	return wrap("set profile field", err)
}

func (s *Store) AddGoal(ctx context.Context, userID string, item datatypes.MemoryItem, dedupe bool) (bool, error) {
	filter := bson.M{"_id": userID}
	if dedupe {
		pattern := `^\s*` + regexp.QuoteMeta(strings.TrimSpace(item.Text)) + `\s*$`
		filter["goals.text"] = bson.M{"$not": primitive.Regex{Pattern: pattern, Options: "i"}}
	}
	_, err := s.c(collProfiles).UpdateOne(ctx, filter, s.profileUpdate(nil, bson.M{"goals": item}), upsert())
	if err != nil {
		// The existing profile failed the dedupe filter and the upsert
		// collided with its _id.
		if dedupe && mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, wrap("add goal", err)
	}
	return true, nil
}

func (s *Store) AddPersonalInfo(ctx context.Context, userID string, item datatypes.MemoryItem) error {
	_, err := s.c(collProfiles).UpdateOne(ctx, bson.M{"_id": userID},
		s.profileUpdate(nil, bson.M{"personal_info": item}), upsert())
	return wrap("add personal info", err)
}

func (s *Store) AddAssessment(ctx context.Context, userID string, result datatypes.AssessmentResult) error {
	_, err := s.c(collProfiles).UpdateOne(ctx, bson.M{"_id": userID},
		s.profileUpdate(nil, bson.M{"assessments": result}), upsert())
	return wrap("add assessment", err)
}

// =============================================================================
// Sessions
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, session *datatypes.Session) error {
	if session.Messages == nil {
		session.Messages = []datatypes.Message{}
	}
	_, err := s.c(collSessions).InsertOne(ctx, session)
	if mongo.IsDuplicateKeyError(err) {
		return datatypes.Conflictf("session already exists")
	}
	return wrap("create session", err)
}

func (s *Store) findSession(ctx context.Context, op string, filter bson.M) (*datatypes.Session, error) {
	var sess datatypes.Session
	if err := s.c(collSessions).FindOne(ctx, filter).Decode(&sess); err != nil {
		return nil, wrap(op, err)
	}
	return &sess, nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (*datatypes.Session, error) {
	return s.findSession(ctx, "get session", bson.M{"_id": sessionID})
}

func (s *Store) FindIntroSession(ctx context.Context, userID string) (*datatypes.Session, error) {
	return s.findSession(ctx, "find intro session", bson.M{"user_id": userID, "kind": datatypes.SessionKindIntro})
}

func (s *Store) ListSessions(ctx context.Context, userID string) ([]*datatypes.Session, error) {
	cur, err := s.c(collSessions).Find(ctx, bson.M{"user_id": userID})
	if err != nil {
		return nil, wrap("list sessions", err)
	}
	var out []*datatypes.Session
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap("list sessions", err)
	}
	return out, nil
}

func (s *Store) ListSessionUserIDs(ctx context.Context) ([]string, error) {
	raw, err := s.c(collSessions).Distinct(ctx, "user_id", bson.M{})
	if err != nil {
		return nil, wrap("list session users", err)
	}
	return toStrings(raw), nil
}

func (s *Store) AppendMessages(ctx context.Context, sessionID string, msgs []datatypes.Message, lastActive time.Time) error {
	res, err := s.c(collSessions).UpdateOne(ctx, bson.M{"_id": sessionID}, bson.M{
		"$push": bson.M{"messages": bson.M{"$each": msgs}},
		"$set":  bson.M{"last_active": lastActive.UTC()},
	})
	if err != nil {
		return wrap("append messages", err)
	}
	if res.MatchedCount == 0 {
		return datatypes.NotFoundf("append messages: not found")
	}
	return nil
}

func (s *Store) SetTitleOnce(ctx context.Context, sessionID, title string) (bool, error) {
	res, err := s.c(collSessions).UpdateOne(ctx,
		bson.M{"_id": sessionID, "titled": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"title": title, "titled": true}},
	)
	if err != nil {
		return false, wrap("set title", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return false, err
	}
	return false, nil
}

func (s *Store) SetIntakeCursor(ctx context.Context, sessionID, cursor string) error {
	res, err := s.c(collSessions).UpdateOne(ctx, bson.M{"_id": sessionID},
		bson.M{"$set": bson.M{"intake_cursor": cursor}})
	if err != nil {
		return wrap("set intake cursor", err)
	}
	if res.MatchedCount == 0 {
		return datatypes.NotFoundf("set intake cursor: not found")
	}
	return nil
}

func (s *Store) FindByResponseID(ctx context.Context, userID, responseID string) (*datatypes.Session, error) {
	return s.findSession(ctx, "find by response id", bson.M{"user_id": userID, "messages.response_id": responseID})
}

func (s *Store) DeleteInactiveBefore(ctx context.Context, cutoff time.Time, keepIntro bool) (int, error) {
	filter := bson.M{"last_active": bson.M{"$lt": cutoff.UTC()}}
	if keepIntro {
		filter["kind"] = bson.M{"$ne": datatypes.SessionKindIntro}
	}
	res, err := s.c(collSessions).DeleteMany(ctx, filter)
	if err != nil {
		return 0, wrap("delete inactive sessions", err)
	}
	return int(res.DeletedCount), nil
}

// =============================================================================
// Reminders
// =============================================================================

func (s *Store) InsertReminderIfSlotFree(ctx context.Context, r *datatypes.Reminder) (bool, error) {
	_, err := s.c(collReminders).InsertOne(ctx, r)
	if mongo.IsDuplicateKeyError(err) {
		return false, nil
	}
	if err != nil {
		return false, wrap("insert reminder", err)
	}
	return true, nil
}

func (s *Store) GetReminder(ctx context.Context, userID, id string) (*datatypes.Reminder, error) {
	var r datatypes.Reminder
	err := s.c(collReminders).FindOne(ctx, bson.M{"_id": id, "user_id": userID}).Decode(&r)
	if err != nil {
		return nil, wrap("get reminder", err)
	}
	return &r, nil
}

func (s *Store) ListReminders(ctx context.Context, userID string) ([]*datatypes.Reminder, error) {
	cur, err := s.c(collReminders).Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "scheduled_at", Value: 1}}))
	if err != nil {
		return nil, wrap("list reminders", err)
	}
	var out []*datatypes.Reminder
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap("list reminders", err)
	}
	return out, nil
}

func (s *Store) RescheduleReminder(ctx context.Context, userID, id string, at time.Time) error {
	res, err := s.c(collReminders).UpdateOne(ctx, bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"scheduled_at": at.UTC(), "status": datatypes.ReminderPending}})
	if mongo.IsDuplicateKeyError(err) {
		return datatypes.Conflictf("reminder slot %s already taken", at.UTC().Format(time.RFC3339))
	}
	if err != nil {
		return wrap("reschedule reminder", err)
	}
	if res.MatchedCount == 0 {
		return datatypes.NotFoundf("reschedule reminder: not found")
	}
	return nil
}

func (s *Store) DeleteReminder(ctx context.Context, userID, id string) error {
	res, err := s.c(collReminders).DeleteOne(ctx, bson.M{"_id": id, "user_id": userID})
	if err != nil {
		return wrap("delete reminder", err)
	}
	if res.DeletedCount == 0 {
		return datatypes.NotFoundf("delete reminder: not found")
	}
	return nil
}

// =============================================================================
// Sentiments
// =============================================================================

func (s *Store) PutSentiment(ctx context.Context, e *datatypes.SentimentEntry) error {
	_, err := s.c(collSentiment).ReplaceOne(ctx,
		bson.M{"user_id": e.UserID, "date": e.Date}, e, options.Replace().SetUpsert(true))
	return wrap("put sentiment", err)
}

func (s *Store) HasSentiment(ctx context.Context, userID, date string) (bool, error) {
	n, err := s.c(collSentiment).CountDocuments(ctx, bson.M{"user_id": userID, "date": date})
	if err != nil {
		return false, wrap("has sentiment", err)
	}
	return n > 0, nil
}

func (s *Store) ListSentiments(ctx context.Context, userID string) ([]*datatypes.SentimentEntry, error) {
	cur, err := s.c(collSentiment).Find(ctx, bson.M{"user_id": userID},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, wrap("list sentiments", err)
	}
	var out []*datatypes.SentimentEntry
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap("list sentiments", err)
	}
	return out, nil
}

func (s *Store) PruneSentiments(ctx context.Context, userID, beforeDate string) (int, error) {
	res, err := s.c(collSentiment).DeleteMany(ctx, bson.M{"user_id": userID, "date": bson.M{"$lt": beforeDate}})
	if err != nil {
		return 0, wrap("prune sentiments", err)
	}
	return int(res.DeletedCount), nil
}

// =============================================================================
// Feedback
// =============================================================================

func (s *Store) ApplyReaction(ctx context.Context, userID, responseID string, kind datatypes.FeedbackType, comment string) error {
	prefix := "reactions." + responseID + "."
	set := bson.M{prefix + "updated_at": s.now().UTC()}
	switch kind {
	case datatypes.FeedbackLike:
		set[prefix+"like"] = true
		set[prefix+"dislike"] = false
	case datatypes.FeedbackDislike:
		set[prefix+"like"] = false
		set[prefix+"dislike"] = true
	}
	update := bson.M{"$set": set}
	if comment != "" {
		update["$push"] = bson.M{prefix + "comments": comment}
	}
	_, err := s.c(collFeedback).UpdateOne(ctx, bson.M{"_id": userID}, update, upsert())
	return wrap("apply reaction", err)
}

func (s *Store) AddRemembered(ctx context.Context, userID string, ex datatypes.RememberedExchange) error {
	coll := s.c(collFeedback)
	if _, err := coll.UpdateOne(ctx, bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"remembered": bson.M{"response_id": ex.ResponseID}}}); err != nil {
		return wrap("add remembered", err)
	}
	_, err := coll.UpdateOne(ctx, bson.M{"_id": userID},
		bson.M{"$push": bson.M{"remembered": ex}}, upsert())
	return wrap("add remembered", err)
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
	err := s.c(collFeedback).FindOne(ctx, bson.M{"_id": userID}).Decode(&rec)
	if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, wrap("get feedback", err)
	}
	if rec.Reactions == nil {
		rec.Reactions = map[string]datatypes.Reaction{}
	}
	return &rec, nil
}

func (s *Store) AddDailyFeedback(ctx context.Context, fb *datatypes.DailyFeedback) error {
	_, err := s.c(collDailyFeedback).InsertOne(ctx, fb)
	return wrap("add daily feedback", err)
}

// =============================================================================
// Questions
// =============================================================================

func (s *Store) UpsertQuestions(ctx context.Context, qs []datatypes.Question) error {
	if len(qs) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(qs))
	for _, q := range qs {
		models = append(models, mongo.NewReplaceOneModel().
			SetFilter(bson.M{"_id": q.ID}).
			SetReplacement(q).
			SetUpsert(true))
	}
	_, err := s.c(collQuestions).BulkWrite(ctx, models)
	return wrap("upsert questions", err)
}

func (s *Store) QuestionCategories(ctx context.Context) ([]string, error) {
	raw, err := s.c(collQuestions).Distinct(ctx, "category", bson.M{})
	if err != nil {
		return nil, wrap("question categories", err)
	}
	out := toStrings(raw)
	sort.Strings(out)
	return out, nil
}

func (s *Store) QuestionsByCategory(ctx context.Context, category string) ([]datatypes.Question, error) {
	cur, err := s.c(collQuestions).Find(ctx, bson.M{"category": category},
		options.Find().SetSort(bson.D{{Key: "order", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, wrap("questions by category", err)
	}
	var out []datatypes.Question
	if err := cur.All(ctx, &out); err != nil {
		return nil, wrap("questions by category", err)
	}
	return out, nil
}

// =============================================================================
// Accounts
// =============================================================================

func (s *Store) CreateAccount(ctx context.Context, a *datatypes.Account) error {
	doc := *a
	doc.Email = strings.ToLower(strings.TrimSpace(a.Email))
	_, err := s.c(collUsers).InsertOne(ctx, &doc)
	if mongo.IsDuplicateKeyError(err) {
		return datatypes.Conflictf("User already exists")
	}
	return wrap("create account", err)
}

func (s *Store) GetAccount(ctx context.Context, userID string) (*datatypes.Account, error) {
	var a datatypes.Account
	if err := s.c(collUsers).FindOne(ctx, bson.M{"_id": userID}).Decode(&a); err != nil {
		return nil, wrap("get account", err)
	}
	return &a, nil
}

func (s *Store) GetAccountByEmail(ctx context.Context, email string) (*datatypes.Account, error) {
	var a datatypes.Account
	err := s.c(collUsers).FindOne(ctx, bson.M{"email": strings.ToLower(strings.TrimSpace(email))}).Decode(&a)
	if err != nil {
		return nil, wrap("get account by email", err)
	}
	return &a, nil
}

func (s *Store) UpdateAccountName(ctx context.Context, userID, name string) error {
	res, err := s.c(collUsers).UpdateOne(ctx, bson.M{"_id": userID},
		bson.M{"$set": bson.M{"name": name, "updated_at": s.now().UTC()}})
	if err != nil {
		return wrap("update account", err)
	}
	if res.MatchedCount == 0 {
		return datatypes.NotFoundf("update account: not found")
	}
	return nil
}

func (s *Store) PutRefreshToken(ctx context.Context, t *datatypes.RefreshToken) error {
	if !t.ExpiresAt.After(s.now()) {
		return datatypes.NewValidationError("expires_at", "refresh token already expired")
	}
	_, err := s.c(collRefreshTokens).ReplaceOne(ctx, bson.M{"_id": t.ID}, t, options.Replace().SetUpsert(true))
	return wrap("put refresh token", err)
}

func (s *Store) GetRefreshToken(ctx context.Context, id string) (*datatypes.RefreshToken, error) {
	var t datatypes.RefreshToken
	if err := s.c(collRefreshTokens).FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, wrap("get refresh token", err)
	}
	// The TTL monitor runs about once a minute; do not hand out stale tokens.
	if !t.ExpiresAt.After(s.now()) {
		return nil, datatypes.NotFoundf("get refresh token: not found")
	}
	return &t, nil
}

func (s *Store) DeleteRefreshToken(ctx context.Context, id string) error {
	_, err := s.c(collRefreshTokens).DeleteOne(ctx, bson.M{"_id": id})
	return wrap("delete refresh token", err)
}

func (s *Store) DeleteExpiredRefreshTokens(ctx context.Context, now time.Time) (int, error) {
	res, err := s.c(collRefreshTokens).DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lte": now.UTC()}})
	if err != nil {
		return 0, wrap("delete expired refresh tokens", err)
	}
	return int(res.DeletedCount), nil
}

func toStrings(raw []interface{}) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

var _ store.Store = (*Store)(nil)
