// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator assembles the AIRA service.
//
// This package owns the App type that wires storage, the LLM client,
// retrieval, the conversation services, the retention scheduler and the
// HTTP router, and runs them with graceful shutdown.
//
// # Extension Points
//
// Identity and audit are pluggable through extensions.ServiceOptions:
//   - AuthProvider: bearer token validation. Default: the HS256 JWTProvider
//     that also issues the tokens.
//   - AuditLogger: security and retention events. Default: SlogAuditLogger.
//
// # Usage
//
//	app, err := orchestrator.New(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Close()
//	err = app.Run(ctx)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/aira/pkg/extensions"
	"github.com/AleutianAI/aira/services/llm"
	"github.com/AleutianAI/aira/services/orchestrator/accounts"
	"github.com/AleutianAI/aira/services/orchestrator/assessment"
	"github.com/AleutianAI/aira/services/orchestrator/conversation"
	"github.com/AleutianAI/aira/services/orchestrator/feedback"
	"github.com/AleutianAI/aira/services/orchestrator/handlers"
	"github.com/AleutianAI/aira/services/orchestrator/intake"
	"github.com/AleutianAI/aira/services/orchestrator/kv"
	"github.com/AleutianAI/aira/services/orchestrator/memory"
	"github.com/AleutianAI/aira/services/orchestrator/observability"
	"github.com/AleutianAI/aira/services/orchestrator/retrieval"
	"github.com/AleutianAI/aira/services/orchestrator/routes"
	"github.com/AleutianAI/aira/services/orchestrator/services"
	"github.com/AleutianAI/aira/services/orchestrator/sessions"
	"github.com/AleutianAI/aira/services/orchestrator/store"
	"github.com/AleutianAI/aira/services/orchestrator/store/badgerstore"
	"github.com/AleutianAI/aira/services/orchestrator/store/mongostore"
	"github.com/AleutianAI/aira/services/orchestrator/ttl"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service is the orchestrator lifecycle.
//
// # Thread Safety
//
// Run blocks and should be called once per instance. Close may be called
// from any goroutine after Run returns, or instead of Run.
type Service interface {
	// Run serves HTTP and the background jobs until ctx is cancelled.
	Run(ctx context.Context) error

	// Router returns the configured Gin engine, for tests.
	Router() *gin.Engine

	// Close releases every resource. Safe to call more than once.
	Close() error
}

// =============================================================================
// Options
// =============================================================================

// Option overrides a component New would otherwise build from Config.
type Option func(*buildOptions)

type buildOptions struct {
	ext        *extensions.ServiceOptions
	llm        llm.LLMClient
	store      store.Store
	index      retrieval.Index
	registerer prometheus.Registerer
	logger     *slog.Logger
}

// WithServiceOptions installs custom identity and audit implementations.
func WithServiceOptions(opts extensions.ServiceOptions) Option {
	return func(b *buildOptions) { b.ext = &opts }
}

// WithLLM uses client instead of the configured backend.
func WithLLM(client llm.LLMClient) Option {
	return func(b *buildOptions) { b.llm = client }
}

// WithStore uses s instead of opening the configured backend. The App
// takes ownership and closes it.
func WithStore(s store.Store) Option {
	return func(b *buildOptions) { b.store = s }
}

// WithIndex uses idx as the passage index.
func WithIndex(idx retrieval.Index) Option {
	return func(b *buildOptions) { b.index = idx }
}

// WithRegisterer registers business metrics on reg instead of the default
// Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(b *buildOptions) { b.registerer = reg }
}

// WithLogger sets the root logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(b *buildOptions) { b.logger = logger }
}

// =============================================================================
// Implementation
// =============================================================================

// App holds every wired component.
//
// # Thread Safety
//
// Thread-safe after construction. Fields are read-only after New returns.
type App struct {
	config Config
	opts   extensions.ServiceOptions
	logger *slog.Logger

	store    store.Store
	llm      llm.LLMClient
	index    retrieval.Index
	ingester *retrieval.Ingester
	metrics  *observability.Metrics

	historyKV kv.Store[conversation.Entry]
	stateKV   kv.Store[assessment.State]

	accounts     *accounts.Service
	sessions     *sessions.Manager
	conversation *services.ConversationService
	consolidator *memory.Consolidator
	feedback     *feedback.Service
	assessment   *assessment.Machine
	bankWatcher  *assessment.BankWatcher

	cleaner   *ttl.Cleaner
	auditLog  *ttl.AuditLog
	scheduler *ttl.Scheduler

	router            *gin.Engine
	telemetryShutdown func(context.Context) error
	closers           []func() error
	closed            bool
}

// =============================================================================
// Constructor
// =============================================================================

// New builds an App from cfg.
//
// # Description
//
// New initializes, in order:
//  1. Telemetry (tracer and meter providers)
//  2. The store (badger, in-memory badger or Mongo)
//  3. The LLM client and the passage index
//  4. Accounts, sessions, intake, chat, memory, feedback and assessment
//  5. The retention cleaner and its nightly scheduler (not started)
//  6. The HTTP router
//
// On failure everything already opened is closed.
//
// # Inputs
//
//   - ctx: Bounds startup I/O (store connect, schema, seeding).
//   - cfg: Configuration. Zero values use defaults.
//   - opts: Component overrides, mostly for tests.
//
// # Outputs
//
//   - *App: Ready to Run. Close must be called.
//   - error: Non-nil if a required component fails to initialize.
func New(ctx context.Context, cfg Config, opts ...Option) (*App, error) {
	var b buildOptions
	for _, o := range opts {
		o(&b)
	}
	a := &App{config: applyConfigDefaults(cfg), logger: b.logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if b.ext != nil {
		a.opts = *b.ext
	}

	if err := a.build(ctx, &b); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, b *buildOptions) error {
	shutdown, err := observability.InitTelemetry(ctx, a.config.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a.telemetryShutdown = shutdown

	reg := b.registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	a.metrics = observability.NewMetrics(reg)

	if err := a.initStore(ctx, b.store); err != nil {
		return err
	}
	if err := a.initLLM(b.llm); err != nil {
		return err
	}
	if err := a.initRetrieval(ctx, b.index); err != nil {
		return err
	}
	if err := a.initServices(ctx); err != nil {
		return err
	}
	if err := a.initCleanup(); err != nil {
		return err
	}
	a.initRouter()
	return nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the scheduler, the question bank watcher and the HTTP server,
// and blocks until ctx is cancelled or the server fails.
//
// # Description
//
// On cancellation the server is shut down gracefully within
// ShutdownTimeout and the background jobs are stopped. Run does not close
// the App; call Close afterwards.
func (a *App) Run(ctx context.Context) error {
	if a.scheduler != nil {
		if err := a.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start cleanup scheduler: %w", err)
		}
		defer a.scheduler.Stop()
		a.logger.Info("Cleanup scheduler started",
			"run_at", a.config.Cleanup.RunAt,
			"next_run", a.scheduler.NextRun(time.Now()).Format(time.RFC3339))
	}
	if a.bankWatcher != nil {
		if err := a.bankWatcher.Start(ctx); err != nil {
			a.logger.Warn("Question bank watcher failed to start", "error", err)
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("Starting AIRA server", "port", a.config.Port, "store", a.config.Store.Backend)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down AIRA server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Router returns the underlying Gin engine.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Close releases all resources in reverse order of acquisition.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	if a.bankWatcher != nil {
		a.bankWatcher.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetryShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.telemetryShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Cleaner is the retention job, for "aira cleanup".
func (a *App) Cleaner() *ttl.Cleaner { return a.cleaner }

// Consolidator is the memory engine, for "aira consolidate".
func (a *App) Consolidator() *memory.Consolidator { return a.consolidator }

// Ingester loads documents into the passage index, for "aira ingest".
func (a *App) Ingester() *retrieval.Ingester { return a.ingester }

// Store is the open store, for "aira seed-questions".
func (a *App) Store() store.Store { return a.store }

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (a *App) initStore(ctx context.Context, injected store.Store) error {
	if injected != nil {
		a.store = injected
		a.closers = append(a.closers, injected.Close)
		return nil
	}

	cfg := a.config.Store
	switch cfg.Backend {
	case StoreBadger, StoreMemory:
		bcfg := badgerstore.DefaultConfig(cfg.Path)
		if cfg.Backend == StoreMemory {
			bcfg = badgerstore.InMemoryConfig()
		}
		bcfg.Logger = a.logger.With("component", "badger")
		st, err := badgerstore.Open(bcfg)
		if err != nil {
			return fmt.Errorf("failed to open badger store: %w", err)
		}
		a.store = st
	case StoreMongo:
		st, err := mongostore.Open(ctx, mongostore.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			return fmt.Errorf("failed to open mongo store: %w", err)
		}
		a.store = st
	default:
		return fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	a.closers = append(a.closers, a.store.Close)
	a.logger.Info("Store opened", "backend", cfg.Backend)
	return nil
}

func (a *App) initLLM(injected llm.LLMClient) error {
	if injected != nil {
		a.llm = injected
		return nil
	}
	client, err := llm.New(a.config.LLM, a.logger.With("component", "llm"))
	if err != nil {
		return fmt.Errorf("failed to initialize LLM client: %w", err)
	}
	a.llm = client
	return nil
}

// initRetrieval picks Weaviate when configured, else the in-process index.
func (a *App) initRetrieval(ctx context.Context, injected retrieval.Index) error {
	rc := a.config.Retrieval
	switch {
	case injected != nil:
		a.index = injected
	case rc.WeaviateURL != "":
		client, err := retrieval.NewWeaviateClient(rc.WeaviateURL)
		if err != nil {
			return fmt.Errorf("failed to create Weaviate client: %w", err)
		}
		embedder, err := llm.NewOllamaEmbedder(llm.OllamaConfig{BaseURL: rc.OllamaURL, EmbeddingModel: rc.EmbeddingModel})
		if err != nil {
			return fmt.Errorf("failed to create embedder: %w", err)
		}
		idx := retrieval.NewWeaviateIndex(client, rc.Class, embedder, a.logger.With("component", "weaviate"))
		if err := idx.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure Weaviate schema: %w", err)
		}
		a.index = idx
		a.logger.Info("Weaviate retrieval initialized", "url", rc.WeaviateURL)
	default:
		a.index = retrieval.NewMemoryIndex()
	}
	a.ingester = retrieval.NewIngester(a.index, a.logger.With("component", "ingest"))

	if rc.WeaviateURL == "" && rc.CorpusDir != "" {
		n, err := a.ingester.IngestDir(ctx, rc.CorpusDir)
		if err != nil {
			return fmt.Errorf("failed to load corpus %s: %w", rc.CorpusDir, err)
		}
		a.logger.Info("Corpus loaded", "dir", rc.CorpusDir, "chunks", n)
	}
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	cfg := a.config
	st := a.store

	// Identity
	secret, err := cfg.Auth.jwtSecret()
	if err != nil {
		return err
	}
	jwt, err := extensions.NewJWTProvider(secret, cfg.Auth.Issuer, cfg.Auth.AccessTTL)
	if err != nil {
		return err
	}
	if a.opts.AuthProvider == nil {
		a.opts.AuthProvider = jwt
	}
	if a.opts.AuditLogger == nil {
		a.opts.AuditLogger = &extensions.SlogAuditLogger{Logger: a.logger}
	}
	a.opts = a.opts.Normalize()
	a.accounts = accounts.NewService(st, jwt, a.opts.AuditLogger, accounts.Config{
		RefreshTTL:  cfg.Auth.RefreshTTL,
		BcryptCost:  cfg.Auth.BcryptCost,
		AdminEmails: cfg.Auth.AdminEmails,
	}, a.logger.With("component", "accounts"))

	// TTL key-value stores: badger-backed when the store is badger.
	a.historyKV, a.stateKV = a.kvStores()
	locks := kv.NewKeyedMutex(0)

	// Conversation
	a.sessions = sessions.NewManager(st, a.logger.With("component", "sessions"))
	history := conversation.NewHistoryCache(a.historyKV, st, conversation.WithLogger(a.logger.With("component", "history")))
	chat := services.NewChatService(services.ChatDeps{
		LLM:       a.llm,
		Retriever: a.index,
		Profiles:  st,
		Feedback:  st,
		Sessions:  a.sessions,
		History:   history,
		Logger:    a.logger.With("component", "chat"),
	}, cfg.Chat)

	rules, err := a.loadRules()
	if err != nil {
		return err
	}
	machine := intake.NewMachine(rules, st, st, a.logger.With("component", "intake"))
	a.conversation = services.NewConversationService(a.sessions, machine, chat, history, locks, a.logger.With("component", "conversation"))

	// Memory
	loc, _, err := memory.LoadZone(cfg.Memory.TimeZone)
	if err != nil {
		return fmt.Errorf("memory.timezone: %w", err)
	}
	var trend memory.TrendSink = memory.NopTrendSink{}
	if cfg.Memory.Influx.URL != "" {
		sink, err := memory.NewInfluxTrendSink(cfg.Memory.Influx)
		if err != nil {
			return fmt.Errorf("failed to create Influx trend sink: %w", err)
		}
		a.closers = append(a.closers, func() error { sink.Close(); return nil })
		trend = sink
	}
	a.consolidator = memory.NewConsolidator(memory.Deps{
		Sessions:   st,
		Sentiments: st,
		Profiles:   st,
		Reminders:  memory.NewReminders(st, a.logger.With("component", "reminders")),
		LLM:        a.llm,
		Trend:      trend,
		Logger:     a.logger.With("component", "memory"),
	}, memory.Config{
		Location:      loc,
		RetentionDays: cfg.Memory.RetentionDays,
		Parallelism:   cfg.Memory.Parallelism,
	})
	a.feedback = feedback.NewService(st, st, a.consolidator, a.logger.With("component", "feedback"))

	// Assessment
	if err := a.seedQuestions(ctx); err != nil {
		return err
	}
	a.assessment = assessment.NewMachine(st, st, a.stateKV, locks, a.logger.With("component", "assessment"))
	if cfg.Assessment.Watch && cfg.Assessment.QuestionsFile != "" {
		w, err := assessment.NewBankWatcher(cfg.Assessment.QuestionsFile, st, a.logger.With("component", "bank"))
		if err != nil {
			return err
		}
		a.bankWatcher = w
	}
	return nil
}

// kvStores returns the history cache and assessment state stores.
func (a *App) kvStores() (kv.Store[conversation.Entry], kv.Store[assessment.State]) {
	if bs, ok := a.store.(*badgerstore.Store); ok {
		return kv.NewBadgerStore[conversation.Entry](bs.DB(), "history"),
			kv.NewBadgerStore[assessment.State](bs.DB(), "assessment")
	}
	return kv.NewMemoryStore[conversation.Entry](), kv.NewMemoryStore[assessment.State]()
}

func (a *App) loadRules() (*intake.Rules, error) {
	path := a.config.Intake.RulesFile
	if path == "" {
		return intake.DefaultRules()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read intake rules: %w", err)
	}
	return intake.ParseRules(data)
}

// seedQuestions loads the configured bank, or the built-in one when the
// store has no questions yet.
func (a *App) seedQuestions(ctx context.Context) error {
	if path := a.config.Assessment.QuestionsFile; path != "" {
		qs, err := assessment.LoadBankFile(path)
		if err != nil {
			return err
		}
		return assessment.Seed(ctx, a.store, qs)
	}
	cats, err := a.store.QuestionCategories(ctx)
	if err != nil {
		return fmt.Errorf("read question categories: %w", err)
	}
	if len(cats) > 0 {
		return nil
	}
	qs, err := assessment.DefaultBank()
	if err != nil {
		return err
	}
	a.logger.Info("Seeding built-in question bank", "questions", len(qs))
	return assessment.Seed(ctx, a.store, qs)
}

func (a *App) initCleanup() error {
	cfg := a.config.Cleanup
	if path := cfg.AuditLogPath; path != "-" {
		auditLog, err := ttl.OpenAuditLog(path, a.logger.With("component", "cleanup_audit"))
		if err != nil {
			return fmt.Errorf("failed to open cleanup audit log: %w", err)
		}
		a.auditLog = auditLog
		a.closers = append(a.closers, auditLog.Close)
	}

	a.cleaner = ttl.NewCleaner(a.store, a.store, ttl.CleanerConfig{
		SessionRetention: cfg.SessionRetention,
		AuditLog:         a.auditLog,
		Audit:            a.opts.AuditLogger,
		Logger:           a.logger.With("component", "cleanup"),
	})
	if p, ok := a.historyKV.(kv.Purger); ok {
		a.cleaner.RegisterPurger("history", p)
	}
	if p, ok := a.stateKV.(kv.Purger); ok {
		a.cleaner.RegisterPurger("assessment", p)
	}

	if cfg.Disabled {
		return nil
	}
	loc, _, err := memory.LoadZone(cfg.TimeZone)
	if err != nil {
		return fmt.Errorf("cleanup.timezone: %w", err)
	}
	a.scheduler, err = ttl.NewScheduler(a.cleaner, a.consolidator, ttl.SchedulerConfig{
		RunAt:      cfg.RunAt,
		Location:   loc,
		RunTimeout: cfg.RunTimeout,
		Logger:     a.logger.With("component", "scheduler"),
	})
	return err
}

// initRouter sets up the Gin HTTP router with all routes.
func (a *App) initRouter() {
	gin.SetMode(a.config.GinMode)
	a.router = gin.New()
	a.router.Use(gin.Recovery(), otelgin.Middleware(a.config.Telemetry.ServiceName))

	routes.SetupRoutes(a.router, routes.Deps{
		Accounts:     a.accounts,
		Conversation: a.conversation,
		Sessions:     a.sessions,
		Feedback:     a.feedback,
		Assessment:   a.assessment,
		Reminders:    a.consolidator.Reminders(),
		Memory:       a.consolidator,
		Cleaner:      a.cleaner,
		Store:        a.store,
		Metrics:      a.metrics,
		Websocket:    handlers.WebsocketConfig{AllowedOrigins: a.config.Websocket.AllowedOrigins},
		Logger:       a.logger.With("component", "http"),
	}, a.opts)
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*App)(nil)
