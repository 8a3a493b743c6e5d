// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/aira/pkg/extensions"
	"github.com/AleutianAI/aira/services/llm"
	"github.com/AleutianAI/aira/services/orchestrator/memory"
	"github.com/AleutianAI/aira/services/orchestrator/observability"
	"github.com/AleutianAI/aira/services/orchestrator/retrieval"
	"github.com/AleutianAI/aira/services/orchestrator/services"
	"github.com/AleutianAI/aira/services/orchestrator/ttl"
)

// =============================================================================
// Configuration
// =============================================================================

// Store backends.
const (
	StoreBadger = "badger"
	StoreMongo  = "mongo"
	// StoreMemory is badger without a directory. Everything is lost on exit.
	StoreMemory = "memory"
)

// Config holds orchestrator configuration options.
//
// # Description
//
// Config mirrors aira.yaml. Zero values are replaced by applyConfigDefaults;
// only Auth.JWTSecret (or JWTSecretFile) is required.
//
// # Examples
//
//	cfg := Config{
//	    Port:  12210,
//	    Store: StoreConfig{Backend: "badger", Path: "./data/aira"},
//	    Auth:  AuthConfig{JWTSecretFile: "/run/secrets/aira_jwt"},
//	}
type Config struct {
	// Port is the HTTP server port. Default: 12210
	Port int `yaml:"port"`

	// GinMode is "debug", "release" or "test". Default: release
	GinMode string `yaml:"gin_mode"`

	// ShutdownTimeout bounds graceful HTTP shutdown. Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	Store      StoreConfig                   `yaml:"store"`
	LLM        llm.Config                    `yaml:"llm"`
	Retrieval  RetrievalConfig               `yaml:"retrieval"`
	Auth       AuthConfig                    `yaml:"auth"`
	Chat       services.ChatConfig           `yaml:"chat"`
	Memory     MemoryConfig                  `yaml:"memory"`
	Cleanup    CleanupConfig                 `yaml:"cleanup"`
	Assessment AssessmentConfig              `yaml:"assessment"`
	Intake     IntakeConfig                  `yaml:"intake"`
	Telemetry  observability.TelemetryConfig `yaml:"telemetry"`
	Websocket  WebsocketConfig               `yaml:"websocket"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is "badger", "mongo" or "memory". Default: badger
	Backend string `yaml:"backend"`
	// Path is the badger directory. Default: ./data/aira
	Path string `yaml:"path"`
	// MongoURI and MongoDatabase locate the Mongo deployment.
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// RetrievalConfig selects the passage index.
//
// With WeaviateURL empty an in-process lexical index is used and CorpusDir,
// if set, is loaded into it at startup. With Weaviate the corpus is loaded
// by "aira ingest".
type RetrievalConfig struct {
	WeaviateURL    string `yaml:"weaviate_url"`
	Class          string `yaml:"class"`
	OllamaURL      string `yaml:"ollama_url"`
	EmbeddingModel string `yaml:"embedding_model"`
	CorpusDir      string `yaml:"corpus_dir"`
}

// AuthConfig configures tokens and accounts.
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwt_secret"`
	JWTSecretFile string        `yaml:"jwt_secret_file"`
	Issuer        string        `yaml:"issuer"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
	AdminEmails   []string      `yaml:"admin_emails"`
}

// MemoryConfig tunes consolidation.
type MemoryConfig struct {
	// TimeZone decides which calendar day a message belongs to. Default: UTC
	TimeZone      string              `yaml:"timezone"`
	RetentionDays int                 `yaml:"retention_days"`
	Parallelism   int                 `yaml:"parallelism"`
	Influx        memory.InfluxConfig `yaml:"influx"`
}

// CleanupConfig configures the nightly retention job.
type CleanupConfig struct {
	Disabled         bool          `yaml:"disabled"`
	RunAt            string        `yaml:"run_at"`
	TimeZone         string        `yaml:"timezone"`
	SessionRetention time.Duration `yaml:"session_retention"`
	// AuditLogPath is the hash-chained run log. "-" disables it.
	AuditLogPath string        `yaml:"audit_log_path"`
	RunTimeout   time.Duration `yaml:"run_timeout"`
}

// AssessmentConfig locates the question bank.
type AssessmentConfig struct {
	// QuestionsFile replaces the built-in bank when set.
	QuestionsFile string `yaml:"questions_file"`
	// Watch reloads QuestionsFile on change.
	Watch bool `yaml:"watch"`
}

// IntakeConfig locates the intake rules.
type IntakeConfig struct {
	// RulesFile replaces the built-in rules when set.
	RulesFile string `yaml:"rules_file"`
}

// WebsocketConfig restricts websocket origins. Empty allows any.
type WebsocketConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// applyConfigDefaults fills in missing configuration values.
func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 12210
	}
	if cfg.GinMode == "" {
		cfg.GinMode = "release"
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = StoreBadger
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "./data/aira"
	}
	if cfg.Store.MongoDatabase == "" {
		cfg.Store.MongoDatabase = "aira"
	}
	if cfg.Retrieval.Class == "" {
		cfg.Retrieval.Class = retrieval.DefaultWeaviateClass
	}
	if cfg.Retrieval.OllamaURL == "" {
		cfg.Retrieval.OllamaURL = "http://localhost:11434"
	}
	if cfg.Retrieval.EmbeddingModel == "" {
		cfg.Retrieval.EmbeddingModel = "nomic-embed-text"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "aira"
	}
	if cfg.Memory.TimeZone == "" {
		cfg.Memory.TimeZone = "UTC"
	}
	if cfg.Cleanup.RunAt == "" {
		cfg.Cleanup.RunAt = ttl.DefaultRunAt
	}
	if cfg.Cleanup.SessionRetention <= 0 {
		cfg.Cleanup.SessionRetention = ttl.DefaultSessionRetention
	}
	if cfg.Cleanup.AuditLogPath == "" {
		cfg.Cleanup.AuditLogPath = "./data/cleanup_audit.log"
	}
	if cfg.Telemetry == (observability.TelemetryConfig{}) {
		cfg.Telemetry = observability.DefaultTelemetryConfig()
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "aira"
	}
	return cfg
}

// jwtSecret resolves the signing secret from the file or the inline value.
func (a AuthConfig) jwtSecret() ([]byte, error) {
	secret := a.JWTSecret
	if a.JWTSecretFile != "" {
		data, err := os.ReadFile(a.JWTSecretFile)
		if err != nil {
			return nil, fmt.Errorf("read jwt secret file: %w", err)
		}
		secret = strings.TrimSpace(string(data))
	}
	if len(secret) < extensions.MinJWTSecretLen {
		return nil, fmt.Errorf("auth.jwt_secret must be at least %d bytes", extensions.MinJWTSecretLen)
	}
	return []byte(secret), nil
}
