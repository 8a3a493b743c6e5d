// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/aira/pkg/logging"
)

func envFrom(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "aira.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfig_File(t *testing.T) {
	path := writeConfig(t, `
port: 9000
store:
  backend: mongo
  mongo_uri: mongodb://db:27017
llm:
  backend: ollama
  model: llama3
auth:
  jwt_secret_file: /run/secrets/jwt
  admin_emails: [ops@example.com]
cleanup:
  run_at: "02:15"
  session_retention: 720h
log:
  level: debug
  format: json
`)
	cfg, err := LoadConfig(path, envFrom(nil))
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, "mongo", cfg.Store.Backend)
	assert.Equal(t, "mongodb://db:27017", cfg.Store.MongoURI)
	assert.Equal(t, "ollama", cfg.LLM.Backend)
	assert.Equal(t, "/run/secrets/jwt", cfg.Auth.JWTSecretFile)
	assert.Equal(t, []string{"ops@example.com"}, cfg.Auth.AdminEmails)
	assert.Equal(t, "02:15", cfg.Cleanup.RunAt)
	assert.Equal(t, 720*time.Hour, cfg.Cleanup.SessionRetention)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadConfig_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "port: 9000\nllm:\n  backend: ollama\n")
	cfg, err := LoadConfig(path, envFrom(map[string]string{
		"AIRA_PORT":         "9100",
		"AIRA_LLM_BACKEND":  "groq",
		"AIRA_JWT_SECRET":   strings.Repeat("x", 32),
		"AIRA_ADMIN_EMAILS": "a@example.com, b@example.com,",
		"AIRA_LOG_LEVEL":    "warn",
	}))
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Port)
	assert.Equal(t, "groq", cfg.LLM.Backend)
	assert.Len(t, cfg.Auth.JWTSecret, 32)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.Auth.AdminEmails)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), envFrom(nil))
	assert.Error(t, err, "an explicit path must exist")

	_, err = LoadConfig(writeConfig(t, "port: [1, 2"), envFrom(nil))
	assert.Error(t, err)

	_, err = LoadConfig(writeConfig(t, "port: 1"), envFrom(map[string]string{"AIRA_PORT": "http"}))
	assert.ErrorContains(t, err, "AIRA_PORT")
}

func TestLoadConfig_DefaultPathOptional(t *testing.T) {
	t.Chdir(t.TempDir())
	cfg, err := LoadConfig("", envFrom(map[string]string{"AIRA_STORE_BACKEND": "memory"}))
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.Store.Backend)
}

func TestLogConfig(t *testing.T) {
	lc, err := LogConfig{Level: "error", Format: "JSON", Dir: "/tmp/logs"}.loggingConfig(true)
	require.NoError(t, err)
	assert.Equal(t, logging.LevelError, lc.Level)
	assert.Equal(t, logging.FormatJSON, lc.Format)
	assert.True(t, lc.Quiet)
	assert.Equal(t, "aira", lc.Service)

	_, err = LogConfig{Level: "loud"}.loggingConfig(false)
	assert.Error(t, err)
	_, err = LogConfig{Format: "xml"}.loggingConfig(false)
	assert.Error(t, err)
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "aira dev")
}

func TestIngestRequiresDir(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"ingest"})
	assert.Error(t, root.Execute())
}
