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
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/aira/pkg/logging"
	"github.com/AleutianAI/aira/services/orchestrator"
)

// envPrefix namespaces every environment override.
const envPrefix = "AIRA_"

// defaultConfigPath is read when --config is not given. A missing default
// file is not an error.
const defaultConfigPath = "aira.yaml"

// LogConfig configures pkg/logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// FileConfig is the layout of aira.yaml.
type FileConfig struct {
	orchestrator.Config `yaml:",inline"`
	Log                 LogConfig `yaml:"log"`
}

// envOverride applies one AIRA_* variable.
type envOverride struct {
	name  string
	apply func(cfg *FileConfig, value string) error
}

func setString(dst func(*FileConfig) *string) func(*FileConfig, string) error {
	return func(cfg *FileConfig, v string) error {
		*dst(cfg) = v
		return nil
	}
}

var envOverrides = []envOverride{
	{"PORT", func(cfg *FileConfig, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("not a port: %q", v)
		}
		cfg.Port = port
		return nil
	}},
	{"GIN_MODE", setString(func(c *FileConfig) *string { return &c.GinMode })},
	{"STORE_BACKEND", setString(func(c *FileConfig) *string { return &c.Store.Backend })},
	{"STORE_PATH", setString(func(c *FileConfig) *string { return &c.Store.Path })},
	{"MONGO_URI", setString(func(c *FileConfig) *string { return &c.Store.MongoURI })},
	{"MONGO_DATABASE", setString(func(c *FileConfig) *string { return &c.Store.MongoDatabase })},
	{"LLM_BACKEND", setString(func(c *FileConfig) *string { return &c.LLM.Backend })},
	{"LLM_MODEL", setString(func(c *FileConfig) *string { return &c.LLM.Model })},
	{"LLM_BASE_URL", setString(func(c *FileConfig) *string { return &c.LLM.BaseURL })},
	{"LLM_API_KEY", setString(func(c *FileConfig) *string { return &c.LLM.APIKey })},
	{"LLM_API_KEY_FILE", setString(func(c *FileConfig) *string { return &c.LLM.APIKeyFile })},
	{"WEAVIATE_URL", setString(func(c *FileConfig) *string { return &c.Retrieval.WeaviateURL })},
	{"OLLAMA_URL", setString(func(c *FileConfig) *string { return &c.Retrieval.OllamaURL })},
	{"CORPUS_DIR", setString(func(c *FileConfig) *string { return &c.Retrieval.CorpusDir })},
	{"JWT_SECRET", setString(func(c *FileConfig) *string { return &c.Auth.JWTSecret })},
	{"JWT_SECRET_FILE", setString(func(c *FileConfig) *string { return &c.Auth.JWTSecretFile })},
	{"ADMIN_EMAILS", func(cfg *FileConfig, v string) error {
		cfg.Auth.AdminEmails = nil
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				cfg.Auth.AdminEmails = append(cfg.Auth.AdminEmails, e)
			}
		}
		return nil
	}},
	{"TIMEZONE", setString(func(c *FileConfig) *string { return &c.Memory.TimeZone })},
	{"INFLUX_URL", setString(func(c *FileConfig) *string { return &c.Memory.Influx.URL })},
	{"INFLUX_TOKEN", setString(func(c *FileConfig) *string { return &c.Memory.Influx.Token })},
	{"CLEANUP_RUN_AT", setString(func(c *FileConfig) *string { return &c.Cleanup.RunAt })},
	{"CLEANUP_AUDIT_LOG", setString(func(c *FileConfig) *string { return &c.Cleanup.AuditLogPath })},
	{"TRACE_EXPORTER", setString(func(c *FileConfig) *string { return &c.Telemetry.TraceExporter })},
	{"METRIC_EXPORTER", setString(func(c *FileConfig) *string { return &c.Telemetry.MetricExporter })},
	{"OTLP_ENDPOINT", setString(func(c *FileConfig) *string { return &c.Telemetry.OTLPEndpoint })},
	{"LOG_LEVEL", setString(func(c *FileConfig) *string { return &c.Log.Level })},
	{"LOG_FORMAT", setString(func(c *FileConfig) *string { return &c.Log.Format })},
	{"LOG_DIR", setString(func(c *FileConfig) *string { return &c.Log.Dir })},
}

// LoadConfig reads path, then applies AIRA_* overrides from lookup.
//
// # Inputs
//
//   - path: YAML file. When empty, aira.yaml is read if it exists.
//   - lookup: Environment accessor, normally os.LookupEnv.
//
// # Outputs
//
//   - FileConfig: The merged configuration. Defaults are applied later by
//     the orchestrator.
//   - error: Non-nil for an unreadable or malformed file or a bad override.
func LoadConfig(path string, lookup func(string) (string, bool)) (FileConfig, error) {
	var cfg FileConfig

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}

	for _, o := range envOverrides {
		v, ok := lookup(envPrefix + o.name)
		if !ok {
			continue
		}
		if err := o.apply(&cfg, v); err != nil {
			return cfg, fmt.Errorf("%s%s: %w", envPrefix, o.name, err)
		}
	}
	return cfg, nil
}

// loggingConfig converts the log section for pkg/logging.
func (c LogConfig) loggingConfig(quiet bool) (logging.Config, error) {
	level, err := logging.ParseLevel(c.Level)
	if err != nil {
		return logging.Config{}, err
	}
	format := logging.Format(strings.ToLower(c.Format))
	switch format {
	case logging.FormatAuto, logging.FormatText, logging.FormatJSON:
	default:
		return logging.Config{}, fmt.Errorf("unknown log format %q", c.Format)
	}
	return logging.Config{
		Level:   level,
		Format:  format,
		LogDir:  c.Dir,
		Service: "aira",
		Quiet:   quiet,
	}, nil
}
