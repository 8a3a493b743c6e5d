// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"log/slog"
	"strings"
)

// Backend names accepted by New.
const (
	BackendGroq   = "groq"
	BackendOpenAI = "openai"
	BackendOllama = "ollama"
)

// Config selects and configures a backend.
type Config struct {
	Backend    string          `yaml:"backend"`
	Model      string          `yaml:"model"`
	BaseURL    string          `yaml:"base_url"`
	APIKey     string          `yaml:"api_key"`
	APIKeyFile string          `yaml:"api_key_file"`
	Persona    string          `yaml:"persona"`
	Resilience ResilientConfig `yaml:"-"`
}

// New builds the configured backend wrapped in a ResilientClient.
func New(cfg Config, logger *slog.Logger) (LLMClient, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	var (
		base LLMClient
		err  error
	)
	switch backend {
	case "", BackendGroq:
		backend = BackendGroq
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = GroqBaseURL
		}
		model := cfg.Model
		if model == "" {
			model = DefaultGroqModel
		}
		base, err = NewOpenAIClient(OpenAIConfig{
			APIKey: cfg.APIKey, APIKeyFile: cfg.APIKeyFile,
			BaseURL: baseURL, Model: model, SystemPrompt: cfg.Persona,
		})
	case BackendOpenAI:
		base, err = NewOpenAIClient(OpenAIConfig{
			APIKey: cfg.APIKey, APIKeyFile: cfg.APIKeyFile,
			BaseURL: cfg.BaseURL, Model: cfg.Model, SystemPrompt: cfg.Persona,
		})
	case BackendOllama:
		base, err = NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
	default:
		return nil, fmt.Errorf("unknown llm backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, err
	}

	rc := cfg.Resilience
	if rc == (ResilientConfig{}) {
		rc = DefaultResilientConfig(backend)
	}
	if rc.Backend == "" {
		rc.Backend = backend
	}
	return NewResilientClient(base, rc, logger), nil
}
