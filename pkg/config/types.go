// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads codeheal configuration from defaults, an optional
// YAML file, a .env file, the process environment and mounted secrets.
package config

import (
	"time"

	"github.com/AleutianAI/codeheal/pkg/logging"
	"github.com/AleutianAI/codeheal/services/healing"
	"github.com/AleutianAI/codeheal/services/healing/runner"
	"github.com/AleutianAI/codeheal/services/llm"
)

// Config is the root of the configuration tree.
type Config struct {
	Server    ServerConfig    `yaml:"server" json:"server"`
	LLM       llm.Config      `yaml:"llm" json:"llm"`
	Pricing   llm.Pricing     `yaml:"pricing" json:"pricing"`
	Healing   HealingConfig   `yaml:"healing" json:"healing"`
	Runner    RunnerConfig    `yaml:"runner" json:"runner"`
	Prompts   PromptsConfig   `yaml:"prompts" json:"prompts"`
	Store     StoreConfig     `yaml:"store" json:"store"`
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
	Logging   logging.Config  `yaml:"logging" json:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port" validate:"min=1,max=65535"`

	// RateLimit is the sustained number of healing requests per second
	// per client. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gte=0"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst" validate:"gte=0"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// HealingConfig configures sessions.
type HealingConfig struct {
	TestTimeout   time.Duration `yaml:"test_timeout" json:"test_timeout"`
	TotalTimeout  time.Duration `yaml:"total_timeout" json:"total_timeout"`
	Temperature   float32       `yaml:"temperature" json:"temperature" validate:"gte=0,lte=2"`
	WorkspaceRoot string        `yaml:"workspace_root" json:"workspace_root" validate:"required"`
}

// RunnerConfig configures test execution.
type RunnerConfig struct {
	PythonInterpreter string            `yaml:"python_interpreter" json:"python_interpreter" validate:"required"`
	MaxOutputBytes    int               `yaml:"max_output_bytes" json:"max_output_bytes" validate:"gte=0"`
	DockerHost        string            `yaml:"docker_host" json:"docker_host"`
	PullTimeout       time.Duration     `yaml:"pull_timeout" json:"pull_timeout" validate:"gte=0"`
	Rust              runner.RustConfig `yaml:"rust" json:"rust"`
}

// PromptsConfig configures prompt templates.
type PromptsConfig struct {
	// Dir holds *.md overrides. Empty uses only embedded templates.
	Dir string `yaml:"dir" json:"dir"`

	// Watch reloads overrides when files in Dir change.
	Watch bool `yaml:"watch" json:"watch"`
}

// StoreConfig configures the session result store.
type StoreConfig struct {
	// Path is the badger directory. Ignored when InMemory is set.
	Path     string        `yaml:"path" json:"path" validate:"required_without=InMemory"`
	InMemory bool          `yaml:"in_memory" json:"in_memory"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// TelemetryConfig configures trace and metric export.
type TelemetryConfig struct {
	ServiceName string `yaml:"service_name" json:"service_name"`

	// Traces is one of none, stdout, otlp.
	Traces       string `yaml:"traces" json:"traces" validate:"oneof=none stdout otlp"`
	OTLPEndpoint string `yaml:"otlp_endpoint" json:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure" json:"otlp_insecure"`

	// Metrics is one of none, stdout, prometheus.
	Metrics string `yaml:"metrics" json:"metrics" validate:"oneof=none stdout prometheus"`
}

// Default returns the built-in configuration.
func Default() *Config {
	h := healing.DefaultConfig()
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8000,
			RateLimit:       1,
			RateBurst:       5,
			ShutdownTimeout: 15 * time.Second,
		},
		LLM: llm.Config{
			Backend: llm.BackendOpenAI,
			Model:   llm.DefaultOpenAIModel,
		},
		Pricing: llm.DefaultPricing(),
		Healing: HealingConfig{
			TestTimeout:   h.TestTimeout,
			TotalTimeout:  h.TotalTimeout,
			Temperature:   h.Temperature,
			WorkspaceRoot: healing.DefaultWorkspaceRoot,
		},
		Runner: RunnerConfig{
			PythonInterpreter: runner.DefaultPythonInterpreter,
			MaxOutputBytes:    runner.DefaultMaxOutputBytes,
			PullTimeout:       runner.DefaultPullTimeout,
			Rust:              runner.DefaultRustConfig(),
		},
		Store: StoreConfig{
			Path: ".codeheal/sessions",
			TTL:  7 * 24 * time.Hour,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "codeheal",
			Traces:      "none",
			Metrics:     "prometheus",
		},
		Logging: logging.Config{
			Level:   logging.LevelInfo,
			Service: "codeheal",
		},
	}
}

// HealingOptions converts the healing section into functional options.
func (c *Config) HealingOptions() []healing.Option {
	return []healing.Option{
		healing.WithTestTimeout(c.Healing.TestTimeout),
		healing.WithTotalTimeout(c.Healing.TotalTimeout),
		healing.WithTemperature(c.Healing.Temperature),
		healing.WithPricing(c.Pricing),
	}
}
