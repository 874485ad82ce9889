// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/codeheal/pkg/logging"
	"github.com/AleutianAI/codeheal/services/healing/runner"
)

// DefaultSecretsDir is where container runtimes mount secrets.
const DefaultSecretsDir = "/run/secrets"

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Options controls where Load looks.
type Options struct {
	// Path is an optional YAML file. Missing files are an error only
	// when Path was given explicitly.
	Path string

	// EnvFile is loaded into the environment if present. Default: ".env"
	EnvFile string

	// SecretsDir holds one file per secret. Default: DefaultSecretsDir
	SecretsDir string

	// Lookup reads environment variables. Default: os.LookupEnv
	Lookup func(string) (string, bool)
}

// Load reads configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	return LoadWith(Options{Path: path})
}

// LoadWith resolves configuration in order: defaults, YAML file, .env,
// environment variables, secret files. The result is validated.
//
// Outputs:
//
//	*Config - Resolved configuration
//	error - File, parse or validation error (ErrInvalid)
func LoadWith(opts Options) (*Config, error) {
	if opts.EnvFile == "" {
		opts.EnvFile = ".env"
	}
	if opts.SecretsDir == "" {
		opts.SecretsDir = DefaultSecretsDir
	}
	if opts.Lookup == nil {
		opts.Lookup = os.LookupEnv
	}

	cfg := Default()

	if opts.Path != "" {
		data, err := os.ReadFile(opts.Path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", opts.Path, err)
		}
	}

	// godotenv never overrides variables that are already set.
	if _, err := os.Stat(opts.EnvFile); err == nil {
		if err := godotenv.Load(opts.EnvFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", opts.EnvFile, err)
		}
	}

	if err := applyEnv(cfg, opts.Lookup); err != nil {
		return nil, err
	}
	applySecrets(cfg, opts.SecretsDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalid, err.Error())
	}
	if c.Healing.TotalTimeout > 0 && c.Healing.TestTimeout > c.Healing.TotalTimeout {
		return fmt.Errorf("%w: healing.test_timeout exceeds healing.total_timeout", ErrInvalid)
	}
	if c.Telemetry.Traces == "otlp" && c.Telemetry.OTLPEndpoint == "" {
		return fmt.Errorf("%w: telemetry.otlp_endpoint is required for otlp traces", ErrInvalid)
	}
	return nil
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// envVar binds one environment variable to a setter.
type envVar struct {
	name string
	set  func(c *Config, v string) error
}

var envVars = []envVar{
	{"LLM_BACKEND_TYPE", func(c *Config, v string) error { c.LLM.Backend = strings.ToLower(v); return nil }},
	{"MODEL_NAME", func(c *Config, v string) error { c.LLM.Model = v; return nil }},
	{"OPENAI_BASE_URL", func(c *Config, v string) error {
		if c.LLM.Backend == "" || c.LLM.Backend == "openai" {
			c.LLM.BaseURL = v
		}
		return nil
	}},
	{"OLLAMA_BASE_URL", func(c *Config, v string) error {
		if c.LLM.Backend == "ollama" {
			c.LLM.BaseURL = v
		}
		return nil
	}},
	{"CODEHEAL_HOST", func(c *Config, v string) error { c.Server.Host = v; return nil }},
	{"CODEHEAL_PORT", func(c *Config, v string) error { return setInt(&c.Server.Port, v) }},
	{"CODEHEAL_RATE_LIMIT", func(c *Config, v string) error { return setFloat(&c.Server.RateLimit, v) }},
	{"PRICING_INPUT_COST_PER_1M", func(c *Config, v string) error { return setFloat(&c.Pricing.InputPerMillion, v) }},
	{"PRICING_OUTPUT_COST_PER_1M", func(c *Config, v string) error { return setFloat(&c.Pricing.OutputPerMillion, v) }},
	{"CODEHEAL_TEST_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Healing.TestTimeout, v) }},
	{"CODEHEAL_TOTAL_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Healing.TotalTimeout, v) }},
	{"CODEHEAL_WORKSPACE_ROOT", func(c *Config, v string) error { c.Healing.WorkspaceRoot = v; return nil }},
	{"CODEHEAL_PYTHON", func(c *Config, v string) error { c.Runner.PythonInterpreter = v; return nil }},
	{"CODEHEAL_RUST_ISOLATION", func(c *Config, v string) error {
		iso, err := runner.ParseIsolation(v)
		if err != nil {
			return err
		}
		c.Runner.Rust.Isolation = iso
		return nil
	}},
	{"CODEHEAL_RUST_IMAGE", func(c *Config, v string) error { c.Runner.Rust.Image = v; return nil }},
	{"CODEHEAL_HOST_WORKSPACE_ROOT", func(c *Config, v string) error {
		c.Runner.Rust.Paths.HostRoot = v
		if c.Runner.Rust.Paths.LocalRoot == "" {
			c.Runner.Rust.Paths.LocalRoot = c.Healing.WorkspaceRoot
		}
		return nil
	}},
	{"DOCKER_HOST", func(c *Config, v string) error { c.Runner.DockerHost = v; return nil }},
	{"CODEHEAL_PULL_TIMEOUT", func(c *Config, v string) error { return setDuration(&c.Runner.PullTimeout, v) }},
	{"CODEHEAL_PROMPTS_DIR", func(c *Config, v string) error { c.Prompts.Dir = v; return nil }},
	{"CODEHEAL_STORE_PATH", func(c *Config, v string) error { c.Store.Path = v; return nil }},
	{"CODEHEAL_LOG_LEVEL", func(c *Config, v string) error {
		level, err := logging.ParseLevel(v)
		if err != nil {
			return err
		}
		c.Logging.Level = level
		return nil
	}},
	{"CODEHEAL_LOG_DIR", func(c *Config, v string) error { c.Logging.LogDir = v; return nil }},
	{"OTEL_EXPORTER_OTLP_ENDPOINT", func(c *Config, v string) error {
		c.Telemetry.OTLPEndpoint = v
		if c.Telemetry.Traces == "none" {
			c.Telemetry.Traces = "otlp"
		}
		return nil
	}},
}

// applyEnv overlays environment variables in declaration order.
func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for _, ev := range envVars {
		v, ok := lookup(ev.name)
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		if err := ev.set(c, strings.TrimSpace(v)); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrInvalid, ev.name, err.Error())
		}
	}
	c.LLM.APIKey = apiKeyFromEnv(c.LLM.Backend, lookup)
	return nil
}

func apiKeyFromEnv(backend string, lookup func(string) (string, bool)) string {
	name := apiKeyVar(backend)
	if name == "" {
		return ""
	}
	v, _ := lookup(name)
	return strings.TrimSpace(v)
}

func apiKeyVar(backend string) string {
	switch backend {
	case "", "openai":
		return "OPENAI_API_KEY"
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	default:
		return ""
	}
}

// applySecrets fills a missing API key from <dir>/<lowercase var name>.
func applySecrets(c *Config, dir string) {
	if c.LLM.APIKey != "" {
		return
	}
	name := apiKeyVar(c.LLM.Backend)
	if name == "" {
		return
	}
	data, err := os.ReadFile(filepath.Join(dir, strings.ToLower(name)))
	if err != nil {
		return
	}
	c.LLM.APIKey = strings.TrimSpace(string(data))
}

func setInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return err
	}
	*dst = n
	return nil
}

func setFloat(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return err
	}
	*dst = f
	return nil
}

func setDuration(dst *time.Duration, v string) error {
	d, err := time.ParseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}
