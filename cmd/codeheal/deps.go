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
	"log/slog"

	"github.com/AleutianAI/codeheal/pkg/config"
	"github.com/AleutianAI/codeheal/pkg/logging"
	"github.com/AleutianAI/codeheal/services/healing"
	"github.com/AleutianAI/codeheal/services/healing/files"
	"github.com/AleutianAI/codeheal/services/healing/prompts"
	"github.com/AleutianAI/codeheal/services/healing/runner"
	"github.com/AleutianAI/codeheal/services/llm"
	"github.com/AleutianAI/codeheal/services/telemetry"
)

// app holds the wired service graph shared by the commands.
type app struct {
	cfg          *config.Config
	logger       *logging.Logger
	prompts      *prompts.Loader
	detector     *healing.ModelDetector
	orchestrator *healing.Orchestrator
	docker       *runner.DockerExecutor
}

// buildApp wires configuration into a ready orchestrator.
//
// Description:
//
//	config -> logging -> llm backend -> prompt loader -> test runners
//	-> file writer -> workspaces -> detector/generator -> orchestrator
//
// Outputs:
//
//	*app - Caller must call close
//	error - Non-nil if a component cannot be built
func buildApp(cfg *config.Config) (*app, error) {
	logger := logging.New(cfg.Logging)
	logger.Install()
	log := logger.Slog()

	model, err := llm.New(cfg.LLM, log)
	if err != nil {
		_ = logger.Close()
		return nil, fmt.Errorf("llm backend: %w", err)
	}

	loader := prompts.NewLoader(cfg.Prompts.Dir, log)

	tests, docker := buildRunners(cfg.Runner, log)

	detector := healing.NewModelDetector(model, loader, log)
	hcfg := healing.NewConfig(cfg.HealingOptions()...)
	orch, err := healing.NewOrchestrator(hcfg, healing.Dependencies{
		Detector:   detector,
		Workspaces: healing.NewTempWorkspaces(cfg.Healing.WorkspaceRoot, log),
		Generator:  healing.NewModelGenerator(model, loader, hcfg.Temperature, log),
		Writer:     files.NewWriter(files.NewSyntaxInspector(log), log),
		Tests:      tests,
	}, log)
	if err != nil {
		if docker != nil {
			_ = docker.Close()
		}
		_ = logger.Close()
		return nil, err
	}

	log.Info("codeheal ready",
		slog.String("version", version),
		slog.String("backend", cfg.LLM.Backend),
		slog.String("model", cfg.LLM.Model),
		slog.String("rust_isolation", string(cfg.Runner.Rust.Isolation)),
	)

	return &app{
		cfg:          cfg,
		logger:       logger,
		prompts:      loader,
		detector:     detector,
		orchestrator: orch,
		docker:       docker,
	}, nil
}

// buildRunners registers the Python and Rust runners. The Docker API
// client is created only when the rust isolation strategy may use it.
func buildRunners(cfg config.RunnerConfig, log *slog.Logger) (*runner.Registry, *runner.DockerExecutor) {
	exec := runner.NewProcessExecutor(cfg.MaxOutputBytes, log)

	var (
		docker    *runner.DockerExecutor
		container runner.ContainerExecutor
	)
	switch cfg.Rust.Isolation {
	case runner.IsolationAuto, runner.IsolationDocker:
		d, err := runner.NewDockerExecutor(cfg.DockerHost, cfg.MaxOutputBytes, log,
			runner.WithPullTimeout(cfg.PullTimeout))
		if err != nil {
			log.Warn("Docker API unavailable; rust tests run locally",
				slog.String("error", err.Error()))
		} else {
			docker = d
			container = d
		}
	}

	return runner.NewRegistry(log,
		runner.NewPythonRunner(cfg.PythonInterpreter, exec, log),
		runner.NewRustRunner(cfg.Rust, exec, container, log),
	), docker
}

// telemetryConfig maps the telemetry section onto the provider config.
func telemetryConfig(cfg *config.Config) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceName = cfg.Telemetry.ServiceName
	tc.ServiceVersion = version
	tc.TraceExporter = cfg.Telemetry.Traces
	tc.MetricExporter = cfg.Telemetry.Metrics
	tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	tc.OTLPInsecure = cfg.Telemetry.OTLPInsecure
	return tc
}

func (a *app) close() error {
	var errs []error
	if a.docker != nil {
		errs = append(errs, a.docker.Close())
	}
	errs = append(errs, a.logger.Close())
	return errors.Join(errs...)
}
