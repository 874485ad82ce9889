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
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/codeheal/pkg/config"
	"github.com/AleutianAI/codeheal/services/healing/language"
	"github.com/AleutianAI/codeheal/services/healing/runner"
	"github.com/AleutianAI/codeheal/services/telemetry"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if !strings.HasPrefix(out, "codeheal dev") {
		t.Errorf("version output = %q", out)
	}
	if !strings.Contains(out, "python") || !strings.Contains(out, "rust") {
		t.Errorf("version output should list languages: %q", out)
	}
}

func TestHealCommand_RejectsBeforeWiring(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no task", []string{"heal"}, "task description is required"},
		{"bad language", []string{"heal", "--language", "go", "write fizzbuzz"}, "unsupported"},
		{"bad output", []string{"heal", "--output", "xml", "write fizzbuzz"}, "unknown output mode"},
		{"args and file", []string{"heal", "--file", "task.txt", "write fizzbuzz"}, "not both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(strings.ToLower(err.Error()), tt.want) {
				t.Errorf("error = %q, want it to contain %q", err, tt.want)
			}
		})
	}
}

func TestReadTask(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "task.txt")
	if err := os.WriteFile(path, []byte("  reverse a string\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := readTask([]string{"add", "two", "numbers"}, "", nil)
	if err != nil || got != "add two numbers" {
		t.Errorf("args: got %q, %v", got, err)
	}

	got, err = readTask(nil, path, nil)
	if err != nil || got != "reverse a string" {
		t.Errorf("file: got %q, %v", got, err)
	}

	got, err = readTask(nil, "-", strings.NewReader("from stdin\n"))
	if err != nil || got != "from stdin" {
		t.Errorf("stdin: got %q, %v", got, err)
	}

	if _, err := readTask(nil, filepath.Join(dir, "missing.txt"), nil); err == nil {
		t.Error("missing file should fail")
	}
}

func TestRun_ExitCodes(t *testing.T) {
	if code := run(context.Background(), []string{"version"}); code != 0 {
		t.Errorf("version exit = %d, want 0", code)
	}
	if code := run(context.Background(), []string{"no-such-command"}); code != 2 {
		t.Errorf("unknown command exit = %d, want 2", code)
	}
}

func TestTelemetryConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Telemetry.Traces = "otlp"
	cfg.Telemetry.OTLPEndpoint = "collector:4317"

	tc := telemetryConfig(cfg)
	if tc.TraceExporter != telemetry.ExporterOTLP || tc.OTLPEndpoint != "collector:4317" {
		t.Errorf("telemetryConfig = %+v", tc)
	}
	if tc.MetricExporter != telemetry.ExporterPrometheus {
		t.Errorf("MetricExporter = %q, want prometheus", tc.MetricExporter)
	}
}

func TestBuildRunners_LocalSkipsDocker(t *testing.T) {
	cfg := config.Default().Runner
	cfg.Rust.Isolation = runner.IsolationLocal

	reg, docker := buildRunners(cfg, nil)
	if docker != nil {
		t.Error("local isolation must not create a Docker client")
	}
	for _, lang := range language.All() {
		if _, ok := reg.Get(lang); !ok {
			t.Errorf("registry missing %s runner", lang)
		}
	}
}
