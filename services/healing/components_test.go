// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package healing

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/AleutianAI/codeheal/services/healing/language"
	"github.com/AleutianAI/codeheal/services/healing/prompts"
	"github.com/AleutianAI/codeheal/services/llm"
)

// recordingModel returns a canned reply and keeps the last request.
type recordingModel struct {
	reply    string
	err      error
	messages []llm.Message
	params   llm.GenerationParams
}

func (m *recordingModel) Model() string { return "recording" }

func (m *recordingModel) Chat(ctx context.Context, messages []llm.Message, params llm.GenerationParams) (*llm.Response, error) {
	m.messages = messages
	m.params = params
	if m.err != nil {
		return nil, m.err
	}
	return &llm.Response{Content: m.reply, Usage: llm.Usage{PromptTokens: 7, CompletionTokens: 3}}, nil
}

// =============================================================================
// Detector
// =============================================================================

func TestParseDetection(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    language.Language
		wantErr bool
	}{
		{"plain", `{"language": "rust"}`, language.Rust, false},
		{"fenced", "```json\n{\"language\": \"python\"}\n```", language.Python, false},
		{"prose", `Sure! {"language":"Rust"} hope that helps`, language.Rust, false},
		{"unsupported", `{"language": "go"}`, "", true},
		{"no json", "python", "", true},
		{"broken json", `{"language": }`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDetection(tt.reply)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestModelDetector_Detect(t *testing.T) {
	model := &recordingModel{reply: `{"language": "rust"}`}
	d := NewModelDetector(model, prompts.NewLoader("", nil), nil)

	lang, usage, err := d.Detect(context.Background(), "implement a borrow checker toy")
	if err != nil {
		t.Fatal(err)
	}
	if lang != language.Rust || usage.Total() != 10 {
		t.Errorf("lang = %s usage = %+v", lang, usage)
	}
	if model.params.Schema == nil || model.params.Schema.Name != "detected_language" {
		t.Errorf("schema not requested: %+v", model.params)
	}
	if len(model.messages) != 2 || model.messages[1].Content != "Task: implement a borrow checker toy" {
		t.Errorf("messages = %+v", model.messages)
	}
	if !strings.Contains(string(model.params.Schema.Schema), `"python","rust"`) {
		t.Errorf("schema enum = %s", model.params.Schema.Schema)
	}
}

func TestModelDetector_Failures(t *testing.T) {
	tests := []struct {
		name  string
		model *recordingModel
	}{
		{"transport", &recordingModel{err: errors.New("dial tcp: refused")}},
		{"unsupported", &recordingModel{reply: `{"language": "cobol"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := NewModelDetector(tt.model, prompts.NewLoader("", nil), nil).Detect(context.Background(), "x")
			var de *DetectionError
			if !errors.As(err, &de) {
				t.Fatalf("err = %v, want *DetectionError", err)
			}
		})
	}
}

// =============================================================================
// Generator
// =============================================================================

func TestModelGenerator_Initial(t *testing.T) {
	model := &recordingModel{reply: "FILE: main.py"}
	g := NewModelGenerator(model, prompts.NewLoader("", nil), 0.2, nil)

	gen, err := g.GenerateInitial(context.Background(), "add numbers", language.Python)
	if err != nil {
		t.Fatal(err)
	}
	if gen.Code != "FILE: main.py" || gen.Usage.Total() != 10 {
		t.Errorf("gen = %+v", gen)
	}
	if len(model.messages) != 2 || model.messages[0].Role != llm.RoleSystem {
		t.Fatalf("messages = %+v", model.messages)
	}
	if model.messages[1].Content != "Task: add numbers\nLanguage: python" {
		t.Errorf("user message = %q", model.messages[1].Content)
	}
	if model.params.Temperature == nil || *model.params.Temperature != 0.2 {
		t.Errorf("temperature = %v", model.params.Temperature)
	}
}

func TestModelGenerator_FixRendersPrompt(t *testing.T) {
	model := &recordingModel{reply: "fixed"}
	g := NewModelGenerator(model, prompts.NewLoader("", nil), 0, nil)

	if _, err := g.GenerateFix(context.Background(), "def f(): pass", "STDERR:\nboom"); err != nil {
		t.Fatal(err)
	}
	if len(model.messages) != 1 || model.messages[0].Role != llm.RoleUser {
		t.Fatalf("messages = %+v", model.messages)
	}
	body := model.messages[0].Content
	if !strings.Contains(body, "def f(): pass") || !strings.Contains(body, "STDERR:\nboom") {
		t.Errorf("fix prompt missing inputs:\n%s", body)
	}
	if strings.Contains(body, "{previous_code}") || strings.Contains(body, "{test_output}") {
		t.Errorf("placeholders left in fix prompt")
	}
}

func TestModelGenerator_PropagatesTransportError(t *testing.T) {
	g := NewModelGenerator(&recordingModel{err: errors.New("timeout")}, prompts.NewLoader("", nil), 0, nil)
	if _, err := g.GenerateInitial(context.Background(), "x", language.Rust); err == nil {
		t.Error("expected error")
	}
}

// =============================================================================
// Workspaces
// =============================================================================

func TestTempWorkspaces_Setup(t *testing.T) {
	root := filepath.Join(t.TempDir(), "nested", "root")
	w := NewTempWorkspaces(root, nil)

	a, err := w.Setup(language.Python)
	if err != nil {
		t.Fatal(err)
	}
	b, err := w.Setup(language.Python)
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Errorf("workspaces must be unique: %s", a)
	}
	if !filepath.IsAbs(a) {
		t.Errorf("workspace %s is not absolute", a)
	}
	if !strings.HasPrefix(filepath.Base(a), "code_healing_python_") {
		t.Errorf("workspace name = %s", filepath.Base(a))
	}
	entries, err := os.ReadDir(a)
	if err != nil || len(entries) != 0 {
		t.Errorf("workspace not empty: %v %v", entries, err)
	}
}

func TestNewTempWorkspaces_DefaultRoot(t *testing.T) {
	if got := NewTempWorkspaces("", nil).Root(); got != DefaultWorkspaceRoot {
		t.Errorf("Root() = %s", got)
	}
}

// =============================================================================
// Config
// =============================================================================

func TestNewConfig_ClampsValues(t *testing.T) {
	cfg := NewConfig(WithTestTimeout(0), WithTotalTimeout(0), WithTemperature(-1))
	if cfg.TestTimeout < 1e9 || cfg.TotalTimeout < cfg.TestTimeout || cfg.Temperature != 0 {
		t.Errorf("cfg = %+v", cfg)
	}
	def := DefaultConfig()
	if def.TestTimeout.Seconds() != 30 || def.TotalTimeout.Minutes() != 10 {
		t.Errorf("defaults = %+v", def)
	}
}
