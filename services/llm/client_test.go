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
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// =============================================================================
// Mock Server Helpers
// =============================================================================

// newJSONServer serves one JSON body for path and records the decoded request.
func newJSONServer(t *testing.T, path string, body any, captured *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != path {
			http.Error(w, "unexpected path "+r.URL.Path, http.StatusNotFound)
			return
		}
		if captured != nil {
			_ = json.NewDecoder(r.Body).Decode(captured)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

var detectionSchema = &ResponseSchema{
	Name:   "detected_language",
	Schema: json.RawMessage(`{"type":"object","properties":{"language":{"type":"string","enum":["python","rust"]}},"required":["language"],"additionalProperties":false}`),
}

// =============================================================================
// OpenAI
// =============================================================================

func TestOpenAIClient_Chat(t *testing.T) {
	var req map[string]any
	srv := newJSONServer(t, "/v1/chat/completions", map[string]any{
		"id": "chatcmpl-1", "object": "chat.completion", "created": 1, "model": "gpt-4o",
		"choices": []any{map[string]any{
			"index": 0, "finish_reason": "stop",
			"message": map[string]any{"role": "assistant", "content": `{"language":"rust"}`},
		}},
		"usage": map[string]any{"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17},
	}, &req)

	c, err := NewOpenAIClient("sk-test", "", srv.URL+"/v1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Model() != DefaultOpenAIModel {
		t.Errorf("Model() = %s", c.Model())
	}

	resp, err := c.Chat(context.Background(), []Message{System("sys"), User("Task: x")}, GenerationParams{Schema: detectionSchema})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != `{"language":"rust"}` || resp.Usage.PromptTokens != 12 || resp.Usage.CompletionTokens != 5 {
		t.Errorf("resp = %+v", resp)
	}

	format, _ := req["response_format"].(map[string]any)
	if format["type"] != "json_schema" {
		t.Errorf("response_format = %v", req["response_format"])
	}
	msgs, _ := req["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages = %v", req["messages"])
	}
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := newJSONServer(t, "/v1/chat/completions", map[string]any{"id": "x", "choices": []any{}}, nil)
	c, _ := NewOpenAIClient("sk-test", "gpt-4o", srv.URL+"/v1", nil)

	if _, err := c.Chat(context.Background(), []Message{User("hi")}, GenerationParams{}); !errors.Is(err, ErrEmptyResponse) {
		t.Errorf("err = %v, want ErrEmptyResponse", err)
	}
}

// =============================================================================
// Anthropic
// =============================================================================

func TestAnthropicClient_Chat(t *testing.T) {
	var req map[string]any
	srv := newJSONServer(t, "/v1/messages", map[string]any{
		"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
		"content":     []any{map[string]any{"type": "text", "text": "FILE: main.py"}},
		"stop_reason": "end_turn",
		"usage":       map[string]any{"input_tokens": 20, "output_tokens": 7},
	}, &req)

	c, err := NewAnthropicClient("key", "claude-test", srv.URL+"/", nil)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := c.Chat(context.Background(), []Message{System("be terse"), User("Task: x")}, GenerationParams{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "FILE: main.py" || resp.Usage.PromptTokens != 20 || resp.Usage.CompletionTokens != 7 {
		t.Errorf("resp = %+v", resp)
	}

	system, _ := req["system"].([]any)
	if len(system) != 1 {
		t.Fatalf("system = %v", req["system"])
	}
	if block, _ := system[0].(map[string]any); block["text"] != "be terse" {
		t.Errorf("system block = %v", block)
	}
	if msgs, _ := req["messages"].([]any); len(msgs) != 1 {
		t.Errorf("system turn must not be sent as a message: %v", req["messages"])
	}
}

// =============================================================================
// Ollama
// =============================================================================

func TestOllamaClient_Chat(t *testing.T) {
	var req map[string]any
	srv := newJSONServer(t, "/api/chat", map[string]any{
		"model": "m", "created_at": "2025-01-01T00:00:00Z",
		"message":           map[string]any{"role": "assistant", "content": `{"language":"python"}`},
		"done":              true,
		"done_reason":       "stop",
		"prompt_eval_count": 9,
		"eval_count":        4,
	}, &req)

	c, err := NewOllamaClient(srv.URL, "m", nil)
	if err != nil {
		t.Fatal(err)
	}
	temp := float32(0.2)
	resp, err := c.Chat(context.Background(), []Message{User("Task: x")}, GenerationParams{Temperature: &temp, Schema: detectionSchema})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != `{"language":"python"}` || resp.Usage.PromptTokens != 9 || resp.Usage.CompletionTokens != 4 {
		t.Errorf("resp = %+v", resp)
	}
	if req["stream"] != false {
		t.Errorf("stream = %v, want false", req["stream"])
	}
	if _, ok := req["format"].(map[string]any); !ok {
		t.Errorf("format = %v, want schema object", req["format"])
	}
}

// =============================================================================
// Traced / Tokens / Factory
// =============================================================================

type stubModel struct {
	resp *Response
	err  error
}

func (s *stubModel) Model() string { return "stub" }
func (s *stubModel) Chat(context.Context, []Message, GenerationParams) (*Response, error) {
	return s.resp, s.err
}

func TestTraced_EstimatesMissingUsage(t *testing.T) {
	m := Traced(&stubModel{resp: &Response{Content: strings.Repeat("word ", 50)}}, "stub", nil)

	resp, err := m.Chat(context.Background(), []Message{User("count these tokens please")}, GenerationParams{})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Usage.Estimated || resp.Usage.PromptTokens == 0 || resp.Usage.CompletionTokens == 0 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestTraced_KeepsReportedUsage(t *testing.T) {
	m := Traced(&stubModel{resp: &Response{Content: "x", Usage: Usage{PromptTokens: 3, CompletionTokens: 1}}}, "stub", nil)
	resp, _ := m.Chat(context.Background(), nil, GenerationParams{})
	if resp.Usage.Estimated || resp.Usage.Total() != 4 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestTraced_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	if _, err := Traced(&stubModel{err: boom}, "stub", nil).Chat(context.Background(), nil, GenerationParams{}); !errors.Is(err, boom) {
		t.Errorf("err = %v", err)
	}
}

func TestPricing_Cost(t *testing.T) {
	got := DefaultPricing().Cost(Usage{PromptTokens: 1_000_000, CompletionTokens: 500_000})
	if math.Abs(got-7.50) > 1e-9 {
		t.Errorf("Cost = %f, want 7.50", got)
	}
}

func TestUsage_Add(t *testing.T) {
	got := Usage{PromptTokens: 1, CompletionTokens: 2}.Add(Usage{PromptTokens: 3, CompletionTokens: 4, Estimated: true})
	if got.PromptTokens != 4 || got.CompletionTokens != 6 || !got.Estimated {
		t.Errorf("Add = %+v", got)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr error
	}{
		{"unknown backend", Config{Backend: "bard"}, ErrUnknownBackend},
		{"openai needs key", Config{Backend: BackendOpenAI}, ErrMissingAPIKey},
		{"anthropic needs key", Config{Backend: BackendAnthropic}, ErrMissingAPIKey},
		{"ollama needs no key", Config{Backend: BackendOllama}, nil},
		{"default backend is openai", Config{APIKey: "sk"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(tt.cfg, nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil || m == nil {
				t.Errorf("New() = %v, %v", m, err)
			}
		})
	}
}
