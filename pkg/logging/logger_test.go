// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{" warning ", LevelWarn, false},
		{"warn", LevelWarn, false},
		{"Error", LevelError, false},
		{"trace", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestLevel_UnmarshalText(t *testing.T) {
	var l Level
	if err := l.UnmarshalText([]byte("debug")); err != nil || l != LevelDebug {
		t.Errorf("UnmarshalText = %v, %v", l, err)
	}
	if err := l.UnmarshalText([]byte("loud")); err == nil {
		t.Error("expected error for unknown level")
	}
	text, _ := LevelWarn.MarshalText()
	if string(text) != "warn" {
		t.Errorf("MarshalText = %s", text)
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_ConsoleText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelInfo, Service: "svc", Output: &buf})
	defer logger.Close()

	logger.Debug("hidden")
	logger.Info("shown", "k", "v")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record leaked at info level: %s", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "service=svc") || !strings.Contains(out, "k=v") {
		t.Errorf("output = %s", out)
	}
}

func TestNew_ConsoleJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{JSON: true, Output: &buf})
	defer logger.Close()

	logger.Slog().Warn("careful", slog.Int("attempt", 2))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("not JSON: %v (%s)", err, buf.String())
	}
	if rec["msg"] != "careful" || rec["attempt"] != float64(2) {
		t.Errorf("record = %v", rec)
	}
}

func TestNew_QuietWithoutSinks(t *testing.T) {
	logger := New(Config{Quiet: true})
	defer logger.Close()
	logger.Error("discarded")
}

func TestNew_RotatingFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")
	logger := New(Config{Quiet: true, LogDir: dir, Service: "codeheal-test"})

	logger.Info("to file", "session_id", "abc123")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "codeheal-test.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	var rec map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(data), &rec); err != nil {
		t.Fatalf("file log not JSON: %v", err)
	}
	if rec["session_id"] != "abc123" || rec["service"] != "codeheal-test" {
		t.Errorf("record = %v", rec)
	}
}

func TestLogger_ExporterReceivesSlogRecords(t *testing.T) {
	exp := NewBufferedExporter()
	logger := New(Config{Quiet: true, Level: LevelWarn, Service: "svc", Exporter: exp})

	child := logger.With("request_id", "r1")
	child.Slog().Info("filtered")
	child.Slog().Warn("kept", slog.String("k", "v"))
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}

	entries := exp.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
	e := entries[0]
	if e.Message != "kept" || e.Level != LevelWarn || e.Service != "svc" {
		t.Errorf("entry = %+v", e)
	}
	if e.Attrs["k"] != "v" || e.Attrs["request_id"] != "r1" {
		t.Errorf("attrs = %v", e.Attrs)
	}
	if _, ok := e.Attrs["service"]; ok {
		t.Errorf("service must not be duplicated into attrs")
	}
}

type failingExporter struct{ BufferedExporter }

func (f *failingExporter) Flush(ctx context.Context) error { return errors.New("flush failed") }

func TestLogger_CloseReportsExporterError(t *testing.T) {
	logger := New(Config{Quiet: true, Exporter: &failingExporter{}})
	if err := logger.Close(); err == nil || !strings.Contains(err.Error(), "flush failed") {
		t.Errorf("Close err = %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("second Close err = %v", err)
	}
}

func TestLogger_ConcurrentUse(t *testing.T) {
	exp := NewBufferedExporter()
	var buf syncBuffer
	logger := New(Config{Output: &buf, Exporter: exp})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			logger.Info("concurrent", "i", i)
		}(i)
	}
	wg.Wait()
	_ = logger.Close()

	if got := len(exp.Entries()); got != 20 {
		t.Errorf("exported %d entries, want 20", got)
	}
}

// =============================================================================
// Helper Tests
// =============================================================================

func TestMultiHandler_HandlesAllDespiteError(t *testing.T) {
	var buf bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		errHandler{},
		slog.NewTextHandler(&buf, nil),
	}}
	err := slog.New(h).Handler().Handle(context.Background(), slog.Record{Message: "x", Level: slog.LevelInfo})
	if err == nil {
		t.Error("expected first handler error")
	}
	if !strings.Contains(buf.String(), "msg=x") {
		t.Errorf("second handler skipped: %q", buf.String())
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath = %s", got)
	}
	if got := expandPath("/var/log"); got != "/var/log" {
		t.Errorf("expandPath = %s", got)
	}
}

type errHandler struct{}

func (errHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (errHandler) Handle(context.Context, slog.Record) error { return errors.New("boom") }
func (h errHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h errHandler) WithGroup(string) slog.Handler           { return h }

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}
