// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for codeheal binaries.
//
// Every component logs through a *slog.Logger obtained from Logger.Slog.
// A Logger fans records out to up to three destinations:
//
//	┌─────────────────────────────────────────────────────────┐
//	│                        Logger                           │
//	│  ┌────────────┐  ┌──────────────────┐  ┌─────────────┐  │
//	│  │   stderr   │  │ rotating file    │  │ LogExporter │  │
//	│  │ text/json  │  │ json, lumberjack │  │  (async)    │  │
//	│  └────────────┘  └──────────────────┘  └─────────────┘  │
//	└─────────────────────────────────────────────────────────┘
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "codeheal"})
//	defer logger.Close()
//	orch, _ := healing.NewOrchestrator(cfg, deps, logger.Slog())
//
// # Security Considerations
//
// This package does NOT redact. Never log API keys; log their presence:
//
//	logger.Info("backend configured", "api_key_present", key != "")
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels, ordered Debug < Info < Warn < Error.
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for recoverable problems.
	LevelWarn

	// LevelError is for failed operations.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a case-insensitive name into a Level.
// "warning" is accepted as an alias of "warn".
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(strings.ToLower(l.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so levels can be
// read directly from YAML and environment variables.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// toSlogLevel converts our Level to slog.Level.
func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fromSlogLevel(l slog.Level) Level {
	switch {
	case l < slog.LevelInfo:
		return LevelDebug
	case l < slog.LevelWarn:
		return LevelInfo
	case l < slog.LevelError:
		return LevelWarn
	default:
		return LevelError
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Config configures the Logger. A zero value logs Info+ as text to stderr.
type Config struct {
	// Level sets the minimum log level.
	// Default: LevelInfo
	Level Level `yaml:"level" json:"level"`

	// JSON switches the console handler to JSON.
	// File logs are always JSON.
	JSON bool `yaml:"json" json:"json"`

	// Quiet disables console output.
	Quiet bool `yaml:"quiet" json:"quiet"`

	// Service is attached to every record as "service".
	Service string `yaml:"service" json:"service"`

	// LogDir enables rotating file output to {LogDir}/{Service}.log.
	// Supports ~ expansion. Default: "" (disabled)
	LogDir string `yaml:"log_dir" json:"log_dir"`

	// MaxSizeMB is the size at which the log file rotates.
	// Default: 50
	MaxSizeMB int `yaml:"max_size_mb" json:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	// Default: 5
	MaxBackups int `yaml:"max_backups" json:"max_backups"`

	// MaxAgeDays removes rotated files older than this. 0 keeps them.
	MaxAgeDays int `yaml:"max_age_days" json:"max_age_days"`

	// Output overrides the console writer. Default: os.Stderr
	Output io.Writer `yaml:"-" json:"-"`

	// Exporter receives every record asynchronously.
	Exporter LogExporter `yaml:"-" json:"-"`
}

// =============================================================================
// Export Interface
// =============================================================================

// LogExporter forwards log entries to an external system.
//
// Export is called from a single background goroutine, so
// implementations need not be reentrant. Flush and Close are called once
// from Logger.Close after the queue drains.
type LogExporter interface {
	Export(ctx context.Context, entry LogEntry) error
	Flush(ctx context.Context) error
	Close() error
}

// LogEntry is a structured record handed to a LogExporter.
type LogEntry struct {
	Timestamp time.Time
	Level     Level
	Message   string
	Service   string
	Attrs     map[string]any
}

// exportQueueSize bounds memory when the exporter falls behind.
const exportQueueSize = 1024

// =============================================================================
// Logger
// =============================================================================

// Logger owns the handlers and resources behind a *slog.Logger.
//
// Thread Safety: Safe for concurrent use.
type Logger struct {
	slog   *slog.Logger
	config Config

	rotator *lumberjack.Logger
	export  *exportPipe
}

// New creates a Logger. It must be closed with Close to flush the
// exporter and release the log file.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	logger := &Logger{config: config}

	var handlers []slog.Handler

	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if config.JSON {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	if config.LogDir != "" {
		logDir := expandPath(config.LogDir)
		if err := os.MkdirAll(logDir, 0o750); err == nil {
			service := config.Service
			if service == "" {
				service = "codeheal"
			}
			logger.rotator = &lumberjack.Logger{
				Filename:   filepath.Join(logDir, service+".log"),
				MaxSize:    orDefault(config.MaxSizeMB, 50),
				MaxBackups: orDefault(config.MaxBackups, 5),
				MaxAge:     config.MaxAgeDays,
				Compress:   true,
			}
			handlers = append(handlers, slog.NewJSONHandler(logger.rotator, opts))
		}
	}

	if config.Exporter != nil {
		logger.export = newExportPipe(config.Exporter)
		handlers = append(handlers, &exportHandler{
			pipe:    logger.export,
			level:   config.Level,
			service: config.Service,
		})
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}

	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info-level stderr logger for the "codeheal" service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "codeheal"})
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// Install makes this logger the process-wide slog default.
func (l *Logger) Install() {
	slog.SetDefault(l.slog)
}

// Debug logs at Debug level.
func (l *Logger) Debug(msg string, args ...any) { l.slog.Debug(msg, args...) }

// Info logs at Info level.
func (l *Logger) Info(msg string, args ...any) { l.slog.Info(msg, args...) }

// Warn logs at Warn level.
func (l *Logger) Warn(msg string, args ...any) { l.slog.Warn(msg, args...) }

// Error logs at Error level.
func (l *Logger) Error(msg string, args ...any) { l.slog.Error(msg, args...) }

// With returns a Logger sharing this logger's resources with extra
// attributes. Only the root Logger should be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		slog:    l.slog.With(args...),
		config:  l.config,
		rotator: l.rotator,
		export:  l.export,
	}
}

// Close drains and closes the exporter, then closes the log file.
//
// Outputs:
//
//	error - First error encountered during cleanup
func (l *Logger) Close() error {
	var errs []error

	if l.export != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, l.export.close(ctx)...)
	}

	if l.rotator != nil {
		if err := l.rotator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close log file: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

// Enabled returns true if any handler is enabled for the level.
func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle sends the record to all enabled handlers. Every handler sees
// the record even if an earlier one fails.
func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil && first == nil {
				first = err
			}
		}
	}
	return first
}

// WithAttrs returns a new handler with additional attributes.
func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

// WithGroup returns a new handler with a group name.
func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Export Handler (Internal)
// =============================================================================

// exportPipe delivers entries to an exporter from one goroutine.
type exportPipe struct {
	exporter LogExporter
	queue    chan LogEntry
	done     chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newExportPipe(exporter LogExporter) *exportPipe {
	p := &exportPipe{
		exporter: exporter,
		queue:    make(chan LogEntry, exportQueueSize),
		done:     make(chan struct{}),
	}
	go p.loop()
	return p
}

func (p *exportPipe) loop() {
	defer close(p.done)
	for entry := range p.queue {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = p.exporter.Export(ctx, entry)
		cancel()
	}
}

// send enqueues entry, dropping it if the queue is full or closed.
func (p *exportPipe) send(entry LogEntry) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return
	}
	select {
	case p.queue <- entry:
	default:
	}
}

func (p *exportPipe) close(ctx context.Context) []error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
	}

	var errs []error
	if err := p.exporter.Flush(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush exporter: %w", err))
	}
	if err := p.exporter.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close exporter: %w", err))
	}
	return errs
}

// exportHandler converts slog records into LogEntry values.
type exportHandler struct {
	pipe    *exportPipe
	level   Level
	service string
	attrs   []slog.Attr
	group   string
}

func (h *exportHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.toSlogLevel()
}

func (h *exportHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Resolve().Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		key := a.Key
		if h.group != "" {
			key = h.group + "." + key
		}
		attrs[key] = a.Value.Resolve().Any()
		return true
	})
	delete(attrs, "service")

	h.pipe.send(LogEntry{
		Timestamp: r.Time,
		Level:     fromSlogLevel(r.Level),
		Message:   r.Message,
		Service:   h.service,
		Attrs:     attrs,
	})
	return nil
}

func (h *exportHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &clone
}

func (h *exportHandler) WithGroup(name string) slog.Handler {
	clone := *h
	if clone.group != "" {
		name = clone.group + "." + name
	}
	clone.group = name
	return &clone
}

// =============================================================================
// Helper Functions
// =============================================================================

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// =============================================================================
// Built-in Exporters
// =============================================================================

// BufferedExporter collects log entries in memory.
type BufferedExporter struct {
	mu      sync.Mutex
	entries []LogEntry
}

// NewBufferedExporter creates a new BufferedExporter.
func NewBufferedExporter() *BufferedExporter {
	return &BufferedExporter{entries: make([]LogEntry, 0, 100)}
}

// Export adds the entry to the buffer.
func (e *BufferedExporter) Export(ctx context.Context, entry LogEntry) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = append(e.entries, entry)
	return nil
}

// Flush is a no-op.
func (e *BufferedExporter) Flush(ctx context.Context) error { return nil }

// Close is a no-op.
func (e *BufferedExporter) Close() error { return nil }

// Entries returns a copy of all collected entries.
func (e *BufferedExporter) Entries() []LogEntry {
	e.mu.Lock()
	defer e.mu.Unlock()
	result := make([]LogEntry, len(e.entries))
	copy(result, e.entries)
	return result
}
