// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prompts loads the named prompt templates used by the healing loop.
//
// Templates are embedded in the binary. An optional override directory may
// shadow any of them with a file of the same name; Watch keeps the cache in
// step with edits to that directory.
package prompts

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/singleflight"
)

//go:embed templates/*.md
var embedded embed.FS

// Prompt names.
const (
	LanguageDetection = "language_detection"
	CodeHealingSystem = "code_healing_system"
	CodeHealingFix    = "code_healing_fix"
)

const templateExt = ".md"

// ErrPromptNotFound indicates no template exists with the requested name.
var ErrPromptNotFound = errors.New("prompt not found")

// Loader resolves prompt templates by name.
//
// Thread Safety: Safe for concurrent use. Concurrent misses for the same
// name share one read.
type Loader struct {
	overrideDir string
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]string
	group singleflight.Group
}

// NewLoader creates a loader.
//
// Inputs:
//
//	overrideDir - Directory whose <name>.md files shadow the embedded set. May be empty.
//	logger - Logger for structured logging.
func NewLoader(overrideDir string, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		overrideDir: overrideDir,
		logger:      logger,
		cache:       make(map[string]string),
	}
}

// Load returns the whitespace-trimmed template called name.
//
// Outputs:
//
//	string - Template text
//	error - Wraps ErrPromptNotFound when neither source has the template
func (l *Loader) Load(name string) (string, error) {
	l.mu.RLock()
	text, ok := l.cache[name]
	l.mu.RUnlock()
	if ok {
		return text, nil
	}

	v, err, _ := l.group.Do(name, func() (any, error) {
		text, err := l.read(name)
		if err != nil {
			return "", err
		}
		l.mu.Lock()
		l.cache[name] = text
		l.mu.Unlock()
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Names lists the embedded template names in sorted order.
func (l *Loader) Names() []string {
	entries, err := fs.ReadDir(embedded, "templates")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), templateExt))
	}
	sort.Strings(names)
	return names
}

// Invalidate drops cached templates. No names drops everything.
func (l *Loader) Invalidate(names ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(names) == 0 {
		l.cache = make(map[string]string)
		return
	}
	for _, n := range names {
		delete(l.cache, n)
	}
}

func (l *Loader) read(name string) (string, error) {
	if strings.ContainsAny(name, `/\`) || name == "" {
		return "", fmt.Errorf("%w: %q", ErrPromptNotFound, name)
	}

	if l.overrideDir != "" {
		data, err := os.ReadFile(filepath.Join(l.overrideDir, name+templateExt))
		if err == nil {
			l.logger.Debug("Loaded prompt override", slog.String("prompt", name))
			return strings.TrimSpace(string(data)), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("read prompt override %s: %w", name, err)
		}
	}

	data, err := embedded.ReadFile("templates/" + name + templateExt)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPromptNotFound, name)
	}
	return strings.TrimSpace(string(data)), nil
}

// Watch invalidates cached templates when files in the override directory
// change. It blocks until ctx is done.
//
// Outputs:
//
//	error - Non-nil if the watcher could not be started. Nil after ctx ends.
func (l *Loader) Watch(ctx context.Context) error {
	if l.overrideDir == "" {
		<-ctx.Done()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating prompt watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(l.overrideDir); err != nil {
		return fmt.Errorf("watching %s: %w", l.overrideDir, err)
	}

	l.logger.Info("Watching prompt overrides", slog.String("dir", l.overrideDir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			l.handleWatchEvent(event)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("Prompt watcher error", slog.String("error", err.Error()))
		}
	}
}

func (l *Loader) handleWatchEvent(event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}
	base := filepath.Base(event.Name)
	if !strings.HasSuffix(base, templateExt) {
		return
	}
	name := strings.TrimSuffix(base, templateExt)
	l.Invalidate(name)
	l.logger.Info("Prompt override changed",
		slog.String("prompt", name),
		slog.String("op", event.Op.String()),
	)
}

// Render substitutes {key} placeholders in template with vars.
//
// Substitution is single-pass, so placeholder-like text inside a value is
// left alone.
func Render(template string, vars map[string]string) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(vars)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
