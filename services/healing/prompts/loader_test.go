// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompts

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLoader_Embedded(t *testing.T) {
	l := NewLoader("", nil)

	for _, name := range []string{LanguageDetection, CodeHealingSystem, CodeHealingFix} {
		text, err := l.Load(name)
		if err != nil {
			t.Fatalf("Load(%s): %v", name, err)
		}
		if text == "" || text != strings.TrimSpace(text) {
			t.Errorf("Load(%s) must be non-empty and trimmed", name)
		}
	}

	fix, _ := l.Load(CodeHealingFix)
	if !strings.Contains(fix, "{previous_code}") || !strings.Contains(fix, "{test_output}") {
		t.Error("fix template must carry both placeholders")
	}

	want := []string{CodeHealingFix, CodeHealingSystem, LanguageDetection}
	if got := l.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("Names() = %v, want %v", got, want)
	}
}

func TestLoader_NotFound(t *testing.T) {
	l := NewLoader(t.TempDir(), nil)
	for _, name := range []string{"nope", "../templates/code_healing_fix", ""} {
		if _, err := l.Load(name); !errors.Is(err, ErrPromptNotFound) {
			t.Errorf("Load(%q) err = %v, want ErrPromptNotFound", name, err)
		}
	}
}

func TestLoader_OverrideAndInvalidate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, CodeHealingSystem+".md")
	if err := os.WriteFile(path, []byte("  custom v1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(dir, nil)

	got, err := l.Load(CodeHealingSystem)
	if err != nil || got != "custom v1" {
		t.Fatalf("Load = %q, %v", got, err)
	}

	if err := os.WriteFile(path, []byte("custom v2"), 0644); err != nil {
		t.Fatal(err)
	}
	if got, _ := l.Load(CodeHealingSystem); got != "custom v1" {
		t.Errorf("cached value = %q, want custom v1", got)
	}

	l.Invalidate(CodeHealingSystem)
	if got, _ := l.Load(CodeHealingSystem); got != "custom v2" {
		t.Errorf("after Invalidate = %q, want custom v2", got)
	}

	// Non-overridden names still come from the embedded set.
	if _, err := l.Load(LanguageDetection); err != nil {
		t.Errorf("Load(%s): %v", LanguageDetection, err)
	}
}

func TestLoader_WatchInvalidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, CodeHealingFix+".md")
	if err := os.WriteFile(path, []byte("before"), 0644); err != nil {
		t.Fatal(err)
	}
	l := NewLoader(dir, nil)
	if got, _ := l.Load(CodeHealingFix); got != "before" {
		t.Fatalf("Load = %q", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("after"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got, _ := l.Load(CodeHealingFix); got == "after" {
			return
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Error("watcher did not invalidate changed prompt")
}

func TestLoader_ConcurrentLoads(t *testing.T) {
	l := NewLoader("", nil)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := l.Load(CodeHealingSystem); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()
}

func TestRender(t *testing.T) {
	tmpl := "Code:\n{previous_code}\nOutput:\n{test_output}\n{unknown}"

	got := Render(tmpl, map[string]string{
		"previous_code": "fn x() { {test_output} }",
		"test_output":   "STDERR:\nboom",
	})

	want := "Code:\nfn x() { {test_output} }\nOutput:\nSTDERR:\nboom\n{unknown}"
	if got != want {
		t.Errorf("Render() =\n%s\nwant\n%s", got, want)
	}
}
