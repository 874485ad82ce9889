// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package files

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

func TestWriter_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, nil)

	raw := "FILE: calc.py\n" + fence + "python\ndef add(a, b):\n    return a + b\n" + fence +
		"\nFILE: tests/test_calc.py\n" + fence + "python\nfrom calc import add\n\ndef test_add():\n    assert add(1, 2) == 3\n" + fence
	parsed := Parse(raw, language.Python)

	report := w.WriteAll(context.Background(), dir, language.Python, parsed)

	if report.Written() != 2 || report.Failed() != 0 {
		t.Fatalf("written=%d failed=%d, results=%+v", report.Written(), report.Failed(), report.Results)
	}
	for name, content := range parsed {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if string(data) != content {
			t.Errorf("%s content = %q, want %q", name, data, content)
		}
	}
}

func TestWriter_ReportsTestFunctions(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(NewSyntaxInspector(nil), nil)

	report := w.WriteAll(context.Background(), dir, language.Python, FileSet{
		"main.py":      "def add(a, b):\n    return a + b\n",
		"test_main.py": "from main import add\n\ndef test_add():\n    assert add(1, 2) == 3\n\ndef test_neg():\n    assert add(-1, 1) == 0\n",
	})

	if !report.Inspected() {
		t.Fatal("report carries no syntax diagnostics")
	}
	if got := report.TestFunctions(); got != 2 {
		t.Errorf("TestFunctions = %d, want 2", got)
	}
	if got := report.SyntaxErrors(); got != 0 {
		t.Errorf("SyntaxErrors = %d, want 0", got)
	}
}

func TestWriter_ExtensionMismatchSkipsOnlyThatFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, nil)

	report := w.WriteAll(context.Background(), dir, language.Rust, FileSet{
		"Cargo.toml": "[package]",
		"lib.rs":     "pub fn f() {}",
	})

	if report.Written() != 1 || report.Failed() != 1 {
		t.Fatalf("written=%d failed=%d", report.Written(), report.Failed())
	}
	for _, res := range report.Results {
		switch res.Name {
		case "Cargo.toml":
			if res.Success || !errors.Is(res.Err, ErrExtensionMismatch) {
				t.Errorf("Cargo.toml result = %+v", res)
			}
			var we *WriteError
			if !errors.As(res.Err, &we) || we.Name != "Cargo.toml" {
				t.Errorf("expected WriteError for Cargo.toml, got %v", res.Err)
			}
		case "lib.rs":
			if !res.Success {
				t.Errorf("lib.rs should be written: %s", res.Message)
			}
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "Cargo.toml")); !os.IsNotExist(err) {
		t.Error("mismatched file must not be written")
	}
}

func TestWriter_RejectsEscapingPaths(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, nil)

	report := w.WriteAll(context.Background(), dir, language.Python, FileSet{
		"../evil.py":   "x",
		"/etc/evil.py": "x",
		"ok.py":        "x",
	})

	if report.Written() != 1 {
		t.Fatalf("written = %d, want 1", report.Written())
	}
	for _, res := range report.Results {
		if res.Name != "ok.py" && !errors.Is(res.Err, ErrPathEscapesWorkspace) {
			t.Errorf("%s: err = %v, want ErrPathEscapesWorkspace", res.Name, res.Err)
		}
	}
}

func TestWriter_CreatesParentDirectories(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(nil, nil)

	report := w.WriteAll(context.Background(), dir, language.Rust, FileSet{"src/nested/mod.rs": "// ok"})
	if report.Written() != 1 {
		t.Fatalf("report = %+v", report.Results)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "nested", "mod.rs")); err != nil {
		t.Errorf("file not created: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "src", "nested", "mod.rs.heal.tmp")); !os.IsNotExist(err) {
		t.Error("temp file left behind")
	}
}

func TestWriter_WriteFailureDoesNotAbortSiblings(t *testing.T) {
	dir := t.TempDir()
	// A regular file where a directory is needed makes MkdirAll fail.
	if err := os.WriteFile(filepath.Join(dir, "blocked"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	w := NewWriter(nil, nil)

	report := w.WriteAll(context.Background(), dir, language.Python, FileSet{
		"blocked/a.py": "x",
		"b.py":         "y",
	})

	if report.Written() != 1 || report.Failed() != 1 {
		t.Fatalf("written=%d failed=%d", report.Written(), report.Failed())
	}
	for _, res := range report.Results {
		if res.Name == "blocked/a.py" && !errors.Is(res.Err, ErrWriteFailed) {
			t.Errorf("err = %v, want ErrWriteFailed", res.Err)
		}
	}
}

func TestWriter_EmptySet(t *testing.T) {
	report := NewWriter(nil, nil).WriteAll(context.Background(), t.TempDir(), language.Python, FileSet{})
	if len(report.Results) != 0 || report.Written() != 0 {
		t.Errorf("expected empty report, got %+v", report)
	}
}
