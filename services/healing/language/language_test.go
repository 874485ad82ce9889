// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package language

import (
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{"python", Python, false},
		{"  Python\n", Python, false},
		{"RUST", Rust, false},
		{"go", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupported) {
					t.Fatalf("Parse(%q) error = %v, want ErrUnsupported", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestLanguage_Extension(t *testing.T) {
	if Python.Extension() != ".py" {
		t.Errorf("Python.Extension() = %q", Python.Extension())
	}
	if Rust.Extension() != ".rs" {
		t.Errorf("Rust.Extension() = %q", Rust.Extension())
	}
	if Language("cobol").Extension() != "" {
		t.Error("unsupported language should have no extension")
	}
}

func TestNames(t *testing.T) {
	names := Names()
	if len(names) != 2 || names[0] != "python" || names[1] != "rust" {
		t.Errorf("Names() = %v", names)
	}
	for _, l := range All() {
		if !l.Valid() {
			t.Errorf("%s should be valid", l)
		}
	}
}
