// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package language defines the closed set of target languages a healing
// session can produce code for.
package language

import (
	"errors"
	"fmt"
	"strings"
)

// Language identifies a supported target language.
type Language string

const (
	// Python sessions produce pytest suites.
	Python Language = "python"

	// Rust sessions produce cargo crates.
	Rust Language = "rust"
)

// ErrUnsupported indicates a value outside the supported set.
var ErrUnsupported = errors.New("unsupported language")

// All returns every supported language in a stable order.
func All() []Language {
	return []Language{Python, Rust}
}

// Names returns the supported languages as plain strings.
func Names() []string {
	all := All()
	names := make([]string, len(all))
	for i, l := range all {
		names[i] = string(l)
	}
	return names
}

// Parse converts a free-form value into a Language.
//
// Matching is case-insensitive and ignores surrounding whitespace.
//
// Outputs:
//
//	Language - The matched language
//	error - ErrUnsupported (wrapped) when the value is not in the set
func Parse(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case Python:
		return Python, nil
	case Rust:
		return Rust, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupported, s)
	}
}

// String returns the string representation of the language.
func (l Language) String() string {
	return string(l)
}

// Valid returns true if the language is in the supported set.
func (l Language) Valid() bool {
	return l == Python || l == Rust
}

// Extension returns the source file extension, including the dot.
// Returns "" for unsupported values.
func (l Language) Extension() string {
	switch l {
	case Python:
		return ".py"
	case Rust:
		return ".rs"
	default:
		return ""
	}
}
