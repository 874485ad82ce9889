// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Mode selects how output is rendered.
type Mode string

const (
	// ModeRich uses colors, icons and boxes.
	ModeRich Mode = "rich"

	// ModePlain prints one undecorated line per event for logs and pipes.
	ModePlain Mode = "plain"

	// ModeJSON prints one JSON object per event.
	ModeJSON Mode = "json"
)

// ParseMode converts a flag value to a Mode. "" and "auto" return "".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return "", nil
	case "rich", "full":
		return ModeRich, nil
	case "plain", "machine":
		return ModePlain, nil
	case "json":
		return ModeJSON, nil
	default:
		return "", fmt.Errorf("unknown output mode %q (want auto, rich, plain or json)", s)
	}
}

// DetectMode returns requested when set, otherwise ModeRich for a
// terminal and ModePlain for anything else. NO_COLOR forces plain.
func DetectMode(f *os.File, requested Mode) Mode {
	if requested != "" {
		return requested
	}
	if os.Getenv("NO_COLOR") != "" {
		return ModePlain
	}
	if f != nil && IsTerminal(f) {
		return ModeRich
	}
	return ModePlain
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
