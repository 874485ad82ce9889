// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package files turns raw model output into source files on disk.
//
// Parsing recognises the marker format:
//
//	FILE: calculator.py
//	```python
//	def add(a, b):
//	    return a + b
//	```
//
// When a response carries no markers, fenced blocks are classified with
// per-language heuristics instead.
//
// # Thread Safety
//
// Parse is a pure function. Writer is safe for concurrent use on
// distinct workspaces.
package files

import (
	"regexp"
	"sort"
	"strings"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// =============================================================================
// FILE SET
// =============================================================================

// FileSet maps a workspace-relative filename to its content.
type FileSet map[string]string

// Names returns the filenames in lexical order.
func (fs FileSet) Names() []string {
	names := make([]string, 0, len(fs))
	for name := range fs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// PARSER
// =============================================================================

// Fallback filenames used when a response carries no FILE: markers.
const (
	PythonTestFile = "test_main.py"
	PythonMainFile = "main.py"
	RustLibFile    = "lib.rs"
)

var (
	markerBlock = regexp.MustCompile("(?s)FILE:\\s*(\\S+)\\s*```(?:\\w+)?\\s*\\n(.*?)```")
	fencedBlock = regexp.MustCompile("(?s)```(?:\\w+)?\\s*\\n(.*?)```")
)

// Parse extracts named files from a model response.
//
// Description:
//
//	Every "FILE: <name>" marker immediately followed by a fenced block
//	yields one file; later duplicates replace earlier ones. Only when no
//	marker matches does the fallback run:
//	  - python: a block containing "import pytest" or "def test_" becomes
//	    test_main.py, any other block becomes main.py (last one wins)
//	  - rust: the first block becomes lib.rs
//
// Inputs:
//
//	raw - The model response
//	lang - Target language, selects the fallback heuristics
//
// Outputs:
//
//	FileSet - Parsed files, empty when nothing could be extracted
func Parse(raw string, lang language.Language) FileSet {
	files := make(FileSet)

	for _, m := range markerBlock.FindAllStringSubmatch(raw, -1) {
		files[m[1]] = strings.TrimSpace(m[2])
	}
	if len(files) > 0 {
		return files
	}

	blocks := fencedBlock.FindAllStringSubmatch(raw, -1)
	if len(blocks) == 0 {
		return files
	}

	switch lang {
	case language.Python:
		for _, b := range blocks {
			content := strings.TrimSpace(b[1])
			if isPythonTest(content) {
				files[PythonTestFile] = content
			} else {
				files[PythonMainFile] = content
			}
		}
	case language.Rust:
		files[RustLibFile] = strings.TrimSpace(blocks[0][1])
	}

	return files
}

func isPythonTest(content string) bool {
	return strings.Contains(content, "import pytest") || strings.Contains(content, "def test_")
}
