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
	"log/slog"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/AleutianAI/codeheal/services/healing/language"
)

// maxNodeDepth bounds recursion on pathological trees.
const maxNodeDepth = 1000

// SyntaxReport summarises a tree-sitter parse of one file.
type SyntaxReport struct {
	// Errors is the number of ERROR and MISSING nodes.
	Errors int `json:"errors"`

	// FirstErrorLine is the 1-based line of the first error, 0 if none.
	FirstErrorLine int `json:"first_error_line,omitempty"`

	// TestFunctions counts test functions found in the file.
	TestFunctions int `json:"test_functions"`
}

// SyntaxInspector parses generated files for diagnostics.
//
// The report is informational: a file with syntax errors is still
// written and tested.
//
// Thread Safety: Safe for concurrent use. Each call creates its own parser.
type SyntaxInspector struct {
	logger *slog.Logger
}

// NewSyntaxInspector creates a new inspector.
func NewSyntaxInspector(logger *slog.Logger) *SyntaxInspector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SyntaxInspector{logger: logger}
}

// Inspect parses content and returns a report, or nil when the language
// has no grammar or parsing fails.
func (s *SyntaxInspector) Inspect(ctx context.Context, lang language.Language, content []byte) *SyntaxReport {
	grammar := grammarFor(lang)
	if grammar == nil {
		return nil
	}

	parser := sitter.NewParser()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		s.logger.Debug("Syntax inspection failed",
			slog.String("language", lang.String()),
			slog.String("error", err.Error()),
		)
		return nil
	}
	defer tree.Close()

	report := &SyntaxReport{}
	walk(tree.RootNode(), content, lang, report, 0)
	return report
}

func grammarFor(lang language.Language) *sitter.Language {
	switch lang {
	case language.Python:
		return python.GetLanguage()
	case language.Rust:
		return rust.GetLanguage()
	default:
		return nil
	}
}

func walk(node *sitter.Node, content []byte, lang language.Language, report *SyntaxReport, depth int) {
	if node == nil || depth > maxNodeDepth {
		return
	}

	if node.IsError() || node.IsMissing() {
		report.Errors++
		if report.FirstErrorLine == 0 {
			report.FirstErrorLine = int(node.StartPoint().Row) + 1
		}
	}

	switch {
	case lang == language.Python && node.Type() == "function_definition":
		if name := node.ChildByFieldName("name"); name != nil && strings.HasPrefix(name.Content(content), "test_") {
			report.TestFunctions++
		}
	case lang == language.Rust && node.Type() == "attribute_item":
		if strings.ReplaceAll(node.Content(content), " ", "") == "#[test]" {
			report.TestFunctions++
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), content, lang, report, depth+1)
	}
}
