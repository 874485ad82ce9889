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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/AleutianAI/codeheal/services/healing"
)

// EventPrinter renders healing events as they arrive. Print has the
// shape of healing.EventSink.
//
// Thread Safety: Safe for concurrent use.
type EventPrinter struct {
	mu      sync.Mutex
	w       io.Writer
	mode    Mode
	enc     *json.Encoder
	attempt int
}

// NewEventPrinter returns a printer writing to w in mode.
func NewEventPrinter(w io.Writer, mode Mode) *EventPrinter {
	if mode == "" {
		mode = ModePlain
	}
	return &EventPrinter{w: w, mode: mode, enc: json.NewEncoder(w)}
}

// Print renders one event.
func (p *EventPrinter) Print(ev healing.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if ev.Type == healing.EventCodeGenerated {
		p.attempt++
	}

	switch p.mode {
	case ModeJSON:
		return p.enc.Encode(ev)
	case ModeRich:
		_, err := io.WriteString(p.w, p.rich(ev))
		return err
	default:
		_, err := io.WriteString(p.w, p.plain(ev))
		return err
	}
}

// PrintResult renders a blocking result. In JSON mode the whole result is
// written as one object.
func (p *EventPrinter) PrintResult(r *healing.Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == ModeJSON {
		return p.enc.Encode(r)
	}
	var b strings.Builder
	if p.mode == ModeRich {
		b.WriteString(Styles.Title.Render("Session "+r.SessionID) + "\n")
	} else {
		fmt.Fprintf(&b, "session %s\n", r.SessionID)
	}
	fmt.Fprintf(&b, "language: %s\nattempts: %d\nworkspace: %s\n", r.Language, r.Attempts, r.WorkingDirectory)
	if r.Usage.Calls > 0 {
		fmt.Fprintf(&b, "tokens: %d in / %d out (cost $%.4f)\n", r.Usage.PromptTokens, r.Usage.CompletionTokens, r.Usage.CostUSD)
	}
	b.WriteString(p.finalLine(r.Success, r.Message))
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *EventPrinter) rich(ev healing.Event) string {
	switch d := ev.Data.(type) {
	case healing.LanguageDetectedData:
		return fmt.Sprintf("%s Language: %s\n", IconPending.Render(), Styles.Highlight.Render(d.Language))
	case healing.WorkdirSetupData:
		return fmt.Sprintf("%s Workspace: %s\n", IconBar.Render(), Styles.Muted.Render(d.WorkingDirectory))
	case healing.CodeGeneratedData:
		return fmt.Sprintf("%s Attempt %d of %d: generated %d characters\n",
			IconArrow.Render(), p.attempt, healing.MaxAttempts, d.CodeLength)
	case healing.CodeWrittenData:
		return fmt.Sprintf("%s Files written\n", IconBar.Render())
	case healing.TestsPassedData:
		return fmt.Sprintf("%s %s\n", IconSuccess.Render(), Styles.Success.Render("Tests passed"))
	case healing.TestsFailedData:
		return fmt.Sprintf("%s %s\n%s\n", IconError.Render(), Styles.Error.Render("Tests failed"),
			Styles.Muted.Render(indent(d.ErrorPreview, "    ")))
	case healing.RetryData:
		return fmt.Sprintf("%s Retrying with the test output (attempt %d of %d)\n",
			IconWarning.Render(), d.NextAttempt, healing.MaxAttempts)
	case healing.FinalData:
		return p.finalLine(ev.Type == healing.EventSuccess, d.Message)
	case healing.ErrorData:
		return fmt.Sprintf("%s %s\n", IconError.Render(), Styles.Error.Render(d.Message))
	default:
		return fmt.Sprintf("%s %s\n", IconBar.Render(), ev.Type)
	}
}

func (p *EventPrinter) plain(ev healing.Event) string {
	switch d := ev.Data.(type) {
	case healing.LanguageDetectedData:
		return fmt.Sprintf("[%s] %s\n", ev.Type, d.Language)
	case healing.WorkdirSetupData:
		return fmt.Sprintf("[%s] %s\n", ev.Type, d.WorkingDirectory)
	case healing.CodeGeneratedData:
		return fmt.Sprintf("[%s] attempt=%d length=%d\n", ev.Type, p.attempt, d.CodeLength)
	case healing.TestsPassedData:
		return fmt.Sprintf("[%s] %s\n", ev.Type, d.Message)
	case healing.TestsFailedData:
		return fmt.Sprintf("[%s]\n%s\n", ev.Type, indent(d.ErrorPreview, "  "))
	case healing.RetryData:
		return fmt.Sprintf("[%s] next_attempt=%d\n", ev.Type, d.NextAttempt)
	case healing.FinalData:
		return fmt.Sprintf("[%s] attempts=%d %s\n", ev.Type, d.Attempts, d.Message)
	case healing.ErrorData:
		return fmt.Sprintf("[%s] %s\n", ev.Type, d.Message)
	default:
		return fmt.Sprintf("[%s]\n", ev.Type)
	}
}

func (p *EventPrinter) finalLine(success bool, message string) string {
	if p.mode != ModeRich {
		if success {
			return "SUCCESS: " + message + "\n"
		}
		return "FAILURE: " + message + "\n"
	}
	if success {
		return Styles.SuccessBox.Render(IconSuccess.Render()+" "+message) + "\n"
	}
	return Styles.ErrorBox.Render(IconError.Render()+" "+message) + "\n"
}

func indent(s, prefix string) string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return prefix
	}
	return prefix + strings.ReplaceAll(s, "\n", "\n"+prefix)
}
