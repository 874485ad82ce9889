// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/codeheal/pkg/ux"
	"github.com/AleutianAI/codeheal/services/healing"
	"github.com/AleutianAI/codeheal/services/store"
)

// errHealFailed marks a session that ran but did not pass its tests.
var errHealFailed = errors.New("healing failed")

type healFlags struct {
	language string
	file     string
	output   string
	quiet    bool
	save     bool
}

func newHealCmd(flags *globalFlags) *cobra.Command {
	hf := &healFlags{}
	cmd := &cobra.Command{
		Use:   "heal [task description]",
		Short: "Run one healing session and stream its progress",
		Example: `  codeheal heal "write a function that reverses a string, with tests"
  codeheal heal --language rust --file task.txt
  codeheal heal --output json "fizzbuzz" | jq .`,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := readTask(args, hf.file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			mode, err := ux.ParseMode(hf.output)
			if err != nil {
				return err
			}
			req := &healing.Request{TaskDescription: task, Language: hf.language}
			if err := req.Validate(); err != nil {
				return err
			}

			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			a, err := buildApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			printer := ux.NewEventPrinter(cmd.OutOrStdout(), ux.DetectMode(os.Stdout, mode))
			var sink healing.EventSink
			if !hf.quiet {
				sink = printer.Print
			}

			session, err := a.orchestrator.Stream(ctx, req, sink)
			if err != nil && errors.Is(err, healing.ErrDetection) {
				_ = printer.Print(healing.Event{Type: healing.EventError, Data: healing.ErrorData{Message: err.Error()}})
			}
			if session != nil && hf.save {
				saveResult(ctx, a, session.Result())
			}
			if session != nil && hf.quiet {
				_ = printer.PrintResult(session.Result())
			}

			switch {
			case errors.Is(err, healing.ErrDetection):
				return errHealFailed
			case err != nil && !errors.Is(err, healing.ErrSessionTimeout):
				return err
			case session == nil || !session.Success:
				return errHealFailed
			default:
				return nil
			}
		},
	}
	cmd.Flags().StringVarP(&hf.language, "language", "l", "", "skip detection: python or rust")
	cmd.Flags().StringVarP(&hf.file, "file", "f", "", "read the task from a file (- for stdin)")
	cmd.Flags().StringVarP(&hf.output, "output", "o", "auto", "output: auto, rich, plain or json")
	cmd.Flags().BoolVarP(&hf.quiet, "quiet", "q", false, "print only the final result")
	cmd.Flags().BoolVar(&hf.save, "save", false, "store the result in the session store")
	return cmd
}

// readTask takes the task from args, or from file when given.
func readTask(args []string, file string, stdin io.Reader) (string, error) {
	if file != "" {
		if len(args) > 0 {
			return "", errors.New("give the task as arguments or with --file, not both")
		}
		var (
			data []byte
			err  error
		)
		if file == "-" {
			data, err = io.ReadAll(stdin)
		} else {
			data, err = os.ReadFile(file)
		}
		if err != nil {
			return "", fmt.Errorf("read task: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" {
		return "", errors.New("a task description is required")
	}
	return task, nil
}

func saveResult(ctx context.Context, a *app, r *healing.Result) {
	cfg := store.DefaultConfig()
	cfg.Path = a.cfg.Store.Path
	cfg.InMemory = a.cfg.Store.InMemory
	cfg.TTL = a.cfg.Store.TTL
	cfg.GCInterval = 0
	s, err := store.Open(cfg)
	if err != nil {
		a.logger.Warn("Could not open session store", "error", err.Error())
		return
	}
	defer s.Close()
	if err := s.Save(context.WithoutCancel(ctx), r); err != nil {
		a.logger.Warn("Could not save session", "session_id", r.SessionID, "error", err.Error())
	}
}
