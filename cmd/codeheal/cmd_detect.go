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
	"fmt"

	"github.com/spf13/cobra"
)

func newDetectCmd(flags *globalFlags) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "detect [task description]",
		Short: "Ask the model which language a task should be written in",
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := readTask(args, file, cmd.InOrStdin())
			if err != nil {
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

			lang, usage, err := a.detector.Detect(cmd.Context(), task)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), lang)
			a.logger.Debug("Detection usage",
				"prompt_tokens", usage.PromptTokens,
				"completion_tokens", usage.CompletionTokens)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the task from a file (- for stdin)")
	return cmd
}
