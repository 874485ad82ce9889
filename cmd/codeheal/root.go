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
	"github.com/spf13/cobra"

	"github.com/AleutianAI/codeheal/pkg/config"
	"github.com/AleutianAI/codeheal/pkg/logging"
)

// globalFlags are bound to the root command's persistent flags.
type globalFlags struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "codeheal",
		Short: "Generate code, run its tests and repair it until they pass",
		Long: `codeheal turns a task description into Python or Rust code with tests.
It writes the files to a fresh workspace, runs the tests and, when they
fail, asks the model for a fix using the test output. A session makes at
most three attempts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().BoolVar(&flags.logJSON, "log-json", false, "write logs as JSON")

	root.AddCommand(
		newServeCmd(flags),
		newHealCmd(flags),
		newDetectCmd(flags),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves configuration and applies flag overrides.
func loadConfig(flags *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		level, err := logging.ParseLevel(flags.logLevel)
		if err != nil {
			return nil, err
		}
		cfg.Logging.Level = level
	}
	if flags.logJSON {
		cfg.Logging.JSON = true
	}
	return cfg, nil
}
