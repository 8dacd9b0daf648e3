// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/buildit-ci/buildit/internal/config"
)

var configFile string

// Execute runs the root command, dispatching to whichever subcommand the
// user invoked. Errors are printed and translate to a non-zero exit code,
// matching the teacher's root.go.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "buildit",
		Short: "BuildIt is a self-hosted CI/CD control plane",
	}
	cmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to buildit.yaml")

	cmd.AddCommand(
		versionCmd(),
		serverCmd(),
		workerCmd(),
		schedulerCmd(),
		statusCmd(),
		retryCmd(),
		dequeueCmd(),
	)
	return cmd
}

// loadConfig reads configuration the same way every subcommand does:
// configFile (if set via --config) layered under BUILDIT_* environment
// variables, per internal/config's precedence rules.
func loadConfig() (*config.Config, error) {
	return config.Load(viper.New(), configFile)
}
