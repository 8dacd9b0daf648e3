// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/buildit-ci/buildit/internal/id"
)

// statusCmd prints a run's current stage-by-stage status, grounded on the
// teacher's renderTable (internal/agent/reporter.go) table-rendering style.
func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "show a run's stage statuses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			runID, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("cli: invalid run id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			pool, err := newPostgresPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()
			st := newStore(pool)

			run, err := st.RunByID(ctx, runID)
			if err != nil {
				return err
			}
			stages, err := st.StageResults(ctx, runID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s #%d  %s  %s\n\n", run.PipelineName, run.RunNumber, run.Status, run.Git.ShortSHA)

			t := table.NewWriter()
			t.SetOutputMirror(cmd.OutOrStdout())
			t.AppendHeader(table.Row{"Stage", "Status", "Message"})
			for _, s := range stages {
				t.AppendRow(table.Row{s.StageName, s.Status, s.Message})
			}
			t.Render()
			return nil
		},
	}
}
