// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/buildit-ci/buildit/internal/id"
)

// dequeueCmd acts on a single job-queue entry by hand, grounded on the
// teacher's dequeue command. With --reason it marks the entry failed, so no
// worker claims it; without --reason it releases any claim and resets the
// entry to pending, where a worker can claim it again.
func dequeueCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "dequeue <entry-id>",
		Short: "fail a queued stage entry (--reason) or release it back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			entryID, err := id.Parse(args[0])
			if err != nil {
				return fmt.Errorf("cli: invalid entry id %q: %w", args[0], err)
			}

			ctx := cmd.Context()
			pool, err := newPostgresPool(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			q := newQueue(pool)
			if reason != "" {
				if err := q.Fail(ctx, entryID, reason); err != nil {
					return err
				}
			} else {
				if err := q.Release(ctx, entryID); err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dequeued %s\n", entryID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "mark the entry failed with this message instead of releasing it back to pending")
	return cmd
}
