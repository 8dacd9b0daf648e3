// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cli

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCmd_RegistersEveryCommand(t *testing.T) {
	root := rootCmd()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}

	require.ElementsMatch(t, []string{"version", "server", "worker", "scheduler", "status", "retry", "dequeue"}, names)
}

func TestRootCmd_HasConfigFlag(t *testing.T) {
	root := rootCmd()
	flag := root.PersistentFlags().Lookup("config")
	require.NotNil(t, flag)
	require.Equal(t, "c", flag.Shorthand)
}
