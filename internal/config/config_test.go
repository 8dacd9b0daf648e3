// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, 8080, cfg.Port)
	require.Equal(t, ExecutorBackendDocker, cfg.Executor)
	require.Equal(t, 10*time.Second, cfg.OTelTimeout)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "buildit.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: 9090\nexecutor: kubernetes\n"), 0o644))

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Port)
	require.Equal(t, ExecutorBackendKubernetes, cfg.Executor)
	require.Equal(t, "info", cfg.LogLevel) // untouched default survives
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "buildit.yaml")
	require.NoError(t, os.WriteFile(file, []byte("port: 9090\n"), 0o644))

	t.Setenv("BUILDIT_PORT", "7070")

	cfg, err := Load(viper.New(), file)
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Port)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, err := Load(viper.New(), "/nonexistent/buildit.yaml")
	require.Error(t, err)
}
