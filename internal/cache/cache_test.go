// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/buildit-ci/buildit/internal/pipeline"
	"github.com/buildit-ci/buildit/internal/variables"
)

func TestSaveThenRestore_RoundTrips(t *testing.T) {
	root := t.TempDir()
	m := New(filepath.Join(root, "store"))

	srcDir := filepath.Join(root, "workspace", "deps")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "lib.txt"), []byte("payload"), 0o644))

	vars := variables.NewContext()
	cfg := pipeline.CacheConfig{Path: srcDir, Key: "deps-v1"}

	ctx := context.Background()
	require.NoError(t, m.Save(ctx, cfg, vars))

	restoreDir := filepath.Join(root, "restored")
	require.NoError(t, m.Restore(ctx, pipeline.CacheConfig{Path: restoreDir, Key: "deps-v1"}, vars))

	data, err := os.ReadFile(filepath.Join(restoreDir, "deps", "lib.txt"))
	require.NoError(t, err)
	require.Equal(t, "payload", string(data))
}

func TestRestore_NoMatchIsNotAnError(t *testing.T) {
	m := New(t.TempDir())
	vars := variables.NewContext()
	err := m.Restore(context.Background(), pipeline.CacheConfig{Path: t.TempDir(), Key: "missing"}, vars)
	require.NoError(t, err)
}

func TestRestore_FallsBackToRestoreKeyPrefix(t *testing.T) {
	root := t.TempDir()
	m := New(filepath.Join(root, "store"))
	vars := variables.NewContext()

	srcDir := filepath.Join(root, "src")
	require.NoError(t, os.MkdirAll(srcDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(srcDir, "f.txt"), []byte("v1"), 0o644))

	ctx := context.Background()
	require.NoError(t, m.Save(ctx, pipeline.CacheConfig{Path: srcDir, Key: "deps-abc123"}, vars))

	restoreDir := filepath.Join(root, "restored")
	cfg := pipeline.CacheConfig{Path: restoreDir, Key: "deps-def456", RestoreKeys: []string{"deps-"}}
	require.NoError(t, m.Restore(ctx, cfg, vars))

	data, err := os.ReadFile(filepath.Join(restoreDir, "src", "f.txt"))
	require.NoError(t, err)
	require.Equal(t, "v1", string(data))
}

func TestSave_MissingPathIsNoOp(t *testing.T) {
	m := New(t.TempDir())
	vars := variables.NewContext()
	err := m.Save(context.Background(), pipeline.CacheConfig{Path: "/does/not/exist", Key: "k"}, vars)
	require.NoError(t, err)
}
