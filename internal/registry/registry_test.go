// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package registry

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const validPipeline = `
pipeline "web-app"
on "push" {
    branches "main"
}
stage "build" {
    image "golang:1.23"
    run "go build ./..."
}
`

func TestFileRegistry_Pipeline_ReadsAndParses(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web-app.kdl"), []byte(validPipeline), 0o644))

	r := NewFileRegistry(dir)
	p, err := r.Pipeline(context.Background(), "web-app")
	require.NoError(t, err)
	require.Equal(t, "web-app", p.Name)
	require.Len(t, p.Stages, 1)
}

func TestFileRegistry_Pipeline_MissingFile(t *testing.T) {
	r := NewFileRegistry(t.TempDir())
	_, err := r.Pipeline(context.Background(), "nope")
	require.Error(t, err)
}

func TestFileRegistry_Pipeline_InvalidConfigFailsValidation(t *testing.T) {
	dir := t.TempDir()
	cyclic := `
pipeline "broken"
stage "a" {
    image "alpine"
    needs "b"
    run "echo a"
}
stage "b" {
    image "alpine"
    needs "a"
    run "echo b"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.kdl"), []byte(cyclic), 0o644))

	r := NewFileRegistry(dir)
	_, err := r.Pipeline(context.Background(), "broken")
	require.Error(t, err)
}

func TestFileRegistry_List(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "web-app.kdl"), []byte(validPipeline), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("not a pipeline"), 0o644))

	r := NewFileRegistry(dir)
	names, err := r.List(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"web-app"}, names)
}
