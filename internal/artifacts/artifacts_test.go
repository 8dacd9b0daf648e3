// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package artifacts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	uploaded map[string]string // key -> localPath
}

func newFakeUploader() *fakeUploader {
	return &fakeUploader{uploaded: map[string]string{}}
}

func (f *fakeUploader) Upload(ctx context.Context, key, localPath string) (string, int64, error) {
	f.uploaded[key] = localPath
	info, err := os.Stat(localPath)
	if err != nil {
		return "", 0, err
	}
	return fmt.Sprintf("fake://%s", key), info.Size(), nil
}

func TestCollect_MatchesGlobAndUploads(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(workDir, "dist"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "dist", "app.bin"), []byte("binary"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "dist", "app.bin.sig"), []byte("sig"), 0o644))

	uploader := newFakeUploader()
	c := New(workDir, uploader)

	refs, err := c.Collect(context.Background(), "run-1", "build", []string{"dist/*.bin"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
	require.Equal(t, "dist/app.bin", refs[0].Name)
	require.Equal(t, "fake://run-1/build/dist/app.bin", refs[0].URI)
	require.Equal(t, int64(6), refs[0].Size)
}

func TestCollect_NoMatchesIsNotAnError(t *testing.T) {
	workDir := t.TempDir()
	c := New(workDir, newFakeUploader())

	refs, err := c.Collect(context.Background(), "run-1", "build", []string{"nope/*.bin"})
	require.NoError(t, err)
	require.Empty(t, refs)
}

func TestCollect_DeduplicatesOverlappingPatterns(t *testing.T) {
	workDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workDir, "report.xml"), []byte("<x/>"), 0o644))

	uploader := newFakeUploader()
	c := New(workDir, uploader)

	refs, err := c.Collect(context.Background(), "run-1", "test", []string{"*.xml", "report.*"})
	require.NoError(t, err)
	require.Len(t, refs, 1)
}
