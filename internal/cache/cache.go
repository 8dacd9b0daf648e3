// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache implements stage cache restore/save around a directory
// keyed by an interpolated cache key, one of the features spec.md's
// distillation dropped but the original implementation's design (and the
// teacher's own archive executor, internal/runtime/builtin/archive) makes
// room for: a stage declares `cache { path ...; key ...; restore-keys ... }`
// and the orchestrator restores a matching archive before the stage runs
// and saves one after it succeeds.
package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mholt/archives"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/pipeline"
	"github.com/buildit-ci/buildit/internal/variables"
)

// archiveFormat is the single compression+archival scheme used for every
// cache blob; there is no format negotiation, matching the teacher's own
// archive executor which fixes format per declared extension.
var archiveFormat = archives.CompressedArchive{
	Compression: archives.Gz{},
	Archival:    archives.Tar{},
}

// Manager stores cache archives as files under a root directory, one file
// per resolved key. It implements orchestrator.CacheManager.
type Manager struct {
	root string
}

// New builds a Manager rooted at dir. The directory is not created here;
// Save creates it the first time it writes an archive.
func New(dir string) *Manager {
	return &Manager{root: dir}
}

func (m *Manager) blobPath(key string) string {
	return filepath.Join(m.root, sanitizeKey(key)+".tar.gz")
}

func sanitizeKey(key string) string {
	return strings.NewReplacer("/", "_", " ", "_").Replace(key)
}

// Restore extracts the first matching archive into cache.Path: the exact
// key first, then restore-keys in declared order treated as prefixes
// against every blob under root, picking the most recently modified match.
// No match is not an error — a cold cache is expected on a stage's first
// run.
func (m *Manager) Restore(ctx context.Context, cfg pipeline.CacheConfig, vars variables.Context) error {
	key := vars.Interpolate(cfg.Key)
	blob := m.blobPath(key)

	if _, err := os.Stat(blob); err == nil {
		return m.extract(ctx, blob, cfg.Path)
	}

	for _, restoreKey := range cfg.RestoreKeys {
		prefix := sanitizeKey(vars.Interpolate(restoreKey))
		match, err := m.newestMatching(prefix)
		if err != nil {
			return err
		}
		if match != "" {
			return m.extract(ctx, match, cfg.Path)
		}
	}
	return nil
}

// Save archives cache.Path into the blob named by cfg.Key (interpolated).
// An empty or missing directory is a no-op, not an error: a stage whose
// cache path was never populated (e.g. it failed before writing anything)
// shouldn't produce an empty archive.
func (m *Manager) Save(ctx context.Context, cfg pipeline.CacheConfig, vars variables.Context) error {
	info, err := os.Stat(cfg.Path)
	if err != nil || !info.IsDir() {
		return nil
	}
	if entries, err := os.ReadDir(cfg.Path); err != nil || len(entries) == 0 {
		return nil
	}

	if err := os.MkdirAll(m.root, 0o755); err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "creating cache root", err)
	}

	key := vars.Interpolate(cfg.Key)
	files, err := archives.FilesFromDisk(ctx, nil, map[string]string{cfg.Path: ""})
	if err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "collecting cache files", err)
	}

	out, err := os.Create(m.blobPath(key))
	if err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "creating cache archive", err)
	}
	defer out.Close()

	if err := archiveFormat.Archive(ctx, out, files); err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "writing cache archive", err)
	}
	return nil
}

func (m *Manager) extract(ctx context.Context, blobPath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "creating cache destination", err)
	}
	in, err := os.Open(blobPath)
	if err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "opening cache archive", err)
	}
	defer in.Close()

	handler := func(ctx context.Context, f archives.FileInfo) error {
		targetPath := filepath.Join(destDir, f.NameInArchive)
		if f.IsDir() {
			return os.MkdirAll(targetPath, 0o755)
		}
		if err := os.MkdirAll(filepath.Dir(targetPath), 0o755); err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return err
		}
		defer rc.Close()
		w, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}
		defer w.Close()
		_, err = io.Copy(w, rc)
		return err
	}

	if err := archiveFormat.Extract(ctx, in, handler); err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "extracting cache archive", err)
	}
	return nil
}

func (m *Manager) newestMatching(prefix string) (string, error) {
	entries, err := os.ReadDir(m.root)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", engineerr.Wrap(engineerr.KindInternal, "listing cache root", err)
	}

	var candidates []os.DirEntry
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), prefix) {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		ii, _ := candidates[i].Info()
		jj, _ := candidates[j].Info()
		if ii == nil || jj == nil {
			return false
		}
		return ii.ModTime().After(jj.ModTime())
	})
	return filepath.Join(m.root, candidates[0].Name()), nil
}
