// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package artifacts implements artifact collection: after a stage
// succeeds, files matching its declared glob patterns are uploaded to
// object storage and recorded against the run. This supplements a feature
// the distilled spec names only as executor.ArtifactRef without a
// collection mechanism behind it.
package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/executor"
)

// Uploader puts one local file into object storage and returns its
// addressable URI and size.
type Uploader interface {
	Upload(ctx context.Context, key, localPath string) (uri string, size int64, err error)
}

// Collector matches a stage's artifact glob patterns against files under
// workDir and uploads each hit through an Uploader. It implements
// orchestrator.ArtifactCollector.
type Collector struct {
	workDir  string
	uploader Uploader
}

// New builds a Collector that resolves glob patterns relative to workDir
// (the same working directory the orchestrator gives every JobSpec).
func New(workDir string, uploader Uploader) *Collector {
	return &Collector{workDir: workDir, uploader: uploader}
}

// Collect globs patterns under workDir and uploads every matching regular
// file, keyed by runID/stageName/<path relative to workDir>. A pattern that
// matches nothing is not an error — stages may declare artifacts that
// aren't always produced (e.g. a coverage report only written on certain
// test runs).
func (c *Collector) Collect(ctx context.Context, runID, stageName string, patterns []string) ([]executor.ArtifactRef, error) {
	var refs []executor.ArtifactRef
	seen := map[string]bool{}

	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(filepath.Join(c.workDir, pattern))
		if err != nil {
			return refs, engineerr.Wrap(engineerr.KindInvalidInput, "evaluating artifact pattern "+pattern, err)
		}
		for _, match := range matches {
			if seen[match] {
				continue
			}
			seen[match] = true
			if info, err := os.Stat(match); err != nil || !info.Mode().IsRegular() {
				continue
			}

			rel, err := filepath.Rel(c.workDir, match)
			if err != nil {
				rel = filepath.Base(match)
			}
			rel = filepath.ToSlash(rel)

			key := strings.Join([]string{runID, stageName, rel}, "/")
			uri, size, err := c.uploader.Upload(ctx, key, match)
			if err != nil {
				return refs, engineerr.Wrap(engineerr.KindInternal, "uploading artifact "+rel, err)
			}
			refs = append(refs, executor.ArtifactRef{Name: rel, URI: uri, Size: size})
		}
	}
	return refs, nil
}
