// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package registry resolves a pipeline by name to its parsed, validated
// configuration, grounded on the original implementation's CLI run command
// (buildit-cli/src/commands/run.rs), which reads and parses a single
// pipeline file given on the command line; this generalizes that to a
// directory of `<name>.kdl` files so the server, worker, and scheduler
// processes can all resolve a pipeline by name rather than by path.
package registry

import (
	"context"
	"os"
	"path/filepath"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/pipeline"
)

// FileRegistry resolves pipelines from `<dir>/<name>.kdl` files. It
// implements worker.PipelineProvider.
type FileRegistry struct {
	dir string
}

// NewFileRegistry builds a FileRegistry rooted at dir.
func NewFileRegistry(dir string) *FileRegistry {
	return &FileRegistry{dir: dir}
}

// Pipeline reads, parses, and validates name's config file. A pipeline
// that fails validation (a cycle, an unknown dependency, an invalid cron
// expression) is reported the same as a missing file: neither is
// executable.
func (r *FileRegistry) Pipeline(ctx context.Context, name string) (pipeline.Pipeline, error) {
	path := filepath.Join(r.dir, name+".kdl")
	content, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Pipeline{}, engineerr.Wrap(engineerr.KindNotFound, "reading pipeline config "+path, err)
	}

	p, err := pipeline.Parse(string(content))
	if err != nil {
		return pipeline.Pipeline{}, engineerr.Wrap(engineerr.KindInvalidInput, "parsing pipeline config "+path, err)
	}
	if err := pipeline.Validate(p); err != nil {
		return pipeline.Pipeline{}, engineerr.Wrap(engineerr.KindInvalidInput, "validating pipeline config "+path, err)
	}
	return p, nil
}

// List returns the name of every `*.kdl` file directly under dir, for the
// scheduler's cron-trigger scan. List does not parse or validate the files;
// a broken file only surfaces as an error when Pipeline loads it.
func (r *FileRegistry) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindInternal, "listing pipeline directory "+r.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".kdl" {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(".kdl")])
	}
	return names, nil
}
