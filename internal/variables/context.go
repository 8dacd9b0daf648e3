// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package variables implements the `${namespace.field}` interpolation
// language used throughout pipeline configuration (image tags, env values,
// run commands, cache keys). `when` conditions are not interpolated; they
// are evaluated as gojq filters over the context.
package variables

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/buildit-ci/buildit/internal/pipeline"
)

// varPattern matches "${namespace.field}" or "${bareword}"; unmatched
// braces and anything not matching this shape are left untouched, which is
// what lets JSON payloads or unrelated shell `${...}` usages pass through
// interpolation unharmed.
var varPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z_][a-zA-Z0-9_]*)?)\}`)

// GitContext is the resolved git metadata for a run.
type GitContext struct {
	SHA         string
	Branch      string
	Tag         string
	RefName     string
	Message     string
	Author      string
	AuthorEmail string
}

// ShortSHA returns the first 7 characters of SHA, or SHA itself if shorter.
func (g GitContext) ShortSHA() string {
	if len(g.SHA) <= 7 {
		return g.SHA
	}
	return g.SHA[:7]
}

// PipelineContext carries the identity of the pipeline being run.
type PipelineContext struct {
	Name string
}

// RunContext carries the identity of the specific run.
type RunContext struct {
	ID     string
	Number int64
}

// StageContext carries the name of the stage currently resolving variables.
type StageContext struct {
	Name string
}

// Context is the full variable resolution scope for one pipeline run.
type Context struct {
	Git      GitContext
	Pipeline PipelineContext
	Run      RunContext
	Stage    StageContext
	Env      map[string]string
	Secrets  map[string]string
	Custom   map[string]string

	now func() time.Time
}

// NewContext builds a Context with sane empty maps; now defaults to
// time.Now but can be overridden in tests for deterministic
// timestamp/date/datetime resolution.
func NewContext() Context {
	return Context{
		Env:     map[string]string{},
		Secrets: map[string]string{},
		Custom:  map[string]string{},
		now:     time.Now,
	}
}

// FromRun seeds a Context's pipeline/run identity from domain types.
func FromRun(p pipeline.Pipeline, run pipeline.Run) Context {
	c := NewContext()
	c.Pipeline.Name = p.Name
	c.Run.ID = run.ID
	c.Run.Number = run.RunNumber
	c.Git = GitContext{
		SHA:         run.Git.SHA,
		Branch:      run.Git.Branch,
		Tag:         run.Git.Tag,
		RefName:     run.Git.RefName,
		Message:     run.Git.Message,
		Author:      run.Git.Author,
		AuthorEmail: run.Git.AuthorEmail,
	}
	for k, v := range p.Env {
		c.Env[k] = v
	}
	return c
}

// WithStage returns a copy of c scoped to the named stage.
func (c Context) WithStage(name string) Context {
	c.Stage = StageContext{Name: name}
	return c
}

// resolve looks up a single dotted variable name. ok is false for anything
// not recognized, which tells the caller to leave the "${...}" token as-is.
func (c Context) resolve(name string) (string, bool) {
	if v, ok := c.Custom[name]; ok {
		return v, true
	}

	parts := strings.SplitN(name, ".", 2)
	if len(parts) != 2 {
		switch name {
		case "timestamp":
			return fmt.Sprintf("%d", c.nowFunc().Unix()), true
		case "date":
			return c.nowFunc().Format("2006-01-02"), true
		case "datetime":
			return c.nowFunc().Format("2006-01-02T15:04:05Z07:00"), true
		default:
			return "", false
		}
	}

	namespace, field := parts[0], parts[1]
	switch namespace {
	case "git":
		switch field {
		case "sha":
			return c.Git.SHA, true
		case "short_sha":
			return c.Git.ShortSHA(), true
		case "branch":
			return c.Git.Branch, true
		case "tag":
			return c.Git.Tag, true
		case "ref_name":
			return c.Git.RefName, true
		case "message":
			return c.Git.Message, true
		case "author":
			return c.Git.Author, true
		case "author_email":
			return c.Git.AuthorEmail, true
		}
	case "pipeline":
		if field == "name" {
			return c.Pipeline.Name, true
		}
	case "run":
		switch field {
		case "id":
			return c.Run.ID, true
		case "number":
			return fmt.Sprintf("%d", c.Run.Number), true
		}
	case "stage":
		if field == "name" {
			return c.Stage.Name, true
		}
	case "env":
		if v, ok := c.Env[field]; ok {
			return v, true
		}
	case "secrets":
		if v, ok := c.Secrets[field]; ok {
			return v, true
		}
	case "custom":
		if v, ok := c.Custom[field]; ok {
			return v, true
		}
	}
	return "", false
}

func (c Context) nowFunc() time.Time {
	if c.now == nil {
		return time.Now()
	}
	return c.now()
}
