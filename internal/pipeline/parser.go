// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"strings"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/sblinch/kdl-go/document"
)

// Parse parses a pipeline configuration written in KDL (https://kdl.dev)
// into a Pipeline. It does not run Validate; callers must do that
// separately so config-shape errors and DAG-shape errors stay distinguishable.
//
// Grammar (see spec.md §6 and DESIGN.md for the grounding in
// buildit-config/src/pipeline.rs):
//
//	pipeline "name"
//	on "push" {
//	    branches "main" "release/*"
//	}
//	env {
//	    KEY "value"
//	}
//	cache {
//	    path ".cargo"
//	    key "cargo-${git.branch}"
//	    restore-keys "cargo-"
//	}
//	stage "build" when=".git.branch == \"main\"" {
//	    image "rust:1.80"
//	    needs "lint"
//	    run "cargo build --release"
//	    artifacts "target/release/app"
//	    env {
//	        RUST_LOG "debug"
//	    }
//	}
func Parse(kdlText string) (Pipeline, error) {
	doc, err := document.Parse(strings.NewReader(kdlText))
	if err != nil {
		return Pipeline{}, engineerr.Wrap(engineerr.KindInvalidInput, "failed to parse pipeline config", err)
	}

	p := Pipeline{Env: map[string]string{}}

	for _, node := range doc.Nodes {
		switch node.Name.ValueString() {
		case "pipeline":
			name, ok := getFirstStringArg(node)
			if !ok {
				return Pipeline{}, engineerr.New(engineerr.KindInvalidInput, `"pipeline" node requires a name argument`)
			}
			p.Name = name
		case "on":
			trigger, err := parseTrigger(node)
			if err != nil {
				return Pipeline{}, err
			}
			p.Triggers = append(p.Triggers, trigger)
		case "stage":
			stage, err := parseStage(node)
			if err != nil {
				return Pipeline{}, err
			}
			p.Stages = append(p.Stages, stage)
		case "cache":
			cache, err := parseCache(node)
			if err != nil {
				return Pipeline{}, err
			}
			p.Cache = &cache
		case "env":
			for k, v := range childStringMap(node) {
				p.Env[k] = v
			}
		}
	}

	if p.Name == "" {
		return Pipeline{}, engineerr.New(engineerr.KindInvalidInput, `missing top-level "pipeline" node`)
	}
	return p, nil
}

func parseTrigger(node *document.Node) (Trigger, error) {
	kindName, ok := getFirstStringArg(node)
	if !ok {
		return Trigger{}, engineerr.New(engineerr.KindInvalidInput, `"on" node requires a trigger kind argument`)
	}

	switch kindName {
	case "push":
		branches := getStringListProp(node, "branches")
		if len(branches) == 0 {
			branches = []string{"*"}
		}
		return Trigger{Kind: TriggerPush, Branches: branches, Paths: getStringListProp(node, "paths")}, nil
	case "pull_request":
		branches := getStringListProp(node, "branches")
		if len(branches) == 0 {
			branches = []string{"*"}
		}
		return Trigger{Kind: TriggerPullRequest, Branches: branches}, nil
	case "tag":
		pattern, _ := getStringProp(node, "pattern")
		if pattern == "" {
			pattern = "*"
		}
		return Trigger{Kind: TriggerTag, Pattern: pattern}, nil
	case "schedule":
		cron, _ := getStringProp(node, "cron")
		if cron == "" {
			cron, _ = getFirstStringArg(node)
		}
		if cron == "" {
			return Trigger{}, engineerr.New(engineerr.KindInvalidInput, `"on \"schedule\"" requires a cron expression`)
		}
		return Trigger{Kind: TriggerSchedule, Cron: cron}, nil
	case "manual":
		return Trigger{Kind: TriggerManual}, nil
	default:
		return Trigger{}, engineerr.Newf(engineerr.KindInvalidInput, "unknown trigger kind %q", kindName)
	}
}

func parseStage(node *document.Node) (Stage, error) {
	name, ok := getFirstStringArg(node)
	if !ok {
		return Stage{}, engineerr.New(engineerr.KindInvalidInput, `"stage" node requires a name argument`)
	}

	stage := Stage{
		Name:   name,
		Needs:  getStringListProp(node, "needs"),
		Manual: getBoolProp(node, "manual"),
		When:   firstNonEmpty(getStringProp1(node, "when")),
		Action: ActionRun,
		Env:    map[string]string{},
	}

	for _, child := range childNodes(node) {
		switch child.Name.ValueString() {
		case "image":
			v, _ := getFirstStringArg(child)
			stage.Image = v
		case "run":
			args := getAllStringArgs(child)
			stage.Run = append(stage.Run, args...)
		case "artifacts":
			stage.Artifacts = append(stage.Artifacts, getAllStringArgs(child)...)
		case "env":
			for k, v := range childStringMap(child) {
				stage.Env[k] = v
			}
		case "cache":
			cache, err := parseCache(child)
			if err != nil {
				return Stage{}, err
			}
			stage.Cache = &cache
		}
	}

	if stage.Image == "" {
		return Stage{}, engineerr.Newf(engineerr.KindInvalidInput, "stage %q requires a non-empty image", name)
	}
	return stage, nil
}

func parseCache(node *document.Node) (CacheConfig, error) {
	var c CacheConfig
	for _, child := range childNodes(node) {
		switch child.Name.ValueString() {
		case "path":
			c.Path, _ = getFirstStringArg(child)
		case "key":
			c.Key, _ = getFirstStringArg(child)
		case "restore-keys", "restore_keys":
			c.RestoreKeys = append(c.RestoreKeys, getAllStringArgs(child)...)
		}
	}
	// A bare `cache { path ...; key ...; restore-keys ... }` block may also
	// express path/key as properties on the cache node itself.
	if c.Path == "" {
		c.Path, _ = getStringProp(node, "path")
	}
	if c.Key == "" {
		c.Key, _ = getStringProp(node, "key")
	}
	if c.Path == "" {
		return CacheConfig{}, engineerr.New(engineerr.KindInvalidInput, `"cache" requires a path`)
	}
	return c, nil
}

func firstNonEmpty(s string) string { return s }

func getStringProp1(node *document.Node, key string) string {
	v, _ := getStringProp(node, key)
	return v
}
