// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"sort"
	"strings"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/robfig/cron/v3"
	"mvdan.cc/sh/v3/syntax"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks structural invariants the parser alone can't enforce:
// every `needs` reference points at a real stage, and the dependency graph
// contains no cycle. It does not evaluate `when` conditions or touch the
// network — those happen at run time.
func Validate(p Pipeline) error {
	if len(p.Stages) == 0 {
		return engineerr.New(engineerr.KindInvalidInput, "pipeline has no stages")
	}

	names := make(map[string]struct{}, len(p.Stages))
	for _, s := range p.Stages {
		if s.Name == "" {
			return engineerr.New(engineerr.KindInvalidInput, "stage has empty name")
		}
		if _, dup := names[s.Name]; dup {
			return engineerr.Newf(engineerr.KindInvalidInput, "duplicate stage name %q", s.Name)
		}
		names[s.Name] = struct{}{}
	}

	for _, s := range p.Stages {
		for _, dep := range s.Needs {
			if _, ok := names[dep]; !ok {
				return engineerr.Newf(engineerr.KindInvalidInput, "stage %q depends on unknown stage %q", s.Name, dep)
			}
		}
	}

	if cycle := detectCycle(p); cycle != "" {
		return engineerr.Newf(engineerr.KindInvalidInput, "dependency cycle detected: %s", cycle)
	}

	for _, t := range p.Triggers {
		if t.Kind == TriggerSchedule {
			if _, err := cronParser.Parse(t.Cron); err != nil {
				return engineerr.Wrap(engineerr.KindInvalidInput, "invalid schedule cron expression", err)
			}
		}
	}

	for _, s := range p.Stages {
		if s.Action != ActionRun {
			continue
		}
		for _, cmd := range s.Run {
			if err := lintShell(cmd); err != nil {
				return engineerr.Newf(engineerr.KindInvalidInput, "stage %q has invalid shell command %q: %v", s.Name, cmd, err)
			}
		}
	}
	return nil
}

// lintShell parses cmd as POSIX shell, catching syntax errors (unbalanced
// quotes, dangling operators) before a pipeline is ever scheduled rather
// than surfacing them as an opaque container exit code at run time.
func lintShell(cmd string) error {
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	_, err := parser.Parse(strings.NewReader(cmd), "")
	return err
}

// detectCycle runs a DFS with recursion-stack tracking over the `needs`
// edges and returns a human-readable "a -> b -> c" description of the first
// cycle found, or "" if the graph is acyclic.
func detectCycle(p Pipeline) string {
	const (
		white = 0 // unvisited
		gray  = 1 // on the current DFS stack
		black = 2 // fully explored
	)
	color := make(map[string]int, len(p.Stages))
	for _, s := range p.Stages {
		color[s.Name] = white
	}

	var path []string
	var cyclePath string

	var dfs func(name string) bool
	dfs = func(name string) bool {
		color[name] = gray
		path = append(path, name)

		stage, _ := p.StageByName(name)
		for _, dep := range stage.Needs {
			switch color[dep] {
			case gray:
				cyclePath = formatCycle(path, dep)
				return true
			case white:
				if dfs(dep) {
					return true
				}
			}
		}

		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	// Iterate in a stable order so the reported cycle is deterministic.
	stageNames := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		stageNames[i] = s.Name
	}
	sort.Strings(stageNames)

	for _, name := range stageNames {
		if color[name] == white {
			if dfs(name) {
				return cyclePath
			}
		}
	}
	return ""
}

func formatCycle(path []string, closingNode string) string {
	start := 0
	for i, n := range path {
		if n == closingNode {
			start = i
			break
		}
	}
	cyclePath := append(append([]string{}, path[start:]...), closingNode)
	s := ""
	for i, n := range cyclePath {
		if i > 0 {
			s += " -> "
		}
		s += n
	}
	return s
}

// TopologicalSort returns stage names ordered so that every stage appears
// after all of its dependencies, via post-order DFS. Callers must run
// Validate first; TopologicalSort assumes an acyclic graph.
func TopologicalSort(p Pipeline) []string {
	visited := make(map[string]bool, len(p.Stages))
	var order []string

	stageNames := make([]string, len(p.Stages))
	for i, s := range p.Stages {
		stageNames[i] = s.Name
	}
	sort.Strings(stageNames)

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		stage, _ := p.StageByName(name)
		deps := append([]string{}, stage.Needs...)
		sort.Strings(deps)
		for _, dep := range deps {
			visit(dep)
		}
		order = append(order, name)
	}

	for _, name := range stageNames {
		visit(name)
	}
	return order
}

// DepsSatisfied reports whether every dependency of stage is in a
// successful terminal state according to states, and returns the names of
// any that are not.
func DepsSatisfied(stage Stage, states map[string]StageStatus) (bool, []string) {
	var failed []string
	for _, dep := range stage.Needs {
		if states[dep] != StageStatusSucceeded {
			failed = append(failed, dep)
		}
	}
	return len(failed) == 0, failed
}
