// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParse_SimplePipeline(t *testing.T) {
	src := `
pipeline "example"
on "push" {
    branches "main"
}
stage "build" {
    image "golang:1.23"
    run "go build ./..."
}
`
	p, err := Parse(src)
	require.NoError(t, err)
	require.Equal(t, "example", p.Name)
	require.Len(t, p.Triggers, 1)
	require.Equal(t, TriggerPush, p.Triggers[0].Kind)
	require.Equal(t, []string{"main"}, p.Triggers[0].Branches)
	require.Len(t, p.Stages, 1)
	require.Equal(t, "golang:1.23", p.Stages[0].Image)
	require.Equal(t, []string{"go build ./..."}, p.Stages[0].Run)
}

func TestParse_PushDefaultsToAllBranches(t *testing.T) {
	src := `
pipeline "example"
on "push" {
}
stage "build" {
    image "golang:1.23"
    run "go build ./..."
}
`
	p, err := Parse(src)
	require.NoError(t, err)
	require.Equal(t, []string{"*"}, p.Triggers[0].Branches)
}

func TestParse_Dependencies(t *testing.T) {
	src := `
pipeline "example"
stage "lint" {
    image "golangci/golangci-lint"
    run "golangci-lint run"
}
stage "build" {
    image "golang:1.23"
    needs "lint"
    run "go build ./..."
}
`
	p, err := Parse(src)
	require.NoError(t, err)
	require.NoError(t, Validate(p))

	build, ok := p.StageByName("build")
	require.True(t, ok)
	require.Equal(t, []string{"lint"}, build.Needs)
}

func TestValidate_MissingDependency(t *testing.T) {
	p := Pipeline{
		Name: "example",
		Stages: []Stage{
			{Name: "build", Image: "golang:1.23", Needs: []string{"missing"}, Run: []string{"go build"}},
		},
	}
	err := Validate(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown stage")
}

func TestValidate_CycleDetection(t *testing.T) {
	p := Pipeline{
		Name: "example",
		Stages: []Stage{
			{Name: "a", Image: "x", Needs: []string{"b"}, Run: []string{"true"}},
			{Name: "b", Image: "x", Needs: []string{"c"}, Run: []string{"true"}},
			{Name: "c", Image: "x", Needs: []string{"a"}, Run: []string{"true"}},
		},
	}
	err := Validate(p)
	require.Error(t, err)
	require.Contains(t, err.Error(), "cycle")
}

func TestValidate_InvalidShell(t *testing.T) {
	p := Pipeline{
		Name: "example",
		Stages: []Stage{
			{Name: "build", Image: "golang:1.23", Run: []string{"echo \"unterminated"}},
		},
	}
	err := Validate(p)
	require.Error(t, err)
}

func TestValidate_InvalidCron(t *testing.T) {
	p := Pipeline{
		Name:     "example",
		Triggers: []Trigger{{Kind: TriggerSchedule, Cron: "not a cron"}},
		Stages: []Stage{
			{Name: "build", Image: "golang:1.23", Run: []string{"true"}},
		},
	}
	err := Validate(p)
	require.Error(t, err)
}

func TestTopologicalSort_Order(t *testing.T) {
	p := Pipeline{
		Name: "example",
		Stages: []Stage{
			{Name: "deploy", Image: "x", Needs: []string{"build", "test"}},
			{Name: "build", Image: "x"},
			{Name: "test", Image: "x", Needs: []string{"build"}},
		},
	}
	order := TopologicalSort(p)
	pos := map[string]int{}
	for i, n := range order {
		pos[n] = i
	}
	require.Less(t, pos["build"], pos["test"])
	require.Less(t, pos["test"], pos["deploy"])
}

func TestParse_MissingImage(t *testing.T) {
	src := `
pipeline "example"
stage "build" {
    run "go build"
}
`
	_, err := Parse(src)
	require.Error(t, err)
}

func TestParse_CacheBlock(t *testing.T) {
	src := `
pipeline "example"
cache {
    path ".cargo"
    key "cargo-lock"
    restore-keys "cargo-"
}
stage "build" {
    image "rust:1.80"
    run "cargo build"
}
`
	p, err := Parse(src)
	require.NoError(t, err)
	require.NotNil(t, p.Cache)
	require.Equal(t, ".cargo", p.Cache.Path)
	require.Equal(t, "cargo-lock", p.Cache.Key)
	require.Equal(t, []string{"cargo-"}, p.Cache.RestoreKeys)
}
