// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package orchestrator

import (
	"github.com/itchyny/gojq"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/variables"
)

// EvaluateCondition resolves the Open Question on condition-language
// semantics (spec.md §9): a stage's `when` attribute is a gojq filter
// evaluated against a JSON projection of the variable context. A truthy
// result (present, non-null, non-false, and — for strings/arrays/objects —
// non-empty) lets the stage run; anything else skips it. An empty `when`
// always runs.
func EvaluateCondition(when string, ctx variables.Context) (bool, error) {
	if when == "" {
		return true, nil
	}

	query, err := gojq.Parse(when)
	if err != nil {
		return false, engineerr.Wrap(engineerr.KindInvalidInput, "parsing when condition", err)
	}

	input := projectContext(ctx)
	iter := query.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false, nil
	}
	if err, isErr := v.(error); isErr {
		return false, engineerr.Wrap(engineerr.KindInvalidInput, "evaluating when condition", err)
	}
	return isTruthy(v), nil
}

func isTruthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	default:
		return true
	}
}

func projectContext(ctx variables.Context) map[string]any {
	return map[string]any{
		"git": map[string]any{
			"sha":          ctx.Git.SHA,
			"short_sha":    ctx.Git.ShortSHA(),
			"branch":       ctx.Git.Branch,
			"tag":          ctx.Git.Tag,
			"ref_name":     ctx.Git.RefName,
			"message":      ctx.Git.Message,
			"author":       ctx.Git.Author,
			"author_email": ctx.Git.AuthorEmail,
		},
		"pipeline": map[string]any{"name": ctx.Pipeline.Name},
		"run":      map[string]any{"id": ctx.Run.ID, "number": ctx.Run.Number},
		"stage":    map[string]any{"name": ctx.Stage.Name},
		"env":      stringMapToAny(ctx.Env),
		"custom":   stringMapToAny(ctx.Custom),
	}
}

func stringMapToAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
