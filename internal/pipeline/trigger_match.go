// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package pipeline

import "github.com/bmatcuk/doublestar/v4"

// Event is the minimal shape of an inbound git event (from a webhook
// receiver, which is out of scope — only the matching logic lives here).
type Event struct {
	Kind          TriggerKind
	Branch        string
	Tag           string
	ChangedPaths  []string
}

// MatchTrigger reports whether event satisfies trigger's branch/path/tag
// glob filters. It is pure and has no knowledge of how event was received.
func MatchTrigger(trigger Trigger, event Event) bool {
	if trigger.Kind != event.Kind {
		return false
	}
	switch trigger.Kind {
	case TriggerPush, TriggerPullRequest:
		if !matchAny(trigger.Branches, event.Branch) {
			return false
		}
		if len(trigger.Paths) > 0 && !matchAnyPath(trigger.Paths, event.ChangedPaths) {
			return false
		}
		return true
	case TriggerTag:
		ok, _ := doublestar.Match(trigger.Pattern, event.Tag)
		return ok
	case TriggerManual, TriggerSchedule, TriggerRetry:
		return true
	default:
		return false
	}
}

func matchAny(patterns []string, value string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, value); ok {
			return true
		}
	}
	return false
}

func matchAnyPath(patterns []string, paths []string) bool {
	for _, path := range paths {
		if matchAny(patterns, path) {
			return true
		}
	}
	return false
}
