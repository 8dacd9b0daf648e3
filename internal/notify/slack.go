// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package notify sends a run's final outcome to Slack, implementing
// orchestrator.Notifier. This supplements a feature spec.md's distillation
// dropped: the original implementation's design treats pipeline completion
// as an event any external system may subscribe to, and Slack is the
// concrete notification sink chosen here.
package notify

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/buildit-ci/buildit/internal/engineerr"
	"github.com/buildit-ci/buildit/internal/pipeline"
)

// SlackNotifier posts one message per completed run to a fixed channel.
type SlackNotifier struct {
	client  *slack.Client
	channel string
}

// NewSlackNotifier builds a notifier posting to channel using token (a
// bot token with chat:write scope).
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{client: slack.New(token), channel: channel}
}

// NotifyPipelineCompleted implements orchestrator.Notifier.
func (n *SlackNotifier) NotifyPipelineCompleted(ctx context.Context, run pipeline.Run, success bool) error {
	text := completionMessage(run, success)

	_, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false))
	if err != nil {
		return engineerr.Wrap(engineerr.KindInternal, "posting slack notification", err)
	}
	return nil
}

// completionMessage formats the text posted for a finished run. Split out
// from NotifyPipelineCompleted so the formatting can be checked without a
// live Slack API call.
func completionMessage(run pipeline.Run, success bool) string {
	icon := ":white_check_mark:"
	verb := "succeeded"
	if !success {
		icon = ":x:"
		verb = "failed"
	}

	return fmt.Sprintf("%s *%s* run #%d %s (%s @ %s)",
		icon, run.PipelineName, run.RunNumber, verb, run.Git.ShortSHA, run.Git.Branch)
}
