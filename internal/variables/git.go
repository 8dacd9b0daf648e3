// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package variables

import (
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// envFallbacks lists, in priority order, the environment variables each git
// field may arrive in depending on which CI vendor's webhook triggered the
// run (BuildIt's own env wins, then a generic one, then vendor-specific
// ones) — mirrors populate_git_from_env in the original implementation.
var envFallbacks = map[string][]string{
	"sha":    {"BUILDIT_COMMIT_SHA", "GIT_COMMIT", "GITHUB_SHA", "CI_COMMIT_SHA"},
	"branch": {"BUILDIT_BRANCH", "GIT_BRANCH", "GITHUB_REF_NAME", "CI_COMMIT_BRANCH"},
	"author": {"BUILDIT_COMMIT_AUTHOR", "GIT_AUTHOR_NAME", "CI_COMMIT_AUTHOR"},
}

// PopulateGitFromEnv fills in GitContext fields from whichever of the
// environment variables in envFallbacks is set, leaving fields blank rather
// than erroring when none are present.
func (c *Context) PopulateGitFromEnv() {
	c.Git.SHA = firstEnv(envFallbacks["sha"])
	c.Git.Branch = firstEnv(envFallbacks["branch"])
	c.Git.Author = firstEnv(envFallbacks["author"])
}

func firstEnv(names []string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// PopulateGitFromRepo resolves HEAD's sha/branch/message/author directly
// from a local clone at repoPath using go-git, rather than shelling out to
// the `git` binary (the original implementation's approach, which this repo
// intentionally deviates from: invoking an external process to read
// repository metadata is an unnecessary command-injection surface when a
// pure-Go implementation of the same read is available).
func (c *Context) PopulateGitFromRepo(repoPath string) error {
	repo, err := git.PlainOpen(repoPath)
	if err != nil {
		return fmt.Errorf("variables: opening repo at %s: %w", repoPath, err)
	}

	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("variables: resolving HEAD: %w", err)
	}

	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return fmt.Errorf("variables: reading HEAD commit: %w", err)
	}

	c.Git.SHA = head.Hash().String()
	c.Git.RefName = head.Name().String()
	c.Git.Message = commit.Message
	c.Git.Author = commit.Author.Name
	c.Git.AuthorEmail = commit.Author.Email

	if head.Name().IsBranch() {
		c.Git.Branch = head.Name().Short()
	}

	tagRefs, err := repo.Tags()
	if err == nil {
		_ = tagRefs.ForEach(func(ref *plumbing.Reference) error {
			if ref.Hash() == head.Hash() && c.Git.Tag == "" {
				c.Git.Tag = ref.Name().Short()
			}
			return nil
		})
	}
	return nil
}
