// Copyright (C) 2024 The BuildIt Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Command buildit is the control-plane entrypoint: server, scheduler,
// worker, and the one-shot status/retry/dequeue operator commands all live
// behind this single binary.
package main

import "github.com/buildit-ci/buildit/internal/cli"

func main() {
	cli.Execute()
}
