// Copyright 2025 The HealthNav Authors
// SPDX-License-Identifier: Apache-2.0

// Command healthnav runs the health navigator from a terminal: an
// interactive chat against the router, plus session inspection helpers.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
