// Package main is the entry point for the labfleet CLI.
//
// labfleet runs one long-running remote provisioning command on every host of
// a lab fleet, routed through a relay host, with bounded concurrency,
// retries, per-target logs, and a summary that drives selective re-runs.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
