// Package main provides the token-rollup CLI application.
//
// token-rollup ingests the JSONL usage logs written by AI coding agents,
// folds them into 30-minute per-session token buckets stored in BoltDB and
// answers queries over those buckets.
package main

import (
	"fmt"
	"os"
)

// version is set during build time.
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
