// Package main provides the entry point for fabrictl.
//
// fabrictl is the admin CLI for a RelayMesh cluster: it drives a
// fabricd node's /health, /rpc, and /internal/ca-cert endpoints,
// either as single commands or from an interactive REPL when invoked
// with no arguments.
package main

import (
	"fmt"
	"os"

	"github.com/relaymesh/fabric/internal/cli/command"
	"github.com/relaymesh/fabric/internal/cli/repl"
)

func main() {
	if len(os.Args) == 1 {
		if err := repl.New().Run(); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := command.App().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
