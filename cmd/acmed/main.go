// Command acmed is the automated ACME certificate lifecycle daemon: it
// loads a TOML configuration, builds the configured endpoints,
// accounts and certificates, and runs one renewal goroutine per
// certificate until asked to stop.
package main

import (
	"fmt"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

// run builds and executes the root command, translating failures into
// the exit codes spec.md §6.1 assigns: 0 success, 1 runtime error,
// 2 CLI parse error, 3 startup error.
func run(args []string) int {
	root := newRootCommand()
	root.SetArgs(args)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "acmed: %s\n", err)
		return exitCodeFor(err)
	}
	return 0
}
