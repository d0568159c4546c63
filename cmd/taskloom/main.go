// Command taskloom is the CLI entry point for the task orchestrator.
package main

import (
	"fmt"
	"os"

	"github.com/ellwood/taskloom/internal/cmd"
)

// Version is the current version of taskloom.
const Version = "0.1.0"

func main() {
	root := cmd.NewRootCommand(Version)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
