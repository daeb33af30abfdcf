// Package main is the entry point for the scenepipe CLI.
// The CLI submits projects to the controller and follows their jobs.
package main

import (
	"os"

	"scenepipe/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
