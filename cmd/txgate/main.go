// Package main is the entry point for the txgate CLI.
package main

import (
	"os"

	"github.com/seqlabs/txgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.ExitCode(err))
	}
}
