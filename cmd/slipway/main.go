package main

import (
	"os"

	"github.com/slipway-sh/slipway/cmd"
)

func main() {
	// All logic lives in the cmd package; a non-zero application exit code
	// is handled there so the container contract survives cobra.
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
