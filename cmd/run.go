package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/bootstrap"
	"github.com/slipway-sh/slipway/internal/engine/docker"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Bootstrap the built image as one foreground process",
	Long: `Run starts exactly one container from the project image, bound to the
configured host and port, with log output streamed unbuffered. The command
blocks until the process stops and exits with the process's exit code.
SLIPWAY_* environment variables override the baked-in contract.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := docker.New()
		if err != nil {
			return err
		}

		runner := &bootstrap.Runner{Engine: eng, Logger: logger}
		code, err := runner.Run(cmd.Context(), cfg, os.Environ())
		if err != nil {
			return err
		}
		if code != 0 {
			// The container's exit code is the contract; don't flatten it to 1.
			os.Exit(code)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
