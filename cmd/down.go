package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/engine/docker"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove the project's container",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		eng, err := docker.New()
		if err != nil {
			return err
		}

		name := cfg.ContainerName()
		grace := time.Duration(cfg.StopGraceSeconds) * time.Second
		if err := eng.StopContainer(ctx, name, grace); err != nil {
			// Already stopped or never started; removal below still applies.
			logger.Debug("stop skipped", "container", name, "err", err)
		}
		if err := eng.RemoveContainer(ctx, name, true); err != nil {
			return err
		}
		logger.Info("container removed", "container", name)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downCmd)
}
