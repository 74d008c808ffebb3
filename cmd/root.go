package cmd

import (
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/config"
)

var (
	cfg     *config.Project
	logger  *log.Logger
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "slipway",
	Short: "Slipway: build a web application image and bootstrap its process",
	// PersistentPreRunE runs before every subcommand, so each one starts
	// from a validated project config and a configured logger.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = log.NewWithOptions(os.Stderr, log.Options{
			ReportTimestamp: true,
			Prefix:          "slipway",
		})
		if verbose {
			logger.SetLevel(log.DebugLevel)
		}

		loaded, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger.Debug("project loaded", "name", cfg.Name, "base", cfg.BaseImage)
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "slipway.yaml", "project file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}
