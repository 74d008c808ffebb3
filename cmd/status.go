package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/slipway-sh/slipway/internal/engine/docker"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "List slipway-managed containers for this project",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := docker.New()
		if err != nil {
			return err
		}

		containers, err := eng.ListContainers(cmd.Context(), cfg.Name)
		if err != nil {
			return err
		}
		if len(containers) == 0 {
			fmt.Println("No slipway containers found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "NAME\tIMAGE\tSTATE\tSTATUS\tPORTS")
		for _, c := range containers {
			ports := ""
			for _, p := range c.Ports {
				ports += fmt.Sprintf("%s:%d->%d/tcp ", p.HostIP, p.HostPort, p.ContainerPort)
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.Image, c.State, c.Status, ports)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
