// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/invowk/termlaunch/internal/container"
)

func newContainersCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:     "containers",
		Aliases: []string{"ls"},
		Short:   "List launch targets",
		Long: `List the host session and every container the configured engines
report. The ID column is what 'termlaunch run --container' expects.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := app.loadConfig(ctx)
			if err != nil {
				return err
			}
			st := app.newStack(ctx, cfg, nil, true)
			return listContainers(cmd.OutOrStdout(), st.launcher.Targets())
		},
	}
}

func listContainers(w io.Writer, targets []container.Container) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tKIND\tPROVIDER\tID")
	for _, c := range targets {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.DisplayName(), c.Kind(), c.Provider(), c.ID())
	}
	return tw.Flush()
}
