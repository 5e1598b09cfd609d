// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/invowk/termlaunch/internal/config"
)

func newShellCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Print the preferred shell",
		Long: `Print the shell termlaunch starts when a profile does not name one.
Inside a Flatpak sandbox the host's account database is asked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			st := app.newStack(cmd.Context(), config.DefaultConfig(), nil, false)
			fmt.Fprintln(cmd.OutOrStdout(), st.launcher.PreferredShell(cmd.Context()))
			return nil
		},
	}
}
