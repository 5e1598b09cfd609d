// SPDX-License-Identifier: MPL-2.0

// Package cmd contains the termlaunch command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/invowk/termlaunch/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "termlaunch",
		Short: "Launch commands on the host or inside containers",
		Long: TitleStyle.Render("termlaunch") + SubtitleStyle.Render(" - launch commands on the host or inside containers") + `

termlaunch starts your shell, or any command, in the login session of
the host or in a podman, toolbox, distrobox or docker container. It
escapes a Flatpak sandbox when needed and hands the command a terminal.

Profiles in the configuration file choose the shell, environment and
default container.

` + SubtitleStyle.Render("Examples:") + `
  termlaunch run                       Start the preferred shell
  termlaunch run -c fedora -- make     Run make inside a container
  termlaunch run --dry-run -l          Show what a login shell would run
  termlaunch containers                List launch targets
  termlaunch serve                     Accept SSH sessions with one-time tokens`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			app.initLogging()
		},
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/termlaunch/config.cue)")
	root.PersistentFlags().StringVarP(&app.profile, "profile", "p", "", "profile to use (default from config)")

	root.AddCommand(newRunCommand(app))
	root.AddCommand(newContainersCommand(app))
	root.AddCommand(newShellCommand(app))
	root.AddCommand(newServeCommand(app))
	root.AddCommand(newConfigCommand(app))
	return root
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute runs the command line and exits with the launched command's
// status. It is called by main.main().
func Execute() {
	root := NewRootCommand(NewApp(Dependencies{}))
	// fang overrides root.Version, so the version is passed as an option.
	if err := fang.Execute(
		context.Background(),
		root,
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

// formatErrorForDisplay formats an error for user display. Actionable errors
// list their suggestions; verbose mode adds the full chain.
func formatErrorForDisplay(err error, verbose bool) string {
	if ae, ok := issue.AsActionable(err); ok {
		return ae.Format(verbose)
	}
	return err.Error()
}
