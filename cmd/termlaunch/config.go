// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/invowk/termlaunch/internal/config"
	"github.com/invowk/termlaunch/internal/issue"
)

// newConfigCommand creates the `termlaunch config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage termlaunch configuration",
		Long: `Manage termlaunch configuration.

Configuration is stored in:
  - Linux: $XDG_CONFIG_HOME/termlaunch/config.cue (~/.config/termlaunch/config.cue)
  - macOS: ~/Library/Application Support/termlaunch/config.cue

Any setting can be overridden with a TERMLAUNCH_ environment variable,
for example TERMLAUNCH_CONTAINER_ENGINE=podman.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				if rendered, rerr := issue.Get(issue.ConfigLoadFailedId).Render(glamourStyle(cmd.ErrOrStderr())); rerr == nil {
					fmt.Fprint(cmd.ErrOrStderr(), rendered)
				}
				return err
			}
			showConfig(cmd.OutOrStdout(), cfg)
			return nil
		},
	})

	var force, printOnly bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if printOnly {
				fmt.Fprint(cmd.OutOrStdout(), config.GenerateCUE(config.DefaultConfig()))
				return nil
			}
			return initConfig(cmd.OutOrStdout(), app.cfgFile, force)
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	initCmd.Flags().BoolVar(&printOnly, "print", false, "print the default configuration instead of writing it")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := config.Path(config.LoadOptions{ConfigFilePath: app.cfgFile})
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	})

	return cfgCmd
}

func showConfig(w io.Writer, cfg *config.Config) {
	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)

	if cfg.Source != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), cfg.Source)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("container_engine"), valueStyle.Render(cfg.ContainerEngine.String()))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("default_profile"), valueStyle.Render(cfg.DefaultProfile))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("profiles"))
	for _, name := range slices.Sorted(maps.Keys(cfg.Profiles)) {
		p := cfg.Profiles[name]
		fmt.Fprintf(w, "  %s\n", valueStyle.Render(name))
		shell := p.Shell
		if shell == "" {
			shell = SubtitleStyle.Render("(preferred)")
		}
		fmt.Fprintf(w, "    shell: %s (%s)\n", shell, p.ShellMode)
		fmt.Fprintf(w, "    container: %s\n", p.TargetContainer())
		fmt.Fprintf(w, "    preserve_directory: %s\n", p.PreserveDirectory)
		if p.UseCustomCommand {
			fmt.Fprintf(w, "    custom_command: %s\n", p.CustomCommand)
		}
		if len(p.PassEnv) > 0 {
			fmt.Fprintf(w, "    pass_env: %s\n", strings.Join(p.PassEnv, ", "))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("ssh"))
	fmt.Fprintf(w, "  host: %s\n", valueStyle.Render(cfg.SSH.Host))
	fmt.Fprintf(w, "  port: %s\n", valueStyle.Render(fmt.Sprint(cfg.SSH.Port)))
	fmt.Fprintf(w, "  token_ttl: %s\n", valueStyle.Render(cfg.SSH.TokenTTL.String()))

	if cfg.Metrics.Addr != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("metrics.addr"), valueStyle.Render(cfg.Metrics.Addr))
	}
}

func initConfig(w io.Writer, cfgFile string, force bool) error {
	path, err := config.Path(config.LoadOptions{ConfigFilePath: cfgFile})
	if err != nil {
		return err
	}
	if err := config.WriteDefault(path, force); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return issue.NewErrorContext().
				WithOperation("create configuration").
				WithResource(path).
				WithSuggestion("Pass --force to overwrite it").
				Wrap(err).
				BuildError()
		}
		return fmt.Errorf("failed to create config: %w", err)
	}
	fmt.Fprintf(w, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}
