// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/termlaunch/internal/config"
	"github.com/invowk/termlaunch/internal/fdtable"
	"github.com/invowk/termlaunch/internal/issue"
	"github.com/invowk/termlaunch/internal/launcher"
	"github.com/invowk/termlaunch/internal/runctx"
)

// ErrInvalidEnvFlag is returned for an --env value that is not KEY=VALUE.
var ErrInvalidEnvFlag = errors.New("invalid --env value")

type runOptions struct {
	container   string
	login       bool
	interactive bool
	cwd         string
	env         []string
	dryRun      bool
	pty         bool
}

func newRunCommand(app *App) *cobra.Command {
	var opts runOptions
	runCmd := &cobra.Command{
		Use:   "run [flags] [-- command [args...]]",
		Short: "Run a command, or the preferred shell, in a target",
		Long: `Run a command in the host session or in a container.

Without a command the profile's custom command runs when it is enabled,
otherwise the preferred shell. The exit status of the command becomes the
exit status of termlaunch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLaunch(cmd, app, opts, args)
		},
	}
	runCmd.Flags().SetInterspersed(false)

	runCmd.Flags().StringVarP(&opts.container, "container", "c", "", "target container id (default from profile)")
	runCmd.Flags().BoolVarP(&opts.login, "login", "l", false, "run as a login shell")
	runCmd.Flags().BoolVarP(&opts.interactive, "interactive", "i", false, "run as an interactive shell")
	runCmd.Flags().StringVar(&opts.cwd, "cwd", "", "working directory (default is the current directory)")
	runCmd.Flags().StringArrayVarP(&opts.env, "env", "e", nil, "set an environment variable (KEY=VALUE, repeatable)")
	runCmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "print the command that would run without starting it")
	runCmd.Flags().BoolVarP(&opts.pty, "pty", "t", false, "run the command on a new pseudo-terminal")
	runCmd.MarkFlagsMutuallyExclusive("login", "interactive")
	runCmd.MarkFlagsMutuallyExclusive("dry-run", "pty")

	return runCmd
}

func (o runOptions) shellMode() config.ShellMode {
	switch {
	case o.login:
		return config.ShellModeLogin
	case o.interactive:
		return config.ShellModeInteractive
	default:
		return ""
	}
}

func (o runOptions) target(p config.Profile) string {
	if o.container != "" {
		return o.container
	}
	return p.TargetContainer()
}

func (o runOptions) request(p config.Profile, args []string) (launcher.Request, error) {
	for _, entry := range o.env {
		if key, _, ok := strings.Cut(entry, "="); !ok || key == "" {
			return launcher.Request{}, fmt.Errorf("%w %q: expected KEY=VALUE", ErrInvalidEnvFlag, entry)
		}
	}
	cwd := o.cwd
	if cwd == "" {
		// An unreadable working directory falls back to $HOME downstream.
		cwd, _ = os.Getwd()
	}
	return launcher.Request{
		Profile:     p,
		ContainerID: o.container,
		Argv:        slices.Clone(args),
		Env:         slices.Clone(o.env),
		Cwd:         cwd,
		ShellMode:   o.shellMode(),
	}, nil
}

func runLaunch(cmd *cobra.Command, app *App, opts runOptions, args []string) error {
	ctx := cmd.Context()
	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	profile, err := selectProfile(cfg, app.profile)
	if err != nil {
		return err
	}
	req, err := opts.request(profile, args)
	if err != nil {
		return err
	}

	target := opts.target(profile)
	st := app.newStack(ctx, cfg, nil, target != config.SessionContainer)

	if opts.dryRun {
		c, err := st.launcher.DryRun(ctx, req)
		if err != nil {
			return app.launchFailed(cmd, err)
		}
		defer func() { _ = c.Close() }()
		return renderDryRun(cmd.OutOrStdout(), target, c)
	}

	if opts.pty {
		return runInTerminal(cmd, app, st.launcher, req)
	}

	fds, err := stdioTable()
	if err != nil {
		return err
	}
	req.FDs = fds
	job, err := st.launcher.Launch(ctx, req)
	if err != nil {
		return app.launchFailed(cmd, err)
	}
	return waitJob(ctx, cmd, job)
}

// selectProfile resolves name, or the configured default when it is empty.
func selectProfile(cfg *config.Config, name string) (config.Profile, error) {
	p, err := cfg.Profile(name)
	if err != nil {
		return config.Profile{}, issue.NewErrorContext().
			WithOperation("select profile").
			WithResource(name).
			WithSuggestion("Run 'termlaunch config show' to list the configured profiles").
			Wrap(err).
			BuildError()
	}
	return p, nil
}

// stdioTable duplicates the process's standard streams into slots 0-2.
func stdioTable() (*fdtable.Table, error) {
	t := fdtable.New()
	for slot, f := range []*os.File{os.Stdin, os.Stdout, os.Stderr} {
		d, err := fdtable.Dup(f)
		if err != nil {
			_ = t.Close()
			return nil, err
		}
		if err := t.Take(d, slot); err != nil {
			_ = t.Close()
			return nil, err
		}
	}
	return t, nil
}

// waitJob waits for job and turns a non-zero status into an ExitError. When
// ctx ends first the child is killed and its status is still collected.
func waitJob(ctx context.Context, cmd *cobra.Command, job *launcher.Job) error {
	if err := job.Wait(ctx); err != nil && ctx.Err() != nil {
		_ = job.Wait(context.WithoutCancel(ctx))
	}
	code := exitStatus(job)
	if code == 0 {
		return nil
	}
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: code}
}

// launchFailed prints err with its suggestions and, for known failures, the
// longer explanation of the issue.
func (a *App) launchFailed(cmd *cobra.Command, err error) error {
	w := cmd.ErrOrStderr()
	fmt.Fprintln(w, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, a.verbose))
	if ae, ok := issue.AsActionable(err); ok && ae.IssueID != 0 {
		if is := issue.Get(ae.IssueID); is != nil {
			if rendered, rerr := is.Render(glamourStyle(w)); rerr == nil {
				fmt.Fprint(w, rendered)
			}
		}
	}
	cmd.SilenceErrors = true
	cmd.SilenceUsage = true
	return &ExitError{Code: 1, Err: err}
}

// glamourStyle picks the colored style for terminals and plain text
// otherwise.
func glamourStyle(w io.Writer) string {
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "dark"
	}
	return "notty"
}

// renderDryRun prints what Launch would start. Environment values are left
// out; only the variable names are listed.
func renderDryRun(w io.Writer, target string, c *runctx.Command) error {
	argv := make([]string, 0, len(c.Argv))
	for _, arg := range runctx.RedactArgv(c.Argv) {
		q, err := syntax.Quote(arg, syntax.LangBash)
		if err != nil {
			return fmt.Errorf("quote %q: %w", arg, err)
		}
		argv = append(argv, q)
	}

	fmt.Fprintln(w, TitleStyle.Render("Dry Run"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Target:"), target)
	if c.Dir != "" {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Dir:"), c.Dir)
	}
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Command:"), strings.Join(argv, " "))
	if c.Interactive {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Terminal:"), "yes")
	}

	if len(c.Env) > 0 {
		names := make([]string, 0, len(c.Env))
		for _, entry := range c.Env {
			name, _, _ := strings.Cut(entry, "=")
			names = append(names, name)
		}
		slices.Sort(names)
		fmt.Fprintln(w)
		fmt.Fprintln(w, labelStyle.Render("  Environment:"))
		for _, name := range slices.Compact(names) {
			fmt.Fprintf(w, "    %s\n", name)
		}
	}
	fmt.Fprintln(w)
	return nil
}
