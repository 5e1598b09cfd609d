// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/invowk/termlaunch/internal/config"
	"github.com/invowk/termlaunch/internal/metrics"
	"github.com/invowk/termlaunch/internal/sshserver"
)

const metricsShutdownTimeout = 5 * time.Second

type serveOptions struct {
	addr        string
	metricsAddr string
	container   string
	requirePTY  bool
}

func newServeCommand(app *App) *cobra.Command {
	var opts serveOptions
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve terminal sessions over SSH",
		Long: `Start an SSH server that launches the selected profile for every
session. Clients authenticate with a one-time token printed at startup;
each token works once and expires after ssh.token_ttl.

The server runs until interrupted. Podman's container list is watched so
new containers become targets without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, app, opts)
		},
	}
	serveCmd.Flags().StringVar(&opts.addr, "addr", "", "SSH listen address as host:port (default from config)")
	serveCmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (default from config)")
	serveCmd.Flags().StringVarP(&opts.container, "container", "c", "", "target container id for the printed token (default from profile)")
	serveCmd.Flags().BoolVar(&opts.requirePTY, "require-pty", false, "reject sessions that do not request a terminal")
	return serveCmd
}

// sshConfig merges the config file and the command line flags.
func (o serveOptions) sshConfig(c config.SSHConfig) (sshserver.Config, error) {
	cfg := sshserver.ConfigFrom(c)
	cfg.RequirePTY = o.requirePTY
	if o.addr == "" {
		return cfg, nil
	}
	host, port, err := net.SplitHostPort(o.addr)
	if err != nil {
		return cfg, fmt.Errorf("invalid --addr %q: %w", o.addr, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return cfg, fmt.Errorf("invalid --addr port %q: %w", port, err)
	}
	if host != "" {
		cfg.Host = sshserver.HostAddress(host)
	}
	cfg.Port = n
	return cfg, nil
}

func runServe(cmd *cobra.Command, app *App, opts serveOptions) error {
	ctx := cmd.Context()
	logger := log.Default().WithPrefix("serve")

	cfg, err := app.loadConfig(ctx)
	if err != nil {
		return err
	}
	profile, err := selectProfile(cfg, app.profile)
	if err != nil {
		return err
	}
	sshCfg, err := opts.sshConfig(cfg.SSH)
	if err != nil {
		return err
	}
	metricsAddr := opts.metricsAddr
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.Addr
	}

	m := metrics.New()
	st := app.newStack(ctx, cfg, m, true)

	srv := sshserver.New(sshCfg, sshserver.Options{Launcher: st.launcher, Metrics: m})
	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = srv.Stop() }()

	if metricsAddr != "" {
		stop, err := serveMetrics(ctx, metricsAddr, m, logger)
		if err != nil {
			return err
		}
		defer stop()
	}

	errOut := cmd.ErrOrStderr()
	go func() {
		if err := st.registry.Watch(ctx); err != nil {
			printWatchStopped(errOut, err)
		}
	}()

	target := opts.container
	if target == "" {
		target = profile.TargetContainer()
	}
	info, err := srv.ConnectionInfo(sshserver.Grant{Profile: profile, Container: target})
	if err != nil {
		return err
	}
	printConnectionInfo(cmd.OutOrStdout(), info, metricsAddr)

	select {
	case <-ctx.Done():
		return nil
	case err, ok := <-srv.Err():
		if ok && err != nil {
			return err
		}
		return nil
	}
}

// serveMetrics exposes m on addr until the returned stop function is
// called.
func serveMetrics(ctx context.Context, addr string, m *metrics.Metrics, logger *log.Logger) (stop func(), err error) {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen for metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	hs := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	logger.Info("metrics server started", "address", ln.Addr().String())

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsShutdownTimeout)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}, nil
}

func printWatchStopped(w io.Writer, err error) {
	fmt.Fprintf(w, "%s container list is no longer watched: %v\n", WarningStyle.Render("Warning:"), err)
	fmt.Fprintln(w, SubtitleStyle.Render("Containers created from now on need a server restart."))
}

func printConnectionInfo(w io.Writer, info *sshserver.ConnectionInfo, metricsAddr string) {
	fmt.Fprintln(w, TitleStyle.Render("SSH server ready"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Connect:"),
		CmdStyle.Render(fmt.Sprintf("ssh -p %d %s@%s", info.Port, info.User, info.Host)))
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Token:"), info.Token)
	fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Expires:"), info.ExpiresAt.Local().Format(time.Kitchen))
	if metricsAddr != "" {
		fmt.Fprintf(w, "  %s %s\n", labelStyle.Render("Metrics:"), "http://"+metricsAddr+"/metrics")
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, SubtitleStyle.Render("The token is the SSH password and works for one session."))
}
