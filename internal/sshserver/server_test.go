// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/testutil"
	gossh "golang.org/x/crypto/ssh"

	"github.com/invowk/termlaunch/internal/config"
	"github.com/invowk/termlaunch/internal/container"
	"github.com/invowk/termlaunch/internal/launcher"
	"github.com/invowk/termlaunch/internal/metrics"
	"github.com/invowk/termlaunch/internal/runctx"
	tutil "github.com/invowk/termlaunch/internal/testutil"
	"github.com/invowk/termlaunch/pkg/platform"
)

func quietServer(opts Options) *Server {
	opts.Logger = log.New(io.Discard)
	return New(DefaultConfig(), opts)
}

// hostLauncher launches into the host session with the test's PATH only.
func hostLauncher() *launcher.Launcher {
	none := platform.SandboxNone
	session := &container.Session{
		Sandbox: &none,
		Environ: func() []string { return []string{"PATH=" + os.Getenv("PATH")} },
	}
	return launcher.New(launcher.Options{
		Registry: container.NewRegistry(session),
		Logger:   log.New(io.Discard),
		Sandbox:  &none,
		RunctxOptions: []runctx.Option{
			runctx.WithSandbox(platform.SandboxNone),
			runctx.WithEnviron(func() []string { return nil }),
			runctx.WithScopeAvailable(func() bool { return false }),
		},
		LookupEnv: func(key string) (string, bool) {
			if key == "SHELL" {
				return "/bin/sh", true
			}
			return "", false
		},
	})
}

func startServer(t *testing.T, opts Options) *Server {
	t.Helper()
	srv := quietServer(opts)
	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { tutil.MustStop(t, srv) })
	return srv
}

func dial(t *testing.T, srv *Server, token TokenValue) (*gossh.Client, error) {
	t.Helper()
	return gossh.Dial("tcp", srv.Address(), &gossh.ClientConfig{
		User:            "termlaunch",
		Auth:            []gossh.AuthMethod{gossh.Password(string(token))},
		HostKeyCallback: gossh.InsecureIgnoreHostKey(), //nolint:gosec // loopback test server
		Timeout:         5 * time.Second,
	})
}

func TestServerStartStop(t *testing.T) {
	t.Parallel()

	srv := quietServer(Options{})
	if srv.State() != StateCreated || srv.IsRunning() {
		t.Fatalf("State() = %s before Start", srv.State())
	}
	if srv.Address() != "" || srv.Port() != 0 {
		t.Errorf("Address() = %q before Start, want empty", srv.Address())
	}

	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !srv.IsRunning() {
		t.Errorf("State() = %s after Start, want running", srv.State())
	}
	if srv.Port() == 0 || !strings.HasPrefix(srv.Address(), "127.0.0.1:") {
		t.Errorf("Address() = %q, Port() = %d", srv.Address(), srv.Port())
	}

	if err := srv.Start(t.Context()); err == nil {
		t.Error("second Start() succeeded")
	}

	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if srv.State() != StateStopped {
		t.Errorf("State() = %s after Stop, want stopped", srv.State())
	}
	if err := srv.Stop(); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
	if err := srv.Wait(); err != nil {
		t.Errorf("Wait() after Stop error = %v", err)
	}
	if _, open := <-srv.Err(); open {
		t.Error("Err() channel still open after Stop")
	}
}

func TestServerStopWithoutStart(t *testing.T) {
	t.Parallel()

	srv := quietServer(Options{})
	if err := srv.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if srv.State() != StateStopped {
		t.Errorf("State() = %s, want stopped", srv.State())
	}
	if err := srv.Start(t.Context()); err == nil {
		t.Error("Start() after Stop succeeded")
	}
}

func TestServerStartCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	srv := quietServer(Options{})
	err := srv.Start(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Start() error = %v, want context.Canceled", err)
	}
	if srv.State() != StateFailed {
		t.Errorf("State() = %s, want failed", srv.State())
	}
	if srv.Wait() == nil {
		t.Error("Wait() = nil for a failed server")
	}
}

func TestServerStartPortInUse(t *testing.T) {
	t.Parallel()

	first := startServer(t, Options{})

	cfg := DefaultConfig()
	cfg.Port = first.Port()
	second := New(cfg, Options{Logger: log.New(io.Discard)})
	if err := second.Start(t.Context()); err == nil {
		tutil.MustStop(t, second)
		t.Fatal("Start() on a used port succeeded")
	}
	if second.State() != StateFailed {
		t.Errorf("State() = %s, want failed", second.State())
	}
}

func TestServerInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Port = -1
	srv := New(cfg, Options{Logger: log.New(io.Discard)})
	if err := srv.Start(t.Context()); !errors.Is(err, ErrInvalidSSHConfig) {
		t.Errorf("Start() error = %v, want ErrInvalidSSHConfig", err)
	}
}

func TestConnectionInfo(t *testing.T) {
	t.Parallel()

	srv := quietServer(Options{})
	if _, err := srv.ConnectionInfo(Grant{}); err == nil {
		t.Error("ConnectionInfo() succeeded before Start")
	}
	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tutil.MustStop(t, srv)

	info, err := srv.ConnectionInfo(Grant{Container: container.SessionID})
	if err != nil {
		t.Fatalf("ConnectionInfo() error = %v", err)
	}
	if info.Port != srv.Port() || info.Host != "127.0.0.1" || info.User != "termlaunch" || info.Token == "" {
		t.Errorf("ConnectionInfo() = %+v", info)
	}
	if !srv.RevokeToken(info.Token) {
		t.Error("RevokeToken() = false for the issued token")
	}
}

func TestSession_RunsCommandOnce(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	srv := startServer(t, Options{Launcher: hostLauncher(), Metrics: m})
	tok := srv.IssueToken(Grant{Profile: config.DefaultProfileValue(), Container: container.SessionID})

	client, err := dial(t, srv, tok.Value)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	out, err := sess.Output("echo hello")
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if string(out) != "hello\n" {
		t.Errorf("output = %q, want %q", out, "hello\n")
	}

	if _, err := dial(t, srv, tok.Value); err == nil {
		t.Error("a used token authenticated a second time")
	}
	if got := testutil.ToFloat64(m.SSHAuthFailures); got != 1 {
		t.Errorf("auth failures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.SSHSessionsTotal); got != 1 {
		t.Errorf("sessions = %v, want 1", got)
	}
}

func TestSession_ExitStatus(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Options{Launcher: hostLauncher()})
	tok := srv.IssueToken(Grant{Container: container.SessionID})

	client, err := dial(t, srv, tok.Value)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	err = sess.Run("sh -c 'exit 3'")
	var exitErr *gossh.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want *ssh.ExitError", err)
	}
	if exitErr.ExitStatus() != 3 {
		t.Errorf("exit status = %d, want 3", exitErr.ExitStatus())
	}
}

func TestSession_Terminal(t *testing.T) {
	t.Parallel()

	srv := startServer(t, Options{Launcher: hostLauncher()})
	tok := srv.IssueToken(Grant{
		Container: container.SessionID,
		Argv:      []string{"sh", "-c", "test -t 0 && echo \"tty $TERM\""},
	})

	client, err := dial(t, srv, tok.Value)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if err := sess.RequestPty("vt100", 24, 80, gossh.TerminalModes{}); err != nil {
		t.Fatalf("RequestPty() error = %v", err)
	}
	stdout, err := sess.StdoutPipe()
	if err != nil {
		t.Fatalf("StdoutPipe() error = %v", err)
	}
	if err := sess.Shell(); err != nil {
		t.Fatalf("Shell() error = %v", err)
	}
	out, err := io.ReadAll(stdout)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if err := sess.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if !strings.Contains(string(out), "tty vt100") {
		t.Errorf("output = %q, want the grant's command on a vt100 terminal", out)
	}
}

func TestSession_BadToken(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	srv := startServer(t, Options{Launcher: hostLauncher(), Metrics: m})
	if _, err := dial(t, srv, "not-a-token"); err == nil {
		t.Fatal("dial with an unknown token succeeded")
	}
	if got := testutil.ToFloat64(m.SSHAuthFailures); got < 1 {
		t.Errorf("auth failures = %v, want at least 1", got)
	}
}

func TestSession_RequirePTY(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.RequirePTY = true
	srv := New(cfg, Options{Launcher: hostLauncher(), Logger: log.New(io.Discard)})
	if err := srv.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer tutil.MustStop(t, srv)

	tok := srv.IssueToken(Grant{Container: container.SessionID})
	client, err := dial(t, srv, tok.Value)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer client.Close()

	sess, err := client.NewSession()
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	var exitErr *gossh.ExitError
	if err := sess.Run("echo hi"); !errors.As(err, &exitErr) || exitErr.ExitStatus() == 0 {
		t.Errorf("Run() without a pty error = %v, want a non-zero exit", err)
	}
}
