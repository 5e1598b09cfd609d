// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/charmbracelet/wish/activeterm"

	"github.com/invowk/termlaunch/internal/launcher"
	"github.com/invowk/termlaunch/internal/metrics"
)

const sweepInterval = time.Minute

type (
	// Launcher starts the command of a session.
	Launcher interface {
		Launch(ctx context.Context, req launcher.Request) (*launcher.Job, error)
	}

	// Options carries the collaborators of a Server.
	Options struct {
		Launcher Launcher
		// Metrics may be nil.
		Metrics *metrics.Metrics
		Logger  *log.Logger
		// Clock defaults to the wall clock.
		Clock Clock
	}

	// Server serves SSH sessions. It is single-use: once stopped or failed,
	// create a new one.
	Server struct {
		cfg      Config
		launcher Launcher
		metrics  *metrics.Metrics
		logger   *log.Logger
		tokens   *tokenStore
		lc       *lifecycle

		srvMu    sync.Mutex
		srv      *ssh.Server
		listener net.Listener
		addr     string
	}

	// ConnectionInfo tells a client how to reach the server with a token.
	ConnectionInfo struct {
		Host      HostAddress
		Port      int
		User      string
		Token     TokenValue
		ExpiresAt time.Time
	}
)

// New creates a server. Call Start to accept connections.
func New(cfg Config, opts Options) *Server {
	cfg = cfg.withDefaults()
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("ssh-server")
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Server{
		cfg:      cfg,
		launcher: opts.Launcher,
		metrics:  opts.Metrics,
		logger:   logger,
		tokens:   newTokenStore(clock, cfg.TokenTTL),
		lc:       newLifecycle(),
	}
}

// Start binds the listener and returns once the server accepts
// connections, fails, or ctx is done. Runtime failures arrive on Err.
func (s *Server) Start(ctx context.Context) error {
	if err := s.cfg.Validate(); err != nil {
		s.lc.fail(err)
		return err
	}
	if err := s.lc.begin(ctx); err != nil {
		return err
	}

	startupCtx, cancel := context.WithTimeout(ctx, s.cfg.StartupTimeout)
	defer cancel()

	addr := net.JoinHostPort(s.cfg.Host.String(), strconv.Itoa(s.cfg.Port))
	var lcfg net.ListenConfig
	listener, err := lcfg.Listen(startupCtx, "tcp", addr)
	if err != nil {
		s.lc.fail(fmt.Errorf("listen on %s: %w", addr, err))
		return s.lc.lastError()
	}

	srv, err := wish.NewServer(s.serverOptions(addr)...)
	if err != nil {
		_ = listener.Close()
		s.lc.fail(fmt.Errorf("create SSH server: %w", err))
		return s.lc.lastError()
	}

	s.srvMu.Lock()
	s.srv = srv
	s.listener = listener
	s.addr = listener.Addr().String()
	s.srvMu.Unlock()

	s.lc.goroutine(s.serve)
	s.lc.goroutine(s.sweepTokens)

	select {
	case <-s.lc.startedCh:
		s.logger.Info("SSH server started", "address", s.Address())
		return nil
	case err := <-s.lc.errCh:
		s.lc.fail(err)
		return err
	case <-startupCtx.Done():
		s.lc.fail(fmt.Errorf("startup timeout: %w", startupCtx.Err()))
		return s.lc.lastError()
	}
}

func (s *Server) serverOptions(addr string) []ssh.Option {
	opts := []ssh.Option{
		wish.WithAddress(addr),
		wish.WithPasswordAuth(s.passwordHandler),
		wish.WithPublicKeyAuth(func(ssh.Context, ssh.PublicKey) bool { return false }),
	}
	if s.cfg.HostKeyPath != "" {
		opts = append(opts, wish.WithHostKeyPath(s.cfg.HostKeyPath))
	}
	// wish runs the last middleware first.
	mws := []wish.Middleware{s.sessionMiddleware()}
	if s.cfg.RequirePTY {
		mws = append(mws, activeterm.Middleware())
	}
	return append(opts, wish.WithMiddleware(mws...))
}

func (s *Server) serve() {
	s.lc.running()

	s.srvMu.Lock()
	srv, listener := s.srv, s.listener
	s.srvMu.Unlock()

	err := srv.Serve(listener)
	if err == nil || errors.Is(err, ssh.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
		return
	}
	s.lc.report(fmt.Errorf("serve: %w", err))
}

func (s *Server) sweepTokens() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.lc.ctx.Done():
			return
		case <-ticker.C:
			if n := s.tokens.sweep(); n > 0 {
				s.logger.Debug("expired tokens removed", "count", n)
			}
		}
	}
}

// Stop shuts the server down, waiting up to the shutdown timeout for open
// sessions. Calling Stop more than once is safe.
func (s *Server) Stop() error {
	if !s.lc.stopping() {
		s.lc.wg.Wait()
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	var err error
	s.srvMu.Lock()
	if s.srv != nil {
		if err = s.srv.Shutdown(ctx); err != nil && isClosedConnError(err) {
			err = nil
		}
	}
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.srvMu.Unlock()

	s.lc.wg.Wait()
	s.lc.stopped()
	s.logger.Info("SSH server stopped")
	return err
}

// Wait blocks until the server's goroutines exit. It returns the failure
// cause for a failed server.
func (s *Server) Wait() error {
	s.lc.wg.Wait()
	if s.State() == StateFailed {
		return s.lc.lastError()
	}
	return nil
}

// Err delivers fatal errors raised after Start returned. It is closed once
// the server stops.
func (s *Server) Err() <-chan error { return s.lc.errCh }

// State returns the lifecycle state.
func (s *Server) State() State { return s.lc.current() }

// IsRunning reports whether the server accepts connections.
func (s *Server) IsRunning() bool { return s.State() == StateRunning }

// Host returns the configured bind address.
func (s *Server) Host() HostAddress { return s.cfg.Host }

// Address returns the bound host:port, or "" before a successful start.
func (s *Server) Address() string {
	select {
	case <-s.lc.startedCh:
		s.srvMu.Lock()
		defer s.srvMu.Unlock()
		return s.addr
	default:
		return ""
	}
}

// Port returns the bound port, or 0 before a successful start.
func (s *Server) Port() int {
	_, port, err := net.SplitHostPort(s.Address())
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}

// IssueToken creates a one-time token for g. It works before Start so a
// token can be printed alongside the listening address.
func (s *Server) IssueToken(g Grant) *Token {
	tok := s.tokens.issue(g)
	s.logger.Debug("token issued", "container", g.Container, "expires", tok.ExpiresAt)
	return tok
}

// RevokeToken invalidates v and reports whether it was outstanding.
func (s *Server) RevokeToken(v TokenValue) bool {
	return s.tokens.revoke(v)
}

// ConnectionInfo issues a token for g and describes how to use it. The
// server must be running.
func (s *Server) ConnectionInfo(g Grant) (*ConnectionInfo, error) {
	if !s.IsRunning() {
		return nil, fmt.Errorf("SSH server is not running (state: %s)", s.State())
	}
	tok := s.IssueToken(g)
	return &ConnectionInfo{
		Host:      s.cfg.Host,
		Port:      s.Port(),
		User:      s.cfg.User,
		Token:     tok.Value,
		ExpiresAt: tok.ExpiresAt,
	}, nil
}

func isClosedConnError(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Err != nil && opErr.Err.Error() == "use of closed network connection"
}
