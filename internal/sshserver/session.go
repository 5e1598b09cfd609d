// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/creack/pty"

	"github.com/invowk/termlaunch/internal/fdtable"
	"github.com/invowk/termlaunch/internal/issue"
	"github.com/invowk/termlaunch/internal/launcher"
)

// drainTimeout bounds how long output is copied after the child exits. A
// background job can keep the terminal open indefinitely.
const drainTimeout = time.Second

type grantKey struct{}

func (s *Server) passwordHandler(ctx ssh.Context, password string) bool {
	tok, ok := s.tokens.redeem(TokenValue(password))
	if !ok {
		s.metrics.AuthFailed()
		s.logger.Warn("rejected token", "user", ctx.User(), "remote", ctx.RemoteAddr())
		return false
	}
	ctx.SetValue(grantKey{}, tok.Grant)
	s.logger.Debug("token accepted", "user", ctx.User(), "container", tok.Grant.Container)
	return true
}

func (s *Server) sessionMiddleware() wish.Middleware {
	return func(ssh.Handler) ssh.Handler {
		return s.handle
	}
}

func (s *Server) handle(sess ssh.Session) {
	grant, ok := sess.Context().Value(grantKey{}).(Grant)
	if !ok {
		wish.Fatalln(sess, "session is not authorized")
		return
	}
	if s.launcher == nil {
		wish.Fatalln(sess, "no launcher configured")
		return
	}

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()

	req := launcher.Request{
		Profile:     grant.Profile,
		ContainerID: grant.Container,
		Argv:        sess.Command(),
		Env:         sess.Environ(),
	}
	if len(req.Argv) == 0 {
		req.Argv = grant.Argv
	}

	var code int
	if ptyReq, winCh, isPty := sess.Pty(); isPty {
		code = s.runTerminal(sess, req, ptyReq, winCh)
	} else {
		code = s.runPipes(sess, req)
	}
	s.logger.Debug("session ended", "user", sess.User(), "status", code)
	_ = sess.Exit(code)
}

// runTerminal runs req on a fresh pty pair sized from the client's window.
func (s *Server) runTerminal(sess ssh.Session, req launcher.Request, ptyReq ssh.Pty, winCh <-chan ssh.Window) int {
	ptmx, tty, err := pty.Open()
	if err != nil {
		s.writeError(sess, fmt.Errorf("open pty: %w", err))
		return 1
	}
	defer func() { _ = ptmx.Close() }()
	resize(ptmx, ptyReq.Window)

	if ptyReq.Term != "" {
		req.Env = append(req.Env, "TERM="+ptyReq.Term)
	}
	req.TTY = tty
	job, err := s.launcher.Launch(sess.Context(), req)
	_ = tty.Close()
	if err != nil {
		s.writeError(sess, err)
		return 1
	}

	go func() {
		for win := range winCh {
			resize(ptmx, win)
		}
	}()
	go func() { _, _ = io.Copy(ptmx, sess) }()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		_, _ = io.Copy(sess, ptmx)
	}()

	status := wait(job)
	select {
	case <-drained:
	case <-time.After(drainTimeout):
	}
	return status
}

// runPipes runs req with stdio connected to the channel through pipes.
func (s *Server) runPipes(sess ssh.Session, req launcher.Request) int {
	fds, stdin, stdout, stderr, err := pipeTable()
	if err != nil {
		s.writeError(sess, err)
		return 1
	}
	req.FDs = fds
	job, err := s.launcher.Launch(sess.Context(), req)
	if err != nil {
		_ = stdin.Close()
		_ = stdout.Close()
		_ = stderr.Close()
		s.writeError(sess, err)
		return 1
	}

	go func() {
		_, _ = io.Copy(stdin, sess)
		_ = stdin.Close()
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(sess, stdout)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(sess.Stderr(), stderr)
	}()

	status := wait(job)
	wg.Wait()
	_ = stdout.Close()
	_ = stderr.Close()
	return status
}

// pipeTable creates three pipes with the child's ends in slots 0-2 of a
// table and returns the parent's ends.
func pipeTable() (fds *fdtable.Table, stdin, stdout, stderr *os.File, err error) {
	fds = fdtable.New()
	var parent []*os.File
	cleanup := func() {
		_ = fds.Close()
		for _, f := range parent {
			_ = f.Close()
		}
	}
	for slot := range 3 {
		r, w, perr := os.Pipe()
		if perr != nil {
			cleanup()
			return nil, nil, nil, nil, fmt.Errorf("create pipe: %w", perr)
		}
		child, mine := r, w
		if slot != fdtable.Stdin {
			child, mine = w, r
		}
		parent = append(parent, mine)
		if terr := fds.Take(child, slot); terr != nil {
			cleanup()
			return nil, nil, nil, nil, terr
		}
	}
	return fds, parent[0], parent[1], parent[2], nil
}

// wait reaps the job and maps its end to an exit status, 128+N for a
// signal.
func wait(job *launcher.Job) int {
	_ = job.Wait(context.Background())
	p := job.Process
	if p.Signaled() {
		return 128 + int(p.TermSignal())
	}
	if code := p.ExitCode(); code >= 0 {
		return code
	}
	return 1
}

func resize(f *os.File, win ssh.Window) {
	if win.Width <= 0 || win.Height <= 0 {
		return
	}
	_ = pty.Setsize(f, &pty.Winsize{Rows: uint16(win.Height), Cols: uint16(win.Width)})
}

func (s *Server) writeError(sess ssh.Session, err error) {
	s.logger.Warn("session failed", "user", sess.User(), "error", err)
	msg := err.Error()
	if ae, ok := issue.AsActionable(err); ok {
		msg = ae.Format(false)
	}
	wish.Errorln(sess, msg)
}
