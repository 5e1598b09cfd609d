// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/invowk/termlaunch/internal/launcher"
)

// drainTimeout bounds how long output still buffered in the pseudo-terminal
// is copied after the child exits.
const drainTimeout = time.Second

// runInTerminal launches req on a new pseudo-terminal and relays it to the
// process's own streams. When stdin is a terminal it is put in raw mode and
// its size is followed.
func runInTerminal(cmd *cobra.Command, app *App, l *launcher.Launcher, req launcher.Request) error {
	ctx := cmd.Context()
	ptmx, tty, err := pty.Open()
	if err != nil {
		return fmt.Errorf("open pseudo-terminal: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		_ = pty.InheritSize(os.Stdin, ptmx)
		if state, err := term.MakeRaw(fd); err == nil {
			defer func() { _ = term.Restore(fd, state) }()
		}

		winch := make(chan os.Signal, 1)
		signal.Notify(winch, syscall.SIGWINCH)
		defer func() {
			signal.Stop(winch)
			close(winch)
		}()
		go func() {
			for range winch {
				_ = pty.InheritSize(os.Stdin, ptmx)
			}
		}()
	}

	req.TTY = tty
	job, err := l.Launch(ctx, req)
	_ = tty.Close()
	if err != nil {
		return app.launchFailed(cmd, err)
	}

	go func() {
		_, _ = io.Copy(ptmx, cmd.InOrStdin())
	}()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		_, _ = io.Copy(cmd.OutOrStdout(), ptmx)
	}()

	status := waitJob(ctx, cmd, job)
	select {
	case <-drained:
	case <-time.After(drainTimeout):
	}
	return status
}
