// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/google/uuid"
)

// ErrNoCapture is returned by Output when stdout was not captured.
var ErrNoCapture = errors.New("process stdout was not captured")

// Process is a started child. Exit state accessors report zero values until
// Done is closed.
type Process struct {
	id      string
	cmd     *exec.Cmd
	capture *os.File
	done    chan struct{}
	waitErr error
}

func newProcess(cmd *exec.Cmd, capture *os.File) *Process {
	p := &Process{
		id:      uuid.NewString(),
		cmd:     cmd,
		capture: capture,
		done:    make(chan struct{}),
	}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p
}

// ID returns a unique identifier for this process.
func (p *Process) ID() string { return p.id }

// Pid returns the operating system process id.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Done is closed once the child has been reaped.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the child exits or ctx is done. A non-zero exit is
// reported as an *exec.ExitError.
func (p *Process) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Process) state() *os.ProcessState {
	select {
	case <-p.done:
		return p.cmd.ProcessState
	default:
		return nil
	}
}

func (p *Process) waitStatus() (syscall.WaitStatus, bool) {
	st := p.state()
	if st == nil {
		return 0, false
	}
	ws, ok := st.Sys().(syscall.WaitStatus)
	return ws, ok
}

// Exited reports whether the child terminated normally.
func (p *Process) Exited() bool {
	ws, ok := p.waitStatus()
	return ok && ws.Exited()
}

// Signaled reports whether the child was terminated by a signal.
func (p *Process) Signaled() bool {
	ws, ok := p.waitStatus()
	return ok && ws.Signaled()
}

// ExitCode returns the exit status, or -1 if the child has not exited
// normally.
func (p *Process) ExitCode() int {
	st := p.state()
	if st == nil {
		return -1
	}
	return st.ExitCode()
}

// TermSignal returns the signal that terminated the child, or 0.
func (p *Process) TermSignal() syscall.Signal {
	ws, ok := p.waitStatus()
	if !ok || !ws.Signaled() {
		return 0
	}
	return ws.Signal()
}

// Signal delivers sig to the child.
func (p *Process) Signal(sig os.Signal) error {
	if p.state() != nil {
		return os.ErrProcessDone
	}
	return p.cmd.Process.Signal(sig)
}

// Kill forcibly terminates the child.
func (p *Process) Kill() error {
	return p.Signal(syscall.SIGKILL)
}

// Output reads captured stdout until EOF and waits for the child. A
// non-zero exit is returned together with whatever was read.
func (p *Process) Output() ([]byte, error) {
	if p.capture == nil {
		return nil, ErrNoCapture
	}
	data, err := io.ReadAll(p.capture)
	_ = p.capture.Close()
	<-p.done
	if err != nil {
		return data, err
	}
	return data, p.waitErr
}
