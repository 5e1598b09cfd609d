// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/invowk/termlaunch/internal/fdtable"
)

// SpawnOptions tunes how a finalized command is started.
type SpawnOptions struct {
	// CaptureStdout replaces slot 1 with a pipe readable through
	// Process.Output.
	CaptureStdout bool
}

// Spawn finalizes the stack and starts the resulting command. ctx bounds the
// lifetime of the child: cancelling it kills the process.
func (c *Context) Spawn(ctx context.Context, opts SpawnOptions) (*Process, error) {
	cmd, err := c.Finalize()
	if err != nil {
		return nil, err
	}
	p, err := Start(ctx, cmd, opts)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("spawned", "pid", p.Pid(), "argv", RedactArgv(cmd.Argv), "cwd", cmd.Dir)
	return p, nil
}

// Start launches a finalized command. Every descriptor in cmd is closed in
// the parent once the child has started, or failed to.
func Start(ctx context.Context, cmd *Command, opts SpawnOptions) (*Process, error) {
	defer func() { _ = cmd.Close() }()

	if len(cmd.Argv) == 0 {
		return nil, &StageError{Stage: StageLaunch, Err: ErrEmptyArgv}
	}
	if cmd.FDs == nil {
		cmd.FDs = fdtable.New()
	}

	var capture *os.File
	if opts.CaptureStdout {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, &StageError{Stage: StageLaunch, Err: fmt.Errorf("create stdout pipe: %w", err)}
		}
		if err := cmd.FDs.Take(w, fdtable.Stdout); err != nil {
			_ = r.Close()
			return nil, &StageError{Stage: StageLaunch, Err: err}
		}
		capture = r
	}

	ec := exec.CommandContext(ctx, cmd.Argv[0], cmd.Argv[1:]...)
	ec.Dir = cmd.Dir
	ec.Env = cmd.Env
	if ec.Env == nil {
		ec.Env = []string{}
	}
	if f := cmd.FDs.PeekStdin(); f != nil {
		ec.Stdin = f
	}
	if f := cmd.FDs.PeekStdout(); f != nil {
		ec.Stdout = f
	}
	if f := cmd.FDs.PeekStderr(); f != nil {
		ec.Stderr = f
	}
	ec.ExtraFiles = extraFiles(cmd.FDs)

	ctty := cmd.Interactive && cmd.SetupTTY && cmd.FDs.StdinIsTTY()
	ec.SysProcAttr = sysProcAttr(ctty)

	if err := ec.Start(); err != nil {
		if capture != nil {
			_ = capture.Close()
		}
		return nil, &StageError{Stage: StageLaunch, Err: err}
	}
	return newProcess(ec, capture), nil
}

// extraFiles lays out slots above stderr so slot N lands at index N-3.
// Unoccupied indexes stay nil and are closed in the child.
func extraFiles(t *fdtable.Table) []*os.File {
	maxSlot := t.MaxDestination()
	if maxSlot <= fdtable.Stderr {
		return nil
	}
	files := make([]*os.File, maxSlot-fdtable.Stderr)
	for _, slot := range t.Slots() {
		if slot > fdtable.Stderr {
			files[slot-fdtable.Stderr-1] = t.Peek(slot)
		}
	}
	return files
}
