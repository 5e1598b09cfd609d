// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"slices"

	"github.com/invowk/termlaunch/internal/fdtable"
)

// Command is the flattened result of Finalize. It owns FDs until it is
// launched or closed.
type Command struct {
	Argv []string
	// Env is applied verbatim; an empty Env gives the child an empty
	// environment.
	Env []string
	Dir string
	FDs *fdtable.Table

	// Interactive is set when a terminal device was installed with SetPty.
	Interactive bool
	// SetupTTY is cleared once a host escape layer hands terminal setup to
	// the host-side spawner.
	SetupTTY bool
}

// Close releases every descriptor still owned by the command.
func (cmd *Command) Close() error {
	if cmd == nil || cmd.FDs == nil {
		return nil
	}
	return cmd.FDs.Close()
}

// Finalize folds every layer into the root, most recent first, and returns
// the flattened command. It can be called once; later calls fail with
// ErrEnded and change nothing. On failure every descriptor held by the stack
// is closed.
func (c *Context) Finalize() (*Command, error) {
	if c.ended {
		return nil, endedError()
	}
	c.ended = true

	for len(c.layers) > 1 {
		top := c.layers[len(c.layers)-1]
		c.layers = c.layers[:len(c.layers)-1]

		kind := KindDefault
		if top.transform != nil {
			kind = top.transform.Kind
		}
		c.logger.Debug("folding layer", "kind", kind, "argv", RedactArgv(top.argv), "cwd", top.cwd)

		err := c.fold(top.transform, c.current(), top.resolve())
		_ = top.fds.Close()
		if err != nil {
			c.closeAll()
			return nil, &StageError{Stage: classify(kind, err), Err: err}
		}
	}

	root := c.layers[0]
	cmd := &Command{
		Argv:        slices.Clone(root.argv),
		Env:         root.environ(),
		Dir:         root.cwd,
		FDs:         root.fds,
		Interactive: c.interactive,
		SetupTTY:    c.setupTTY,
	}
	c.layers = []*layer{newLayer(nil)}
	return cmd, nil
}
