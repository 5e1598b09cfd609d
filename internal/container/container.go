// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/invowk/termlaunch/internal/fdtable"
	"github.com/invowk/termlaunch/internal/runctx"
)

// Container kinds.
const (
	KindSession   Kind = "session"
	KindPodman    Kind = "podman"
	KindToolbox   Kind = "toolbox"
	KindDistrobox Kind = "distrobox"
	KindDocker    Kind = "docker"
)

// SessionID is the id of the host session target.
const SessionID = "session"

var (
	// ErrNotFound is the sentinel wrapped by NotFoundError.
	ErrNotFound = errors.New("container not found")
	// ErrInvalidKind is the sentinel wrapped by InvalidKindError.
	ErrInvalidKind = errors.New("invalid container kind")
)

type (
	// Kind identifies the flavor of a target, which decides how commands are
	// carried into it.
	Kind string

	// InvalidKindError is returned by Kind.Validate.
	InvalidKindError struct {
		Value Kind
	}

	// NotFoundError is returned when no provider knows a container id.
	NotFoundError struct {
		ID string
	}

	// Container is a place a command can be launched in.
	Container interface {
		ID() string
		Kind() Kind
		// Provider names the provider that listed the container.
		Provider() string
		DisplayName() string
		// Prepare pushes the layers that move a command into the container.
		// The caller writes the command into the top layer afterwards, usually
		// with PushSpawn. Prepare may start a stopped container.
		Prepare(ctx context.Context, rc *runctx.Context) error
	}

	// Request is the command a caller wants to run in a container.
	Request struct {
		Argv []string
		// Env entries in KEY=VALUE form. They override the defaults PushSpawn
		// sets.
		Env []string
		// Cwd defaults to the user's home directory.
		Cwd string
		// FDs are moved into the context; the caller must not use the table
		// afterwards.
		FDs *fdtable.Table
	}
)

// Error implements the error interface.
func (e *InvalidKindError) Error() string {
	return fmt.Sprintf("invalid container kind %q", string(e.Value))
}

// Unwrap returns ErrInvalidKind for errors.Is compatibility.
func (e *InvalidKindError) Unwrap() error { return ErrInvalidKind }

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("container %q not found", e.ID)
}

// Unwrap returns ErrNotFound for errors.Is compatibility.
func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// String returns the kind name.
func (k Kind) String() string { return string(k) }

// Validate returns an error if k is not a known kind.
func (k Kind) Validate() error {
	switch k {
	case KindSession, KindPodman, KindToolbox, KindDistrobox, KindDocker:
		return nil
	default:
		return &InvalidKindError{Value: k}
	}
}

// PushSpawn writes req into the top layer of rc: the working directory (and
// PWD), argv, terminal defaults, caller env, then descriptors. It returns the
// descriptor merge error, if any.
func PushSpawn(rc *runctx.Context, req Request) error {
	cwd := req.Cwd
	if cwd == "" {
		cwd = homeDir()
	}

	rc.Setenv("PWD", cwd)
	rc.SetCwd(cwd)
	rc.AppendArgs(req.Argv...)

	rc.Setenv("COLORTERM", "truecolor")
	rc.Setenv("TERM", "xterm-256color")
	rc.Setenv("FLATPAK_TTY_PROGRESS", "1")
	rc.AddEnviron(req.Env...)

	if req.FDs == nil {
		return nil
	}
	return rc.MergeFDTable(req.FDs)
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "/"
}
