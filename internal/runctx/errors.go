// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"errors"
	"fmt"

	"github.com/invowk/termlaunch/internal/fdtable"
)

const (
	// StageComposition covers errors raised while building the stack, including
	// errors deferred through a Fail transform.
	StageComposition Stage = "composition"
	// StageMerge covers descriptor slot collisions and working directory
	// conflicts between folded layers.
	StageMerge Stage = "merge"
	// StageHandler covers errors returned by a transform.
	StageHandler Stage = "handler"
	// StageLaunch covers errors from the operating system while starting the
	// process.
	StageLaunch Stage = "launch"
)

var (
	// ErrEnded is returned when a Context is used after Finalize or Spawn.
	ErrEnded = errors.New("run context has already been finalized")
	// ErrCwdConflict is the sentinel wrapped by CwdConflictError.
	ErrCwdConflict = errors.New("working directory conflict")
	// ErrEmptyArgv is returned when the finalized command has nothing to run.
	ErrEmptyArgv = errors.New("no command to execute")
)

type (
	// Stage names the phase of composition or launch that failed.
	Stage string

	// StageError attaches the failing Stage to an error. Every error returned by
	// Finalize and Spawn is a *StageError.
	StageError struct {
		Stage Stage
		Err   error
	}

	// CwdConflictError is returned when a folded layer and the layer beneath it
	// both set a working directory and the two differ.
	CwdConflictError struct {
		Inner string
		Outer string
	}
)

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// Error implements the error interface.
func (e *CwdConflictError) Error() string {
	return fmt.Sprintf("working directory %q conflicts with %q", e.Inner, e.Outer)
}

// Unwrap returns ErrCwdConflict for errors.Is compatibility.
func (e *CwdConflictError) Unwrap() error {
	return ErrCwdConflict
}

// StageOf returns the stage recorded on err, or "" if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}

// classify picks the stage for an error returned while folding a layer.
func classify(kind Kind, err error) Stage {
	switch {
	case errors.Is(err, fdtable.ErrCollision), errors.Is(err, ErrCwdConflict):
		return StageMerge
	case kind == KindFail:
		return StageComposition
	default:
		return StageHandler
	}
}
