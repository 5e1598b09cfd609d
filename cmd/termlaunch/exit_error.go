// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/invowk/termlaunch/internal/launcher"
)

// ExitError carries a non-zero exit code out of a RunE handler without
// calling os.Exit there.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// exitStatus maps how a job ended to a shell style exit code: the status for
// a normal exit, 128 plus the signal number for a killed child.
func exitStatus(job *launcher.Job) int {
	switch {
	case job.Process.Signaled():
		return 128 + int(job.Process.TermSignal())
	case job.Process.Exited():
		return job.Process.ExitCode()
	default:
		return 1
	}
}
