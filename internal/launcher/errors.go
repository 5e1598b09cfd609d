// SPDX-License-Identifier: MPL-2.0

package launcher

import (
	"errors"
	"os/exec"
	"path/filepath"

	"github.com/invowk/termlaunch/internal/container"
	"github.com/invowk/termlaunch/internal/fdtable"
	"github.com/invowk/termlaunch/internal/issue"
	"github.com/invowk/termlaunch/internal/runctx"
	"github.com/invowk/termlaunch/pkg/platform"
)

// IssueFor picks the issue that best explains a launch failure. arg0 is the
// program that failed to start, if known. It returns 0 when no issue fits.
func IssueFor(err error, arg0 string, sandbox platform.SandboxType) issue.Id {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, container.ErrNotFound):
		return issue.ContainerNotFoundId
	case errors.Is(err, fdtable.ErrCollision), errors.Is(err, runctx.ErrExtraFDsUnsupported):
		return issue.DescriptorCollisionId
	case errors.Is(err, runctx.ErrCwdConflict):
		return issue.CwdConflictId
	case runctx.StageOf(err) != runctx.StageLaunch:
		return 0
	case errors.Is(err, exec.ErrNotFound):
		base := filepath.Base(arg0)
		switch {
		case base == "flatpak-spawn" && sandbox == platform.SandboxFlatpak:
			return issue.SandboxEscapeUnavailableId
		case base == "podman" || base == "docker" || base == "distrobox":
			return issue.ContainerEngineNotFoundId
		case IsShell(arg0) || SupportsDashL(arg0):
			return issue.ShellNotFoundId
		}
		return issue.LaunchFailedId
	default:
		return issue.LaunchFailedId
	}
}

// launchError wraps err as an actionable error for resource.
func launchError(err error, resource, arg0 string, sandbox platform.SandboxType) error {
	if err == nil {
		return nil
	}
	if _, ok := issue.AsActionable(err); ok {
		return err
	}
	id := IssueFor(err, arg0, sandbox)
	ctx := issue.NewErrorContext().
		WithOperation("launch command").
		WithResource(resource).
		WithIssue(id).
		Wrap(err)
	switch id {
	case issue.ContainerNotFoundId:
		ctx.WithSuggestion("Run 'termlaunch containers' to list available targets")
	case issue.ContainerEngineNotFoundId:
		ctx.WithSuggestion("Install " + filepath.Base(arg0) + " or pick a different target")
	case issue.ShellNotFoundId:
		ctx.WithSuggestion("Set a shell that exists in the target in your profile")
	case issue.SandboxEscapeUnavailableId:
		ctx.WithSuggestion("Grant the application the org.freedesktop.Flatpak talk permission")
	case issue.CwdConflictId:
		ctx.WithSuggestion("Pass --cwd explicitly or set preserve_directory to never")
	case issue.DescriptorCollisionId:
		ctx.WithSuggestion("Forward each descriptor to a distinct slot")
	}
	return ctx.BuildError()
}
