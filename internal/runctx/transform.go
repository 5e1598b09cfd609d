// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"errors"
	"fmt"
	"strings"

	"mvdan.cc/sh/v3/syntax"

	"github.com/invowk/termlaunch/internal/fdtable"
)

// Transform kinds. The zero value folds a layer into the one beneath it
// without rewriting the command.
const (
	KindDefault Kind = iota
	KindHost
	KindShell
	KindExpand
	KindContainerExec
	KindFail
	KindScope
)

// Shell kinds accepted by PushShell.
const (
	ShellDefault ShellKind = iota
	ShellLogin
	ShellInteractive
)

// Container runtimes understood by the container exec transform.
const (
	RuntimePodman Runtime = iota + 1
	RuntimeDistrobox
	RuntimeDocker
)

const defaultShell = "/bin/sh"

// ErrExtraFDsUnsupported is returned when a runtime cannot forward
// descriptors above stderr into the target.
var ErrExtraFDsUnsupported = errors.New("runtime cannot forward descriptors above 2")

type (
	// Kind selects the rewrite a layer applies when it is folded.
	Kind int

	// ShellKind selects the flags passed to the shell before -c.
	ShellKind int

	// Runtime identifies the tool used to execute inside a container.
	Runtime int

	// ShellSpec parameterizes a KindShell transform.
	ShellSpec struct {
		Kind ShellKind
		// Path is the shell binary; empty means /bin/sh.
		Path string
	}

	// ExecSpec parameterizes a KindContainerExec transform.
	ExecSpec struct {
		Runtime Runtime
		// ID is the container id passed to podman or docker exec.
		ID string
		// Name is the container name passed to distrobox enter.
		Name string
		// User, when set, adds --user and --workdir to podman exec. Toolbox and
		// distrobox containers share the user's home, plain containers do not.
		User string
		// DetachKeys clears the detach key sequence. Requires podman 1.8.1.
		DetachKeys bool
		// DirExists reports whether a directory is visible on the host side.
		// Distrobox uses it to decide between a launcher cwd and --chdir.
		DirExists func(string) bool
	}

	// Transform is the closed set of rewrites a layer can apply to its resolved
	// contents. Only the payload field matching Kind is read.
	Transform struct {
		Kind    Kind
		Shell   ShellSpec
		Environ []string
		Exec    ExecSpec
		Err     error
	}
)

// String returns the transform name used in error messages.
func (k Kind) String() string {
	switch k {
	case KindDefault:
		return "default"
	case KindHost:
		return "host"
	case KindShell:
		return "shell"
	case KindExpand:
		return "expand"
	case KindContainerExec:
		return "container exec"
	case KindFail:
		return "fail"
	case KindScope:
		return "scope"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// String returns the shell kind name.
func (k ShellKind) String() string {
	switch k {
	case ShellLogin:
		return "login"
	case ShellInteractive:
		return "interactive"
	default:
		return "default"
	}
}

// String returns the runtime binary name.
func (r Runtime) String() string {
	switch r {
	case RuntimePodman:
		return "podman"
	case RuntimeDistrobox:
		return "distrobox"
	case RuntimeDocker:
		return "docker"
	default:
		return fmt.Sprintf("runtime(%d)", int(r))
	}
}

// fold applies t to in, writing the result into out.
func (c *Context) fold(t *Transform, out *layer, in resolved) error {
	kind := KindDefault
	if t != nil {
		kind = t.Kind
	}
	var err error
	switch kind {
	case KindDefault:
		err = foldDefault(out, in)
	case KindHost:
		err = c.foldHost(out, in)
	case KindShell:
		err = foldShell(out, in, t.Shell)
	case KindExpand:
		err = foldExpand(out, in, t.Environ)
	case KindContainerExec:
		err = foldContainerExec(out, in, t.Exec)
	case KindFail:
		err = t.Err
	case KindScope:
		err = c.foldScope(out, in)
	default:
		err = fmt.Errorf("unknown transform kind %d", int(kind))
	}
	if err == nil {
		return nil
	}
	if kind == KindFail {
		return err
	}
	return fmt.Errorf("%s transform: %w", kind, err)
}

func foldDefault(out *layer, in resolved) error {
	if in.cwd != "" {
		if out.cwd != "" && out.cwd != in.cwd {
			return &CwdConflictError{Inner: in.cwd, Outer: out.cwd}
		}
		out.cwd = in.cwd
	}
	if err := out.fds.MergeSteal(in.fds); err != nil {
		return err
	}
	if len(in.env) > 0 {
		if len(in.argv) == 0 {
			out.addEnviron(in.env)
		} else {
			out.argv = append(out.argv, "env")
			out.argv = append(out.argv, in.env...)
		}
	}
	out.argv = append(out.argv, in.argv...)
	return nil
}

func (c *Context) foldHost(out *layer, in resolved) error {
	if bus, ok := lookupEnviron(c.environ(), "DBUS_SESSION_BUS_ADDRESS"); ok {
		out.env["DBUS_SESSION_BUS_ADDRESS"] = bus
	}
	out.argv = append(out.argv, "flatpak-spawn", "--host", "--watch-bus")
	for _, entry := range in.env {
		out.argv = append(out.argv, "--env="+entry)
	}
	if in.cwd != "" {
		out.argv = append(out.argv, "--directory="+in.cwd)
	}
	for _, slot := range in.fds.Slots() {
		if slot <= fdtable.Stderr {
			continue
		}
		c.logger.Debug("forwarding descriptor through flatpak-spawn", "slot", slot)
		out.argv = append(out.argv, fmt.Sprintf("--forward-fd=%d", slot))
	}
	if err := out.fds.MergeSteal(in.fds); err != nil {
		return err
	}
	out.argv = append(out.argv, in.argv...)
	return nil
}

func foldShell(out *layer, in resolved, spec ShellSpec) error {
	if err := out.fds.MergeSteal(in.fds); err != nil {
		return err
	}
	if in.cwd != "" {
		out.cwd = in.cwd
	}
	shell := spec.Path
	if shell == "" {
		shell = defaultShell
	}
	out.argv = append(out.argv, shell)
	switch spec.Kind {
	case ShellLogin:
		out.argv = append(out.argv, "-l")
	case ShellInteractive:
		out.argv = append(out.argv, "-i")
	}
	out.argv = append(out.argv, "-c")

	script, err := shellScript(in.env, in.argv)
	if err != nil {
		return err
	}
	out.argv = append(out.argv, script)
	return nil
}

// shellScript renders env and argv as a single POSIX command line.
func shellScript(env, argv []string) (string, error) {
	var sb strings.Builder
	if len(env) > 0 {
		sb.WriteString("env")
		for _, entry := range env {
			q, err := syntax.Quote(entry, syntax.LangPOSIX)
			if err != nil {
				return "", err
			}
			sb.WriteByte(' ')
			sb.WriteString(q)
		}
		sb.WriteByte(' ')
	}
	for i, arg := range argv {
		q, err := syntax.Quote(arg, syntax.LangPOSIX)
		if err != nil {
			return "", err
		}
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(q)
	}
	return sb.String(), nil
}

func foldExpand(out *layer, in resolved, environ []string) error {
	if err := out.fds.MergeSteal(in.fds); err != nil {
		return err
	}
	vars := environMap(environ)
	if in.cwd != "" {
		out.cwd = ExpandPath(ExpandVars(in.cwd, vars), vars)
	}
	expanded := make([]string, 0, len(in.env))
	for _, entry := range in.env {
		expanded = append(expanded, ExpandVars(entry, vars))
	}
	out.addEnviron(expanded)
	for _, arg := range in.argv {
		out.argv = append(out.argv, ExpandVars(arg, vars))
	}
	return nil
}

func foldContainerExec(out *layer, in resolved, spec ExecSpec) error {
	switch spec.Runtime {
	case RuntimePodman:
		return foldPodmanExec(out, in, spec)
	case RuntimeDistrobox:
		return foldDistroboxEnter(out, in, spec)
	case RuntimeDocker:
		return foldDockerExec(out, in, spec)
	default:
		return fmt.Errorf("unsupported container runtime %s", spec.Runtime)
	}
}

func foldPodmanExec(out *layer, in resolved, spec ExecSpec) error {
	tty := in.fds.AnyStdioIsTTY()
	maxSlot := in.fds.MaxDestination()
	if err := out.fds.MergeSteal(in.fds); err != nil {
		return err
	}
	out.argv = append(out.argv, "podman", "exec", "--privileged", "--interactive")
	if tty {
		out.argv = append(out.argv, "--tty")
	}
	if spec.User != "" {
		out.argv = append(out.argv, "--user="+spec.User)
		if in.cwd != "" {
			out.argv = append(out.argv, "--workdir="+in.cwd)
		}
	}
	if maxSlot > fdtable.Stderr {
		out.argv = append(out.argv, fmt.Sprintf("--preserve-fds=%d", maxSlot-2))
	}
	if spec.DetachKeys {
		out.argv = append(out.argv, "--detach-keys=")
	}
	for _, entry := range in.env {
		out.argv = append(out.argv, "--env="+entry)
	}
	out.argv = append(out.argv, spec.ID)
	out.argv = append(out.argv, in.argv...)
	return nil
}

func foldDistroboxEnter(out *layer, in resolved, spec ExecSpec) error {
	maxSlot := in.fds.MaxDestination()
	out.argv = append(out.argv, "distrobox", "enter", "--no-tty", spec.Name)
	if err := out.fds.MergeSteal(in.fds); err != nil {
		return err
	}
	flags := "--tty "
	if maxSlot > fdtable.Stderr {
		flags += fmt.Sprintf("--preserve-fds=%d ", maxSlot-2)
	}
	out.argv = append(out.argv, "--additional-flags", flags, "--", "env")
	if in.cwd != "" {
		exists := spec.DirExists
		if exists == nil {
			exists = isDir
		}
		if exists(in.cwd) {
			out.cwd = in.cwd
		} else {
			out.argv = append(out.argv, "--chdir="+in.cwd)
		}
	}
	out.argv = append(out.argv, in.env...)
	out.argv = append(out.argv, in.argv...)
	return nil
}

func foldDockerExec(out *layer, in resolved, spec ExecSpec) error {
	if in.fds.MaxDestination() > fdtable.Stderr {
		return ErrExtraFDsUnsupported
	}
	tty := in.fds.AnyStdioIsTTY()
	if err := out.fds.MergeSteal(in.fds); err != nil {
		return err
	}
	out.argv = append(out.argv, "docker", "exec", "--interactive")
	if tty {
		out.argv = append(out.argv, "--tty")
	}
	if in.cwd != "" {
		out.argv = append(out.argv, "--workdir="+in.cwd)
	}
	for _, entry := range in.env {
		out.argv = append(out.argv, "--env="+entry)
	}
	out.argv = append(out.argv, spec.ID)
	out.argv = append(out.argv, in.argv...)
	return nil
}

func (c *Context) foldScope(out *layer, in resolved) error {
	if err := out.fds.MergeSteal(in.fds); err != nil {
		return err
	}
	if in.cwd != "" {
		out.cwd = in.cwd
	}
	out.setEnviron(in.env)
	if c.scopeAvailable() {
		out.argv = append(out.argv, "systemd-run", "--user", "--scope", "--collect", "--quiet", "--same-dir")
	}
	out.argv = append(out.argv, in.argv...)
	return nil
}
