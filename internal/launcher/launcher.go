// SPDX-License-Identifier: MPL-2.0

// Package launcher turns a profile, a target and an optional terminal into
// a running process.
//
// Compose builds the runctx stack in a fixed order: the target's layers
// first, then an optional shell wrapper, then the command itself with its
// environment, working directory and descriptors, then the terminal.
package launcher

import (
	"context"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/invowk/termlaunch/internal/config"
	"github.com/invowk/termlaunch/internal/container"
	"github.com/invowk/termlaunch/internal/fdtable"
	"github.com/invowk/termlaunch/internal/metrics"
	"github.com/invowk/termlaunch/internal/runctx"
	"github.com/invowk/termlaunch/pkg/platform"
)

type (
	// Options configures a Launcher.
	Options struct {
		Registry *container.Registry
		// Metrics may be nil.
		Metrics *metrics.Metrics
		Logger  *log.Logger
		// Runner asks the host for the preferred shell when sandboxed. Nil runs
		// commands through container.HostRunner.
		Runner container.Runner
		// RunctxOptions are passed to every runctx.New call.
		RunctxOptions []runctx.Option
		// Sandbox overrides detection when non-nil.
		Sandbox *platform.SandboxType
		// LookupEnv overrides os.LookupEnv for pass_env and $SHELL.
		LookupEnv func(string) (string, bool)
	}

	// Launcher composes and starts commands. It is safe for concurrent use.
	Launcher struct {
		registry  *container.Registry
		metrics   *metrics.Metrics
		logger    *log.Logger
		runner    container.Runner
		rcOptions []runctx.Option
		sandboxSt *platform.SandboxType
		lookup    func(string) (string, bool)

		shellMu     sync.Mutex
		cachedShell string
	}

	// Request describes one launch.
	Request struct {
		Profile config.Profile
		// ContainerID overrides Profile.Container.
		ContainerID string
		// Argv is an explicit command. When empty the profile's custom command
		// or the preferred shell runs.
		Argv []string
		// Env entries are applied after the profile's.
		Env []string
		// Cwd is the caller's directory. It is kept for explicit commands and
		// otherwise according to Profile.PreserveDirectory.
		Cwd string
		// ShellMode overrides Profile.ShellMode when set.
		ShellMode config.ShellMode
		// TTY, when set, becomes stdin, stdout, stderr and the controlling
		// terminal of the child. The caller keeps ownership.
		TTY *os.File
		// FDs are moved into the launch.
		FDs *fdtable.Table
	}

	// Job is a started launch.
	Job struct {
		Process *runctx.Process
		Target  container.Container
		Argv    []string
		Leader  LeaderKind

		metrics *metrics.Metrics
	}
)

// New creates a Launcher.
func New(opts Options) *Launcher {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("launcher")
	}
	runner := opts.Runner
	if runner == nil {
		runner = &container.HostRunner{Options: opts.RunctxOptions, Logger: logger}
	}
	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if opts.Registry != nil && opts.Metrics != nil {
		opts.Registry.OnUpdate(opts.Metrics.ObserveProviderUpdate)
	}
	return &Launcher{
		registry:  opts.Registry,
		metrics:   opts.Metrics,
		logger:    logger,
		runner:    runner,
		rcOptions: opts.RunctxOptions,
		sandboxSt: opts.Sandbox,
		lookup:    lookup,
	}
}

// Refresh reloads the container list from every provider.
func (l *Launcher) Refresh(ctx context.Context) error {
	return l.registry.Refresh(ctx)
}

// Targets returns every known launch target, the host session first.
func (l *Launcher) Targets() []container.Container {
	return l.registry.List()
}

func (l *Launcher) sandbox() platform.SandboxType {
	if l.sandboxSt != nil {
		return *l.sandboxSt
	}
	return platform.DetectSandbox()
}

func (l *Launcher) lookupEnv(key string) string {
	v, _ := l.lookup(key)
	return v
}

// shellKind maps a profile shell mode to the wrapper kind. The second
// result is false for the default mode, which needs no wrapper.
func shellKind(mode config.ShellMode) (runctx.ShellKind, bool) {
	switch mode {
	case config.ShellModeLogin:
		return runctx.ShellLogin, true
	case config.ShellModeInteractive:
		return runctx.ShellInteractive, true
	default:
		return runctx.ShellDefault, false
	}
}

// command resolves what runs and whether the caller's directory is kept.
// custom is the unparsed custom command when the profile supplies one.
func (l *Launcher) command(ctx context.Context, req Request, mode config.ShellMode) (argv []string, custom string, keepCwd bool) {
	p := req.Profile
	switch {
	case len(req.Argv) > 0:
		return slices.Clone(req.Argv), "", true
	case p.UseCustomCommand && strings.TrimSpace(p.CustomCommand) != "":
		arg0, _, _ := strings.Cut(strings.TrimSpace(p.CustomCommand), " ")
		return nil, p.CustomCommand, preserve(p.PreserveDirectory, arg0)
	default:
		shell := l.shell(ctx, p)
		argv = []string{shell}
		if mode == config.ShellModeLogin && SupportsDashL(shell) {
			argv = append(argv, "-l")
		}
		return argv, "", preserve(p.PreserveDirectory, shell)
	}
}

// shell is the profile's shell, or the preferred shell when it names none.
func (l *Launcher) shell(ctx context.Context, p config.Profile) string {
	if p.Shell != "" {
		return p.Shell
	}
	return l.PreferredShell(ctx)
}

func preserve(policy config.PreserveDirectory, arg0 string) bool {
	switch policy {
	case config.PreserveNever:
		return false
	case config.PreserveAlways:
		return true
	default:
		return IsShell(arg0)
	}
}

// environ assembles the command environment: pass_env variables that are
// set, then the profile's entries, then the request's.
func (l *Launcher) environ(req Request) []string {
	var env []string
	for _, key := range req.Profile.PassEnv {
		if v, ok := l.lookup(key); ok {
			env = append(env, key+"="+v)
		}
	}
	env = append(env, req.Profile.Env...)
	return append(env, req.Env...)
}

// TargetID returns the container the request runs in: ContainerID, else
// the profile's container.
func (r Request) TargetID() string {
	if r.ContainerID != "" {
		return r.ContainerID
	}
	return r.Profile.TargetContainer()
}

// Compose builds a stack for req without finalizing it. A failure while
// composing is recorded on the returned Context with PushError and surfaces
// from its Finalize, after which every descriptor of req.FDs is closed.
// target is nil when the requested container is unknown.
func (l *Launcher) Compose(ctx context.Context, req Request) (*runctx.Context, container.Container) {
	rc := runctx.New(append(slices.Clone(l.rcOptions), runctx.WithLogger(l.logger))...)

	target, err := l.registry.Lookup(req.TargetID())
	if err != nil {
		fail(rc, req.FDs, err)
		return rc, nil
	}

	mode := req.ShellMode
	if mode == "" {
		mode = req.Profile.ShellMode
	}
	argv, custom, keepCwd := l.command(ctx, req, mode)

	cwd := ""
	if keepCwd {
		cwd = req.Cwd
	}
	if s, ok := target.(*container.Session); ok && cwd != "" {
		cwd = s.WorkingDir(cwd)
	}

	if err := target.Prepare(ctx, rc); err != nil {
		fail(rc, req.FDs, err)
		return rc, target
	}

	// Explicit and custom commands are wrapped in a shell for login and
	// interactive modes; a bare shell gets -l instead.
	if kind, wrap := shellKind(mode); wrap && (len(req.Argv) > 0 || custom != "") {
		rc.PushShell(kind, l.shell(ctx, req.Profile))
	}

	if err := container.PushSpawn(rc, container.Request{
		Argv: argv,
		Env:  l.environ(req),
		Cwd:  cwd,
		FDs:  req.FDs,
	}); err != nil {
		fail(rc, req.FDs, err)
		return rc, target
	}
	if custom != "" {
		if err := rc.AppendArgsParsed(custom); err != nil {
			rc.PushError(err)
			return rc, target
		}
	}
	if req.TTY != nil {
		if err := rc.SetPty(req.TTY); err != nil {
			rc.PushError(err)
		}
	}
	return rc, target
}

// DryRun composes req and returns the finalized command without starting
// it. The caller must Close the command.
func (l *Launcher) DryRun(ctx context.Context, req Request) (*runctx.Command, error) {
	rc, target := l.Compose(ctx, req)
	cmd, err := rc.Finalize()
	if err != nil {
		return nil, launchError(err, resourceName(target, req), "", l.sandbox())
	}
	return cmd, nil
}

// Launch composes and starts req. ctx bounds the child's lifetime.
func (l *Launcher) Launch(ctx context.Context, req Request) (*Job, error) {
	start := time.Now()
	rc, target := l.Compose(ctx, req)
	cmd, err := rc.Finalize()
	if err != nil {
		l.metrics.ObserveSpawn(targetLabel(target), resultLabel(err), time.Since(start))
		return nil, launchError(err, resourceName(target, req), "", l.sandbox())
	}
	argv := slices.Clone(cmd.Argv)

	proc, err := runctx.Start(ctx, cmd, runctx.SpawnOptions{})
	l.metrics.ObserveSpawn(targetLabel(target), resultLabel(err), time.Since(start))
	if err != nil {
		var arg0 string
		if len(argv) > 0 {
			arg0 = argv[0]
		}
		return nil, launchError(err, target.DisplayName(), arg0, l.sandbox())
	}

	job := &Job{
		Process: proc,
		Target:  target,
		Argv:    argv,
		Leader:  LeaderKindOf(argv[0]),
		metrics: l.metrics,
	}
	l.logger.Info("launched", "target", target.ID(), "pid", proc.Pid(), "argv", runctx.RedactArgv(argv))
	return job, nil
}

// Wait blocks until the child exits and records how it ended.
func (j *Job) Wait(ctx context.Context) error {
	err := j.Process.Wait(ctx)
	select {
	case <-j.Process.Done():
	default:
		return err
	}
	how := "exited"
	switch {
	case j.Process.Signaled():
		how = "signaled"
	case j.Process.ExitCode() != 0:
		how = "failed"
	}
	j.metrics.ObserveExit(string(j.Target.Kind()), how)
	return err
}

func closeTable(t *fdtable.Table) {
	if t != nil {
		_ = t.Close()
	}
}

// fail records err on rc. fds, which rc does not own yet, move onto the
// failing layer so Finalize releases them with the rest of the stack.
func fail(rc *runctx.Context, fds *fdtable.Table, err error) {
	rc.PushError(err)
	if fds == nil {
		return
	}
	if mergeErr := rc.MergeFDTable(fds); mergeErr != nil {
		closeTable(fds)
	}
}

func resourceName(target container.Container, req Request) string {
	if target == nil {
		return req.TargetID()
	}
	return target.DisplayName()
}

func targetLabel(c container.Container) string {
	if c == nil {
		return "unknown"
	}
	return string(c.Kind())
}

func resultLabel(err error) string {
	if err == nil {
		return metrics.ResultOK
	}
	switch runctx.StageOf(err) {
	case runctx.StageMerge:
		return metrics.ResultMerge
	case runctx.StageHandler:
		return metrics.ResultHandler
	case runctx.StageLaunch:
		return metrics.ResultLaunch
	default:
		return metrics.ResultComposition
	}
}
