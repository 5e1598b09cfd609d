// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"fmt"
	"os"
	"slices"

	"github.com/charmbracelet/log"
	"mvdan.cc/sh/v3/shell"

	"github.com/invowk/termlaunch/internal/fdtable"
	"github.com/invowk/termlaunch/pkg/platform"
)

type (
	// Context is a stack of layers with the root at index 0. Every mutator
	// acts on the top layer. A Context is finalized at most once.
	Context struct {
		layers      []*layer
		ended       bool
		setupTTY    bool
		interactive bool

		logger         *log.Logger
		sandbox        platform.SandboxType
		sandboxSet     bool
		environ        func() []string
		scopeAvailable func() bool
	}

	// Option configures a Context.
	Option func(*Context)
)

// WithLogger sets the logger used for debug output.
func WithLogger(logger *log.Logger) Option {
	return func(c *Context) {
		c.logger = logger
	}
}

// WithSandbox overrides sandbox detection. PushHost only adds a host escape
// layer when the sandbox is Flatpak.
func WithSandbox(st platform.SandboxType) Option {
	return func(c *Context) {
		c.sandbox = st
		c.sandboxSet = true
	}
}

// WithEnviron sets the source of the process environment used by
// AddMinimalEnvironment and the host escape transform.
func WithEnviron(environ func() []string) Option {
	return func(c *Context) {
		c.environ = environ
	}
}

// WithScopeAvailable overrides detection of a systemd-run capable of
// transient user scopes.
func WithScopeAvailable(available func() bool) Option {
	return func(c *Context) {
		c.scopeAvailable = available
	}
}

// New creates a Context holding only the root layer.
func New(opts ...Option) *Context {
	c := &Context{
		layers:   []*layer{newLayer(nil)},
		setupTTY: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = log.Default().WithPrefix("runctx")
	}
	if !c.sandboxSet {
		c.sandbox = platform.DetectSandbox()
	}
	if c.environ == nil {
		c.environ = os.Environ
	}
	if c.scopeAvailable == nil {
		c.scopeAvailable = systemdRunAvailable
	}
	return c
}

func (c *Context) current() *layer {
	return c.layers[len(c.layers)-1]
}

// usable reports whether the Context still accepts mutations, logging the
// rejected operation otherwise.
func (c *Context) usable(op string) bool {
	if c.ended {
		c.logger.Warn("mutation after finalize ignored", "op", op)
		return false
	}
	return true
}

func endedError() error {
	return &StageError{Stage: StageComposition, Err: ErrEnded}
}

// Ended reports whether Finalize or Spawn has been called.
func (c *Context) Ended() bool {
	return c.ended
}

// Depth returns the number of layers, including the root.
func (c *Context) Depth() int {
	return len(c.layers)
}

// Push adds an empty layer above the current one. The layer's transform runs
// during Finalize before any layer beneath it.
func (c *Context) Push(t Transform) {
	if !c.usable("push") {
		return
	}
	c.layers = append(c.layers, newLayer(&t))
}

// PushAtBase inserts a layer directly above the root, so its transform runs
// last, closest to the operating system, regardless of later pushes.
func (c *Context) PushAtBase(t Transform) {
	if !c.usable("push at base") {
		return
	}
	c.layers = slices.Insert(c.layers, 1, newLayer(&t))
}

// PushHost escapes a Flatpak sandbox by inserting a host transform at the
// base. It does nothing outside Flatpak. Terminal setup in the child is left
// to the host-side spawner once this layer exists.
func (c *Context) PushHost() {
	if c.sandbox != platform.SandboxFlatpak {
		return
	}
	if !c.usable("push host") {
		return
	}
	c.setupTTY = false
	c.PushAtBase(Transform{Kind: KindHost})
}

// PushShell runs the command through shell -c with the given kind.
// An empty shell means /bin/sh.
func (c *Context) PushShell(kind ShellKind, shell string) {
	c.Push(Transform{Kind: KindShell, Shell: ShellSpec{Kind: kind, Path: shell}})
}

// PushExpansion expands $NAME references against environ when folded.
// A nil environ pushes nothing.
func (c *Context) PushExpansion(environ []string) {
	if environ == nil {
		return
	}
	c.Push(Transform{Kind: KindExpand, Environ: slices.Clone(environ)})
}

// PushError defers err so it surfaces from Finalize like any other failure.
func (c *Context) PushError(err error) {
	if err == nil {
		return
	}
	c.Push(Transform{Kind: KindFail, Err: err})
}

// PushScope places the command in a transient systemd user scope when
// systemd-run supports it.
func (c *Context) PushScope() {
	c.Push(Transform{Kind: KindScope})
}

// AppendArgv appends a single argument.
func (c *Context) AppendArgv(arg string) {
	if !c.usable("append argv") {
		return
	}
	l := c.current()
	l.argv = append(l.argv, arg)
}

// PrependArgv inserts a single argument at the front.
func (c *Context) PrependArgv(arg string) {
	if !c.usable("prepend argv") {
		return
	}
	l := c.current()
	l.argv = slices.Insert(l.argv, 0, arg)
}

// AppendArgs appends every argument in order.
func (c *Context) AppendArgs(args ...string) {
	if !c.usable("append args") {
		return
	}
	l := c.current()
	l.argv = append(l.argv, args...)
}

// AppendFormatted appends fmt.Sprintf(format, a...) as one argument.
func (c *Context) AppendFormatted(format string, a ...any) {
	c.AppendArgv(fmt.Sprintf(format, a...))
}

// AppendArgsParsed splits cmdline using POSIX shell quoting rules and
// appends the resulting words. $NAME references resolve against the current
// layer's environment.
func (c *Context) AppendArgsParsed(cmdline string) error {
	if c.ended {
		return endedError()
	}
	l := c.current()
	words, err := shell.Fields(cmdline, func(name string) string {
		return l.env[name]
	})
	if err != nil {
		return &StageError{Stage: StageComposition, Err: fmt.Errorf("parse command line %q: %w", cmdline, err)}
	}
	l.argv = append(l.argv, words...)
	return nil
}

// SetArgv replaces the argv of the current layer.
func (c *Context) SetArgv(args ...string) {
	if !c.usable("set argv") {
		return
	}
	c.current().argv = slices.Clone(args)
}

// Argv returns a copy of the current layer's argv.
func (c *Context) Argv() []string {
	return slices.Clone(c.current().argv)
}

// Setenv sets key to value on the current layer.
func (c *Context) Setenv(key, value string) {
	if !c.usable("setenv") || key == "" {
		return
	}
	c.current().env[key] = value
}

// Unsetenv removes key from the current layer.
func (c *Context) Unsetenv(key string) {
	if !c.usable("unsetenv") {
		return
	}
	delete(c.current().env, key)
}

// AddEnviron merges KEY=VALUE entries into the current layer; later entries
// win. Entries without '=' are ignored.
func (c *Context) AddEnviron(entries ...string) {
	if !c.usable("add environ") {
		return
	}
	c.current().addEnviron(entries)
}

// SetEnviron replaces the current layer's environment with entries.
func (c *Context) SetEnviron(entries ...string) {
	if !c.usable("set environ") {
		return
	}
	c.current().setEnviron(entries)
}

// Getenv looks up key on the current layer.
func (c *Context) Getenv(key string) (string, bool) {
	v, ok := c.current().env[key]
	return v, ok
}

// Environ returns the current layer's environment sorted by key.
func (c *Context) Environ() []string {
	return c.current().environ()
}

// EnvironToArgv moves the current layer's environment into a leading
// "env KEY=VALUE..." prefix of its argv.
func (c *Context) EnvironToArgv() {
	if !c.usable("environ to argv") {
		return
	}
	l := c.current()
	if len(l.env) == 0 {
		return
	}
	prefix := append([]string{"env"}, l.environ()...)
	l.argv = append(prefix, l.argv...)
	clear(l.env)
}

// AddMinimalEnvironment copies display, session and locale variables from
// the process environment, defaulting TERM and COLORTERM when the process has
// none.
func (c *Context) AddMinimalEnvironment() {
	if !c.usable("add minimal environment") {
		return
	}
	host := environMap(c.environ())
	l := c.current()
	for _, key := range minimalEnvironment {
		if v, ok := host[key]; ok {
			l.env[key] = v
		}
	}
	for key, fallback := range environFallbacks {
		if v, ok := host[key]; ok {
			l.env[key] = v
		} else {
			l.env[key] = fallback
		}
	}
}

// SetCwd sets the working directory of the current layer.
func (c *Context) SetCwd(dir string) {
	if !c.usable("set cwd") {
		return
	}
	c.current().cwd = dir
}

// Cwd returns the working directory of the current layer.
func (c *Context) Cwd() string {
	return c.current().cwd
}

// TakeFD gives f to the current layer at slot dest. The Context owns f from
// this point, even if an error is returned.
func (c *Context) TakeFD(f *os.File, dest int) error {
	if c.ended {
		if f != nil {
			_ = f.Close()
		}
		return endedError()
	}
	if err := c.current().fds.Take(f, dest); err != nil {
		return &StageError{Stage: StageComposition, Err: err}
	}
	return nil
}

// MergeFDTable moves every descriptor of t into the current layer. On a slot
// collision nothing moves and both tables are left as they were.
func (c *Context) MergeFDTable(t *fdtable.Table) error {
	if c.ended {
		return endedError()
	}
	if err := c.current().fds.MergeSteal(t); err != nil {
		return &StageError{Stage: StageMerge, Err: err}
	}
	return nil
}

// FDs returns the current layer's descriptor table. Ownership stays with
// the Context.
func (c *Context) FDs() *fdtable.Table {
	return c.current().fds
}

// SetPty wires a terminal device into slots 0, 1 and 2 of the current layer
// and marks the launch as interactive, so the device becomes the child's
// controlling terminal. The caller keeps ownership of tty.
func (c *Context) SetPty(tty *os.File) error {
	if c.ended {
		return endedError()
	}
	for _, dest := range []int{fdtable.Stdin, fdtable.Stdout, fdtable.Stderr} {
		dup, err := fdtable.Dup(tty)
		if err != nil {
			return &StageError{Stage: StageComposition, Err: err}
		}
		if err := c.TakeFD(dup, dest); err != nil {
			return err
		}
	}
	c.interactive = true
	return nil
}

// closeAll releases every descriptor still owned by any layer. An empty root
// is left behind so read accessors keep working on an ended Context.
func (c *Context) closeAll() {
	for _, l := range c.layers {
		_ = l.fds.Close()
	}
	c.layers = []*layer{newLayer(nil)}
}
