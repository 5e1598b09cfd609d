// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"errors"
	"io"
	"os"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invowk/termlaunch/internal/fdtable"
	"github.com/invowk/termlaunch/pkg/platform"
)

func newTestContext(opts ...Option) *Context {
	base := []Option{
		WithLogger(log.New(io.Discard)),
		WithSandbox(platform.SandboxNone),
		WithEnviron(func() []string { return nil }),
		WithScopeAvailable(func() bool { return false }),
	}
	return New(append(base, opts...)...)
}

func newPipe(t *testing.T) (r, w *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = r.Close()
		_ = w.Close()
	})
	return r, w
}

func isClosed(f *os.File) bool {
	_, err := f.Stat()
	return errors.Is(err, os.ErrClosed)
}

func TestFinalize_RootOnlyIsUnchanged(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.AppendArgs("ls", "-l")
	c.Setenv("B", "2")
	c.Setenv("A", "1")
	c.SetCwd("/tmp")
	r, _ := newPipe(t)
	require.NoError(t, c.TakeFD(r, 4))

	cmd, err := c.Finalize()
	require.NoError(t, err)
	t.Cleanup(func() { _ = cmd.Close() })

	assert.Equal(t, []string{"ls", "-l"}, cmd.Argv)
	assert.Equal(t, []string{"A=1", "B=2"}, cmd.Env)
	assert.Equal(t, "/tmp", cmd.Dir)
	assert.Same(t, r, cmd.FDs.Peek(4))
	assert.True(t, cmd.SetupTTY)
	assert.False(t, cmd.Interactive)
}

func TestFinalize_FoldsMostRecentLayerFirst(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.AppendArgv("nice")
	c.PushShell(ShellDefault, "")
	c.PushExpansion([]string{"HOME=/h"})
	c.AppendArgs("ls", "$HOME/x")

	cmd, err := c.Finalize()
	require.NoError(t, err)

	// The shell only sees the already expanded layer above it, and the root
	// prefix stays outside the shell script.
	assert.Equal(t, []string{"nice", "/bin/sh", "-c", "ls /h/x"}, cmd.Argv)
}

func TestFinalize_ShellWrap(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		kind  ShellKind
		shell string
		env   []string
		argv  []string
		want  []string
	}{
		{
			name: "plain",
			argv: []string{"echo", "hi"},
			want: []string{"/bin/sh", "-c", "echo hi"},
		},
		{
			name:  "login with env",
			kind:  ShellLogin,
			shell: "/bin/bash",
			env:   []string{"X=1"},
			argv:  []string{"echo", "a b"},
			want:  []string{"/bin/bash", "-l", "-c", "env 'X=1' echo 'a b'"},
		},
		{
			name: "interactive",
			kind: ShellInteractive,
			argv: []string{"true"},
			want: []string{"/bin/sh", "-i", "-c", "true"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestContext()
			c.PushShell(tt.kind, tt.shell)
			c.AddEnviron(tt.env...)
			c.AppendArgs(tt.argv...)

			cmd, err := c.Finalize()
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Argv)
			assert.Empty(t, cmd.Env)
		})
	}
}

func TestFinalize_DefaultFold(t *testing.T) {
	t.Parallel()

	t.Run("env only merges into outer layer", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.AppendArgv("run")
		c.Push(Transform{})
		c.Setenv("X", "1")

		cmd, err := c.Finalize()
		require.NoError(t, err)
		assert.Equal(t, []string{"run"}, cmd.Argv)
		assert.Equal(t, []string{"X=1"}, cmd.Env)
	})

	t.Run("env and argv become an env prefix", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.Push(Transform{})
		c.Setenv("X", "1")
		c.AppendArgs("printenv", "X")

		cmd, err := c.Finalize()
		require.NoError(t, err)
		assert.Equal(t, []string{"env", "X=1", "printenv", "X"}, cmd.Argv)
		assert.Empty(t, cmd.Env)
	})

	t.Run("matching cwd is accepted", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.SetCwd("/w")
		c.Push(Transform{})
		c.SetCwd("/w")
		c.AppendArgv("true")

		cmd, err := c.Finalize()
		require.NoError(t, err)
		assert.Equal(t, "/w", cmd.Dir)
	})
}

func TestFinalize_CwdConflict(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.SetCwd("/a")
	c.Push(Transform{})
	c.SetCwd("/b")
	c.AppendArgv("true")
	r, _ := newPipe(t)
	require.NoError(t, c.TakeFD(r, 3))

	cmd, err := c.Finalize()
	require.Error(t, err)
	assert.Nil(t, cmd)
	assert.Equal(t, StageMerge, StageOf(err))
	assert.ErrorIs(t, err, ErrCwdConflict)

	var conflict *CwdConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "/b", conflict.Inner)
	assert.Equal(t, "/a", conflict.Outer)
	assert.True(t, isClosed(r), "descriptors of a failed stack must be closed")
}

func TestFinalize_FDCollision(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	outer, _ := newPipe(t)
	require.NoError(t, c.TakeFD(outer, 3))
	c.Push(Transform{})
	inner, _ := newPipe(t)
	require.NoError(t, c.TakeFD(inner, 3))
	c.AppendArgv("true")

	_, err := c.Finalize()
	require.Error(t, err)
	assert.Equal(t, StageMerge, StageOf(err))
	assert.ErrorIs(t, err, fdtable.ErrCollision)
	assert.True(t, isClosed(outer))
	assert.True(t, isClosed(inner))
}

func TestFinalize_SecondCallFails(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.AppendArgv("true")
	cmd, err := c.Finalize()
	require.NoError(t, err)
	require.NotNil(t, cmd)

	_, err = c.Finalize()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEnded)
	assert.Equal(t, StageComposition, StageOf(err))
	assert.True(t, c.Ended())
	assert.Equal(t, []string{"true"}, cmd.Argv, "first result must be untouched")
}

func TestMutationsAfterFinalizeAreIgnored(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.AppendArgv("true")
	_, err := c.Finalize()
	require.NoError(t, err)

	c.AppendArgv("x")
	c.Setenv("X", "1")
	c.Push(Transform{Kind: KindShell})
	assert.Empty(t, c.Argv())
	assert.Empty(t, c.Environ())
	assert.Equal(t, 1, c.Depth())

	r, _ := newPipe(t)
	err = c.TakeFD(r, 3)
	assert.ErrorIs(t, err, ErrEnded)
	assert.True(t, isClosed(r), "TakeFD owns the file even when it fails")

	assert.ErrorIs(t, c.AppendArgsParsed("ls"), ErrEnded)
	assert.ErrorIs(t, c.MergeFDTable(fdtable.New()), ErrEnded)
}

func TestFinalize_PushedError(t *testing.T) {
	t.Parallel()

	errBoom := errors.New("boom")
	c := newTestContext()
	c.PushError(errBoom)
	c.AppendArgv("true")

	_, err := c.Finalize()
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StageComposition, StageOf(err))
}

func TestSetenv_LastWriteWins(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.Setenv("X", "1")
	c.Setenv("X", "2")
	c.AddEnviron("Y=a", "invalid", "=empty", "Y=b")

	assert.Equal(t, []string{"X=2", "Y=b"}, c.Environ())
	c.Unsetenv("X")
	_, ok := c.Getenv("X")
	assert.False(t, ok)

	c.SetEnviron("Z=1")
	assert.Equal(t, []string{"Z=1"}, c.Environ())
}

func TestTakeFD_TwiceClosesFirst(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	first, _ := newPipe(t)
	second, _ := newPipe(t)
	require.NoError(t, c.TakeFD(first, 3))
	require.NoError(t, c.TakeFD(second, 3))

	assert.True(t, isClosed(first))
	assert.Equal(t, 1, c.FDs().Len())
	assert.Same(t, second, c.FDs().Peek(3))
}

func TestMergeFDTable_AtomicOnCollision(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	a3, _ := newPipe(t)
	require.NoError(t, c.TakeFD(a3, 3))

	other := fdtable.New()
	b3, _ := newPipe(t)
	b4, _ := newPipe(t)
	require.NoError(t, other.Take(b4, 4))
	require.NoError(t, other.Take(b3, 3))

	err := c.MergeFDTable(other)
	require.Error(t, err)
	assert.Equal(t, StageMerge, StageOf(err))
	assert.Equal(t, []int{3}, c.FDs().Slots())
	assert.Equal(t, []int{3, 4}, other.Slots())
	assert.False(t, isClosed(b3))
	assert.False(t, isClosed(b4))
}

func TestPushAtBase_RunsClosestToRoot(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.PushShell(ShellDefault, "")
	c.AppendArgv("true")
	c.PushAtBase(Transform{Kind: KindScope})

	assert.Equal(t, 3, c.Depth())
	assert.Equal(t, []string{"true"}, c.Argv(), "current layer is unchanged")

	c.Setenv("X", "1")
	cmd, err := c.Finalize()
	require.NoError(t, err)
	assert.Equal(t, []string{"/bin/sh", "-c", "env 'X=1' true"}, cmd.Argv)
}

func TestPushHost(t *testing.T) {
	t.Parallel()

	t.Run("outside flatpak", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.PushHost()
		assert.Equal(t, 1, c.Depth())
	})

	t.Run("inside flatpak", func(t *testing.T) {
		t.Parallel()

		c := newTestContext(
			WithSandbox(platform.SandboxFlatpak),
			WithEnviron(func() []string { return []string{"DBUS_SESSION_BUS_ADDRESS=unix:path=/bus"} }),
		)
		c.PushHost()
		require.Equal(t, 2, c.Depth())

		c.AppendArgv("ls")
		c.Setenv("A", "1")
		c.SetCwd("/w")
		r, _ := newPipe(t)
		require.NoError(t, c.TakeFD(r, 5))

		cmd, err := c.Finalize()
		require.NoError(t, err)
		t.Cleanup(func() { _ = cmd.Close() })

		assert.Equal(t, []string{
			"flatpak-spawn", "--host", "--watch-bus",
			"--env=A=1",
			"--directory=/w",
			"--forward-fd=5",
			"ls",
		}, cmd.Argv)
		assert.Equal(t, []string{"DBUS_SESSION_BUS_ADDRESS=unix:path=/bus"}, cmd.Env)
		assert.Empty(t, cmd.Dir)
		assert.False(t, cmd.SetupTTY)
		assert.Same(t, r, cmd.FDs.Peek(5))
	})
}

func TestContainerExec(t *testing.T) {
	t.Parallel()

	t.Run("podman toolbox", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.Push(Transform{Kind: KindContainerExec, Exec: ExecSpec{
			Runtime:    RuntimePodman,
			ID:         "abc123",
			User:       "me",
			DetachKeys: true,
		}})
		c.AppendArgv("bash")
		c.Setenv("X", "1")
		c.SetCwd("/home/me")
		r, _ := newPipe(t)
		require.NoError(t, c.TakeFD(r, 4))

		cmd, err := c.Finalize()
		require.NoError(t, err)
		t.Cleanup(func() { _ = cmd.Close() })

		assert.Equal(t, []string{
			"podman", "exec", "--privileged", "--interactive",
			"--user=me", "--workdir=/home/me",
			"--preserve-fds=2",
			"--detach-keys=",
			"--env=X=1",
			"abc123", "bash",
		}, cmd.Argv)
		assert.Empty(t, cmd.Dir)
	})

	t.Run("podman plain container skips user and workdir", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.Push(Transform{Kind: KindContainerExec, Exec: ExecSpec{Runtime: RuntimePodman, ID: "abc"}})
		c.AppendArgv("sh")
		c.SetCwd("/srv")

		cmd, err := c.Finalize()
		require.NoError(t, err)
		assert.Equal(t, []string{"podman", "exec", "--privileged", "--interactive", "abc", "sh"}, cmd.Argv)
	})

	t.Run("distrobox with missing directory", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.Push(Transform{Kind: KindContainerExec, Exec: ExecSpec{
			Runtime:   RuntimeDistrobox,
			Name:      "fedora",
			DirExists: func(string) bool { return false },
		}})
		c.AppendArgv("zsh")
		c.Setenv("X", "1")
		c.SetCwd("/only/inside")

		cmd, err := c.Finalize()
		require.NoError(t, err)
		assert.Equal(t, []string{
			"distrobox", "enter", "--no-tty", "fedora",
			"--additional-flags", "--tty ",
			"--", "env", "--chdir=/only/inside", "X=1", "zsh",
		}, cmd.Argv)
		assert.Empty(t, cmd.Dir)
	})

	t.Run("distrobox with local directory", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.Push(Transform{Kind: KindContainerExec, Exec: ExecSpec{
			Runtime:   RuntimeDistrobox,
			Name:      "fedora",
			DirExists: func(string) bool { return true },
		}})
		c.AppendArgv("zsh")
		c.SetCwd("/home/me")

		cmd, err := c.Finalize()
		require.NoError(t, err)
		assert.Equal(t, "/home/me", cmd.Dir)
		assert.NotContains(t, cmd.Argv, "--chdir=/home/me")
	})

	t.Run("docker", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.Push(Transform{Kind: KindContainerExec, Exec: ExecSpec{Runtime: RuntimeDocker, ID: "d0c"}})
		c.AppendArgs("cat", "/etc/os-release")
		c.Setenv("X", "1")
		c.SetCwd("/root")

		cmd, err := c.Finalize()
		require.NoError(t, err)
		assert.Equal(t, []string{
			"docker", "exec", "--interactive",
			"--workdir=/root", "--env=X=1",
			"d0c", "cat", "/etc/os-release",
		}, cmd.Argv)
	})

	t.Run("docker rejects extra descriptors", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.Push(Transform{Kind: KindContainerExec, Exec: ExecSpec{Runtime: RuntimeDocker, ID: "d0c"}})
		c.AppendArgv("true")
		r, _ := newPipe(t)
		require.NoError(t, c.TakeFD(r, 3))

		_, err := c.Finalize()
		require.Error(t, err)
		assert.Equal(t, StageHandler, StageOf(err))
		assert.ErrorIs(t, err, ErrExtraFDsUnsupported)
		assert.True(t, isClosed(r))
	})
}

func TestPushScope(t *testing.T) {
	t.Parallel()

	for _, available := range []bool{true, false} {
		c := newTestContext(WithScopeAvailable(func() bool { return available }))
		c.PushScope()
		c.AppendArgv("bash")
		c.Setenv("X", "1")
		c.SetCwd("/w")

		cmd, err := c.Finalize()
		require.NoError(t, err)

		want := []string{"bash"}
		if available {
			want = append([]string{"systemd-run", "--user", "--scope", "--collect", "--quiet", "--same-dir"}, want...)
		}
		assert.Equal(t, want, cmd.Argv)
		assert.Equal(t, []string{"X=1"}, cmd.Env)
		assert.Equal(t, "/w", cmd.Dir)
	}
}

func TestAddMinimalEnvironment(t *testing.T) {
	t.Parallel()

	t.Run("copies allow-listed keys", func(t *testing.T) {
		t.Parallel()

		c := newTestContext(WithEnviron(func() []string {
			return []string{"DISPLAY=:0", "SECRET=x", "TERM=vt100", "LINES=40"}
		}))
		c.AddMinimalEnvironment()

		assert.Equal(t, []string{"COLORTERM=truecolor", "DISPLAY=:0", "LINES=40", "TERM=vt100"}, c.Environ())
	})

	t.Run("falls back for terminal keys", func(t *testing.T) {
		t.Parallel()

		c := newTestContext()
		c.AddMinimalEnvironment()

		assert.Equal(t, []string{"COLORTERM=truecolor", "TERM=xterm-256color"}, c.Environ())
	})
}

func TestAppendArgsParsed(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.Setenv("X", "value")
	require.NoError(t, c.AppendArgsParsed(`echo "a b" 'c d' $X`))
	assert.Equal(t, []string{"echo", "a b", "c d", "value"}, c.Argv())

	err := c.AppendArgsParsed(`echo "unterminated`)
	require.Error(t, err)
	assert.Equal(t, StageComposition, StageOf(err))
}

func TestEnvironToArgv(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.AppendArgv("run")
	c.Setenv("B", "2")
	c.Setenv("A", "1")
	c.EnvironToArgv()

	assert.Equal(t, []string{"env", "A=1", "B=2", "run"}, c.Argv())
	assert.Empty(t, c.Environ())
}

func TestArgvMutators(t *testing.T) {
	t.Parallel()

	c := newTestContext()
	c.AppendArgv("b")
	c.PrependArgv("a")
	c.AppendFormatted("--n=%d", 3)
	assert.Equal(t, []string{"a", "b", "--n=3"}, c.Argv())

	c.SetArgv("z")
	assert.Equal(t, []string{"z"}, c.Argv())
}

func TestKindString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "container exec", KindContainerExec.String())
	assert.Equal(t, "kind(42)", Kind(42).String())
	assert.Equal(t, "podman", RuntimePodman.String())
	assert.Equal(t, "login", ShellLogin.String())
}
