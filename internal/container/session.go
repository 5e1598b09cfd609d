// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"os"

	"github.com/invowk/termlaunch/internal/runctx"
	"github.com/invowk/termlaunch/pkg/platform"
)

const sessionProvider = "session"

// Session is the user's own login session on the host. Commands escape a
// Flatpak sandbox when needed and run in a transient systemd scope when one
// is available.
type Session struct {
	// Prefix is prepended to every command, for instance a wrapper like
	// "nice".
	Prefix []string
	// Sandbox overrides sandbox detection when non-nil.
	Sandbox *platform.SandboxType
	// Environ overrides os.Environ.
	Environ func() []string
}

// ID implements Container.
func (s *Session) ID() string { return SessionID }

// Kind implements Container.
func (s *Session) Kind() Kind { return KindSession }

// Provider implements Container.
func (s *Session) Provider() string { return sessionProvider }

// DisplayName implements Container.
func (s *Session) DisplayName() string { return "My Computer" }

// Prepare implements Container.
func (s *Session) Prepare(_ context.Context, rc *runctx.Context) error {
	rc.PushHost()
	rc.PushScope()

	if s.sandbox() == platform.SandboxNone {
		rc.SetEnviron(s.environ()...)
	} else {
		rc.AddMinimalEnvironment()
	}
	rc.AppendArgs(s.Prefix...)
	return nil
}

func (s *Session) sandbox() platform.SandboxType {
	if s.Sandbox != nil {
		return *s.Sandbox
	}
	return platform.DetectSandbox()
}

func (s *Session) environ() []string {
	if s.Environ != nil {
		return s.Environ()
	}
	return os.Environ()
}

// WorkingDir returns dir when it is a directory on the host, looking
// through a Flatpak sandbox, and $HOME otherwise.
func (s *Session) WorkingDir(dir string) string {
	st, err := os.Stat(platform.HostPathFor(s.sandbox(), dir))
	if err != nil || !st.IsDir() {
		return homeDir()
	}
	return dir
}
