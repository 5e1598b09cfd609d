// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"os"
	"sync"
)

// Sandbox type constants.
const (
	// SandboxNone indicates no sandbox environment detected.
	SandboxNone SandboxType = ""
	// SandboxFlatpak indicates a Flatpak sandbox. Commands reach the host
	// through flatpak-spawn --host.
	SandboxFlatpak SandboxType = "flatpak"
	// SandboxSnap indicates a Snap sandbox. Snap has no host escape, so the
	// launcher treats it like no sandbox for composition purposes.
	SandboxSnap SandboxType = "snap"
)

const flatpakInfoPath = "/.flatpak-info"

// detectOnce caches the detection result for the lifetime of the process.
//
// INVARIANT: detectSandboxFrom MUST NOT panic; sync.OnceValue re-panics on
// every call after a panic.
var detectOnce = sync.OnceValue(func() SandboxType {
	return detectSandboxFrom(os.Getenv, statFile)
})

// SandboxType identifies the type of application sandbox, if any.
type SandboxType string

// String returns the sandbox name, or "none".
func (st SandboxType) String() string {
	if st == SandboxNone {
		return "none"
	}
	return string(st)
}

// DetectSandbox returns the sandbox the current process runs in. The result
// is cached after the first call.
//
// Detection methods:
//   - Flatpak: /.flatpak-info exists
//   - Snap: SNAP_NAME is set
func DetectSandbox() SandboxType {
	return detectOnce()
}

// IsInSandbox returns true if the current process is running inside a sandbox.
func IsInSandbox() bool {
	return DetectSandbox() != SandboxNone
}

// IsFlatpak reports whether commands must be escaped to the host through
// flatpak-spawn.
func IsFlatpak() bool {
	return DetectSandbox() == SandboxFlatpak
}

// detectSandboxFrom performs detection using injected lookups so tests do
// not depend on the machine they run on.
func detectSandboxFrom(lookupEnv func(string) string, statFile func(string) error) SandboxType {
	// Flatpak takes precedence.
	if err := statFile(flatpakInfoPath); err == nil {
		return SandboxFlatpak
	}
	if lookupEnv("SNAP_NAME") != "" {
		return SandboxSnap
	}
	return SandboxNone
}

func statFile(path string) error {
	_, err := os.Stat(path)
	return err
}
