// SPDX-License-Identifier: MPL-2.0

package platform

import "path/filepath"

// OS name constants for runtime.GOOS comparisons.
const (
	Darwin = "darwin"
	Linux  = "linux"
)

// flatpakHostRoot is where Flatpak exposes the host's /etc and /usr.
const flatpakHostRoot = "/var/run/host"

// HostPath returns the path at which a host file is readable by this
// process. Inside Flatpak, host files are mounted below /var/run/host;
// elsewhere the path is returned unchanged.
func HostPath(path string) string {
	return HostPathFor(DetectSandbox(), path)
}

// HostPathFor is HostPath for an explicit sandbox type.
func HostPathFor(st SandboxType, path string) string {
	if st != SandboxFlatpak {
		return path
	}
	return filepath.Join(flatpakHostRoot, path)
}
