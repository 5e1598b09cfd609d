// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"bytes"
	"os/exec"
	"strconv"
	"sync"
)

// minSystemdRunVersion is the first systemd-run with --same-dir.
const minSystemdRunVersion = 240

// systemdRunAvailable is probed once per process; the installed systemd does
// not change underneath a running launcher.
var systemdRunAvailable = sync.OnceValue(func() bool {
	path, err := exec.LookPath("systemd-run")
	if err != nil {
		return false
	}
	out, err := exec.Command(path, "--version").Output()
	if err != nil {
		return false
	}
	return parseSystemdVersion(out) >= minSystemdRunVersion
})

// parseSystemdVersion extracts N from output starting with "systemd N".
// It returns 0 when the output does not have that shape.
func parseSystemdVersion(out []byte) int {
	rest, ok := bytes.CutPrefix(out, []byte("systemd "))
	if !ok {
		return 0
	}
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	n, err := strconv.Atoi(string(rest[:end]))
	if err != nil {
		return 0
	}
	return n
}
