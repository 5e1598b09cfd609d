// SPDX-License-Identifier: MPL-2.0

package runctx

import "strings"

// minimalEnvironment lists the variables AddMinimalEnvironment copies from
// the process environment when present.
var minimalEnvironment = []string{
	"AT_SPI_BUS_ADDRESS",
	"COLUMNS",
	"DBUS_SESSION_BUS_ADDRESS",
	"DBUS_SYSTEM_BUS_ADDRESS",
	"DESKTOP_SESSION",
	"DISPLAY",
	"HOME",
	"LANG",
	"LINES",
	"SHELL",
	"SSH_AUTH_SOCK",
	"USER",
	"VTE_VERSION",
	"WAYLAND_DISPLAY",
	"XAUTHORITY",
	"XDG_CURRENT_DESKTOP",
	"XDG_DATA_DIRS",
	"XDG_MENU_PREFIX",
	"XDG_RUNTIME_DIR",
	"XDG_SEAT",
	"XDG_SESSION_DESKTOP",
	"XDG_SESSION_ID",
	"XDG_SESSION_TYPE",
	"XDG_VTNR",
}

var environFallbacks = map[string]string{
	"TERM":      "xterm-256color",
	"COLORTERM": "truecolor",
}

// MinimalEnvironmentKeys returns the variables copied by
// AddMinimalEnvironment, excluding the TERM and COLORTERM fallbacks.
func MinimalEnvironmentKeys() []string {
	out := make([]string, len(minimalEnvironment))
	copy(out, minimalEnvironment)
	return out
}

func environMap(entries []string) map[string]string {
	m := make(map[string]string, len(entries))
	for _, entry := range entries {
		if k, v, ok := strings.Cut(entry, "="); ok && k != "" {
			m[k] = v
		}
	}
	return m
}

// lookupEnviron returns the value of key in a KEY=VALUE list.
func lookupEnviron(entries []string, key string) (string, bool) {
	prefix := key + "="
	for _, entry := range entries {
		if strings.HasPrefix(entry, prefix) {
			return entry[len(prefix):], true
		}
	}
	return "", false
}
