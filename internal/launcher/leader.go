// SPDX-License-Identifier: MPL-2.0

package launcher

import "path/filepath"

// Leader kinds.
const (
	LeaderUnknown LeaderKind = iota
	LeaderContainer
	LeaderRemote
	LeaderSuperuser
)

// LeaderKind classifies the program leading a terminal session.
type LeaderKind int

var leaderKinds = map[string]LeaderKind{
	"docker":  LeaderContainer,
	"podman":  LeaderContainer,
	"toolbox": LeaderContainer,
	"flatpak": LeaderContainer,

	"ssh":    LeaderRemote,
	"mosh":   LeaderRemote,
	"telnet": LeaderRemote,
	"scp":    LeaderRemote,
	"sftp":   LeaderRemote,
	"rlogin": LeaderRemote,
	"slogin": LeaderRemote,

	"sudo": LeaderSuperuser,
	"su":   LeaderSuperuser,
	"doas": LeaderSuperuser,
}

// LeaderKindOf classifies argv0 by its base name.
func LeaderKindOf(argv0 string) LeaderKind {
	if argv0 == "" {
		return LeaderUnknown
	}
	return leaderKinds[filepath.Base(argv0)]
}

func (k LeaderKind) String() string {
	switch k {
	case LeaderContainer:
		return "container"
	case LeaderRemote:
		return "remote"
	case LeaderSuperuser:
		return "superuser"
	default:
		return "unknown"
	}
}
