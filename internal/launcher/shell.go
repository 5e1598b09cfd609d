// SPDX-License-Identifier: MPL-2.0

package launcher

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"os/user"
	"path/filepath"
	"slices"
	"strings"

	"github.com/invowk/termlaunch/pkg/platform"
)

const fallbackShell = "/bin/sh"

var builtinShells = []string{
	"sh", "/bin/sh", "/usr/bin/sh",
	"bash", "/bin/bash", "/usr/bin/bash",
	"dash", "/bin/dash", "/usr/bin/dash",
	"zsh", "/bin/zsh", "/usr/bin/zsh",
	"fish", "/bin/fish", "/usr/bin/fish",
	"tcsh", "/bin/tcsh", "/usr/bin/tcsh",
	"csh", "/bin/csh", "/usr/bin/csh",
	"tmux", "/bin/tmux", "/usr/bin/tmux",
}

// loginShells accept -l as "act as a login shell".
var loginShells = []string{"bash", "fish", "zsh", "dash", "tcsh", "sh"}

// IsShell reports whether arg0 names a shell, either from a builtin list or
// from the host's /etc/shells.
func IsShell(arg0 string) bool {
	return isShellIn(arg0, platform.HostPath("/etc/shells"))
}

func isShellIn(arg0, etcShells string) bool {
	if arg0 == "" {
		return false
	}
	if slices.Contains(builtinShells, arg0) {
		return true
	}
	data, err := os.ReadFile(etcShells)
	if err != nil {
		return false
	}
	for line := range strings.Lines(string(data)) {
		if strings.TrimSpace(line) == arg0 {
			return true
		}
	}
	return false
}

// SupportsDashL reports whether shell is known to accept -l.
func SupportsDashL(shell string) bool {
	return slices.Contains(loginShells, filepath.Base(shell))
}

// PreferredShell returns the user's login shell. Inside a sandbox the host's
// passwd database is asked through the launcher's runner; otherwise $SHELL,
// then /etc/passwd, then /bin/sh. The answer is cached once found.
func (l *Launcher) PreferredShell(ctx context.Context) string {
	l.shellMu.Lock()
	defer l.shellMu.Unlock()
	if l.cachedShell != "" {
		return l.cachedShell
	}

	var shell string
	if l.sandbox() != platform.SandboxNone {
		out, err := l.runner.Output(ctx, "sh", "-c", "getent passwd $USER | cut -f 7 -d :")
		if err != nil {
			l.logger.Debug("host shell lookup failed", "error", err)
		}
		shell = strings.TrimSpace(string(out))
	} else {
		shell = l.lookupEnv("SHELL")
		if shell == "" {
			shell = passwdShell("/etc/passwd", currentUser())
		}
	}
	if shell == "" {
		return fallbackShell
	}
	l.cachedShell = shell
	return shell
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

// passwdShell returns the seventh field of name's entry in a passwd file.
func passwdShell(path, name string) string {
	data, err := os.ReadFile(path)
	if err != nil || name == "" {
		return ""
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		fields := strings.Split(sc.Text(), ":")
		if len(fields) >= 7 && fields[0] == name {
			return fields[6]
		}
	}
	return ""
}
