// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandVars replaces $NAME references in s with values from vars. A name is
// a run of ASCII letters, digits and underscores. Unknown names and a lone $
// are left as written. A backslash before $ suppresses expansion; the
// backslash itself is kept.
func ExpandVars(s string, vars map[string]string) string {
	if !strings.Contains(s, "$") {
		return s
	}
	var sb strings.Builder
	sb.Grow(len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if ch == '\\' && i+1 < len(s) && s[i+1] == '$' {
			sb.WriteString(`\$`)
			i++
			continue
		}
		if ch != '$' {
			sb.WriteByte(ch)
			continue
		}
		end := i + 1
		for end < len(s) && isNameByte(s[end]) {
			end++
		}
		name := s[i+1 : end]
		if v, ok := vars[name]; ok && name != "" {
			sb.WriteString(v)
		} else {
			sb.WriteString(s[i:end])
		}
		i = end - 1
	}
	return sb.String()
}

func isNameByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// ExpandPath resolves a leading ~ or $HOME against the home directory and
// anchors relative paths there. HOME is taken from vars, falling back to the
// current user's home directory.
func ExpandPath(p string, vars map[string]string) string {
	if p == "" {
		return p
	}
	home := vars["HOME"]
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}
	switch {
	case p == "~":
		return home
	case strings.HasPrefix(p, "~/"):
		p = filepath.Join(home, p[2:])
	case p == "$HOME":
		return home
	case strings.HasPrefix(p, "$HOME/"):
		p = filepath.Join(home, p[len("$HOME/"):])
	}
	if !filepath.IsAbs(p) && home != "" {
		p = filepath.Join(home, p)
	}
	return p
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
