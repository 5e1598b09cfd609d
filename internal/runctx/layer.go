// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"maps"
	"slices"
	"strings"

	"github.com/invowk/termlaunch/internal/fdtable"
)

// layer is one pending fragment of the command under construction.
type layer struct {
	argv      []string
	env       map[string]string
	cwd       string
	fds       *fdtable.Table
	transform *Transform // nil folds with the default handler
}

func newLayer(t *Transform) *layer {
	return &layer{
		env:       make(map[string]string),
		fds:       fdtable.New(),
		transform: t,
	}
}

// environ renders the environment as KEY=VALUE entries sorted by key.
func (l *layer) environ() []string {
	keys := slices.Sorted(maps.Keys(l.env))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+l.env[k])
	}
	return out
}

func (l *layer) setEnviron(entries []string) {
	clear(l.env)
	l.addEnviron(entries)
}

func (l *layer) addEnviron(entries []string) {
	for _, entry := range entries {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			continue
		}
		l.env[k] = v
	}
}

// resolved is the view of a popped layer handed to a transform.
type resolved struct {
	argv []string
	env  []string
	cwd  string
	fds  *fdtable.Table
}

func (l *layer) resolve() resolved {
	return resolved{
		argv: slices.Clone(l.argv),
		env:  l.environ(),
		cwd:  l.cwd,
		fds:  l.fds,
	}
}
