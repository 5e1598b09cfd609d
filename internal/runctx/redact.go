// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"strings"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/syntax"
)

const redacted = "***"

// RedactArgv returns a copy of argv fit for logs and dry-run output. Values
// of environment entries passed as --env=K=V, as K=V operands of env, or in
// the env prefix of a shell -c script are replaced; names are kept.
func RedactArgv(argv []string) []string {
	out := make([]string, len(argv))
	inEnv := false
	for i, arg := range argv {
		switch {
		case strings.HasPrefix(arg, "--env="):
			arg = "--env=" + redactEntry(strings.TrimPrefix(arg, "--env="))
		case inEnv && strings.HasPrefix(arg, "-"):
			// env options such as --chdir= come before the assignments.
		case inEnv && isAssignment(arg):
			arg = redactEntry(arg)
		case i > 0 && argv[i-1] == "-c":
			arg = redactScript(arg)
			inEnv = false
		default:
			inEnv = arg == "env"
		}
		out[i] = arg
	}
	return out
}

func isAssignment(s string) bool {
	name, _, ok := strings.Cut(s, "=")
	return ok && syntax.ValidName(name)
}

func redactEntry(entry string) string {
	name, _, ok := strings.Cut(entry, "=")
	if !ok {
		return entry
	}
	return name + "=" + redacted
}

// redactScript redacts the env prefix of a script written by shellScript.
// Scripts of any other shape are returned unchanged.
func redactScript(script string) string {
	if !strings.HasPrefix(script, "env ") {
		return script
	}
	f, err := syntax.NewParser().Parse(strings.NewReader(script), "")
	if err != nil || len(f.Stmts) != 1 {
		return script
	}
	call, ok := f.Stmts[0].Cmd.(*syntax.CallExpr)
	if !ok || len(call.Assigns) > 0 {
		return script
	}

	words := make([]string, 0, len(call.Args))
	inEnv := true
	for i, w := range call.Args {
		lit, err := expand.Literal(nil, w)
		if err != nil {
			return script
		}
		if i > 0 && inEnv {
			if isAssignment(lit) {
				lit = redactEntry(lit)
			} else {
				inEnv = false
			}
		}
		words = append(words, lit)
	}
	out, err := shellScript(nil, words)
	if err != nil {
		return script
	}
	return out
}
