// SPDX-License-Identifier: MPL-2.0

package config

import (
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// maxFileSize bounds how much of a config file is parsed.
const maxFileSize = 1 << 20

// decodeCUE validates data against #Config and decodes it into a map ready
// to be merged into Viper. Fields may be left out; no value has to be
// concrete beyond what the file states.
func decodeCUE(data []byte, filename string) (map[string]any, error) {
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("%s: file size %d bytes exceeds maximum %d bytes", filename, len(data), maxFileSize)
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(configSchema, cue.Filename("config_schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err, filename)
	}

	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(user)
	if err := unified.Validate(cue.Concrete(false)); err != nil {
		return nil, formatCUEError(err, filename)
	}

	var out map[string]any
	if err := unified.Decode(&out); err != nil {
		return nil, formatCUEError(err, filename)
	}
	return out, nil
}

// formatCUEError prefixes each CUE error with the field path in JSON-path
// form, such as profiles.work.env[0].
func formatCUEError(err error, filename string) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return fmt.Errorf("%s: %w", filename, err)
	}

	lines := make([]string, 0, len(errs))
	for _, e := range errs {
		parts := cueerrors.Path(e)
		if len(parts) > 0 && parts[0] == "#Config" {
			parts = parts[1:]
		}
		path := jsonPath(parts)
		msg := e.Error()
		if path != "" {
			for _, prefix := range []string{"#Config." + strings.Join(parts, "."), strings.Join(parts, "."), path} {
				msg = strings.TrimPrefix(msg, prefix)
			}
			msg = path + ": " + strings.TrimSpace(strings.TrimPrefix(msg, ":"))
		}
		lines = append(lines, msg)
	}
	if len(lines) == 1 {
		return fmt.Errorf("%s: %s", filename, lines[0])
	}
	return fmt.Errorf("%s: validation failed:\n  %s", filename, strings.Join(lines, "\n  "))
}

func jsonPath(parts []string) string {
	var sb strings.Builder
	for i, part := range parts {
		if i > 0 && isIndex(part) {
			sb.WriteString("[" + part + "]")
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part)
	}
	return sb.String()
}

func isIndex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
