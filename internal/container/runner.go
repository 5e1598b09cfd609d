// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/invowk/termlaunch/internal/runctx"
)

type (
	// Runner executes an engine CLI on the host and returns its stdout.
	Runner interface {
		Output(ctx context.Context, argv ...string) ([]byte, error)
	}

	// HostRunner runs commands through a runctx stack so they escape a
	// Flatpak sandbox the same way launched commands do.
	HostRunner struct {
		// Env entries are added on top of the minimal environment.
		Env []string
		// Options are passed to every runctx.New call.
		Options []runctx.Option
		Logger  *log.Logger
	}
)

// engineVariables are passed through to engine CLIs so they find the same
// daemon or socket the user's shell would.
var engineVariables = []string{
	"PATH",
	"DOCKER_HOST",
	"DOCKER_CONTEXT",
	"DOCKER_CONFIG",
	"CONTAINER_HOST",
	"CONTAINERS_CONF",
}

// EngineEnviron returns the engine related variables of the process
// environment in KEY=VALUE form.
func EngineEnviron() []string {
	var out []string
	for _, key := range engineVariables {
		if v, ok := os.LookupEnv(key); ok {
			out = append(out, key+"="+v)
		}
	}
	return out
}

// Output runs argv with stdout captured and stdin and stderr left closed.
func (r *HostRunner) Output(ctx context.Context, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, runctx.ErrEmptyArgv
	}
	logger := r.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("container")
	}

	rc := runctx.New(r.Options...)
	rc.PushHost()
	rc.AddMinimalEnvironment()
	rc.AddEnviron(EngineEnviron()...)
	rc.AddEnviron(r.Env...)
	rc.AppendArgs(argv...)

	logger.Debug("running engine query", "argv", strings.Join(argv, " "))
	p, err := rc.Spawn(ctx, runctx.SpawnOptions{CaptureStdout: true})
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", argv[0], err)
	}
	out, err := p.Output()
	if err != nil {
		return out, fmt.Errorf("run %s: %w", argv[0], err)
	}
	return out, nil
}
