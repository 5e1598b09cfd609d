// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"os"
	"os/exec"

	"github.com/charmbracelet/log"

	"github.com/invowk/termlaunch/internal/config"
	"github.com/invowk/termlaunch/internal/container"
	"github.com/invowk/termlaunch/internal/launcher"
	"github.com/invowk/termlaunch/internal/metrics"
	"github.com/invowk/termlaunch/internal/runctx"
	"github.com/invowk/termlaunch/pkg/platform"
)

type (
	// App wires the services shared by every subcommand. Command handlers
	// receive it from NewRootCommand and never build collaborators
	// themselves.
	App struct {
		Config        config.Provider
		Sandbox       *platform.SandboxType
		Environ       func() []string
		LookupEnv     func(string) (string, bool)
		Providers     func(config.ContainerEngine) []container.Provider
		// RunctxOptions are passed to every composition stack.
		RunctxOptions []runctx.Option

		verbose bool
		cfgFile string
		profile string
	}

	// Dependencies are the injection points of NewApp. Nil fields get
	// production defaults.
	Dependencies struct {
		Config config.Provider
		// Sandbox overrides sandbox detection.
		Sandbox *platform.SandboxType
		// Environ overrides os.Environ for commands run in the session.
		Environ func() []string
		// LookupEnv overrides os.LookupEnv for pass_env and $SHELL.
		LookupEnv func(string) (string, bool)
		// Providers returns the container providers for an engine setting.
		Providers     func(config.ContainerEngine) []container.Provider
		RunctxOptions []runctx.Option
	}

	// stack is what one invocation builds from the configuration.
	stack struct {
		launcher *launcher.Launcher
		registry *container.Registry
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Providers == nil {
		deps.Providers = defaultProviders
	}
	return &App{
		Config:        deps.Config,
		Sandbox:       deps.Sandbox,
		Environ:       deps.Environ,
		LookupEnv:     deps.LookupEnv,
		Providers:     deps.Providers,
		RunctxOptions: deps.RunctxOptions,
	}
}

// initLogging sets the default logger level from --verbose. Component
// loggers copy the level when they are created, so this runs before any
// command handler.
func (a *App) initLogging() {
	log.SetOutput(os.Stderr)
	if a.verbose {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.WarnLevel)
}

func (a *App) loadConfig(ctx context.Context) (*config.Config, error) {
	return a.Config.Load(ctx, config.LoadOptions{ConfigFilePath: a.cfgFile})
}

// newStack builds the registry and launcher for cfg. Container providers
// are only queried when refresh is set.
func (a *App) newStack(ctx context.Context, cfg *config.Config, m *metrics.Metrics, refresh bool) *stack {
	session := &container.Session{Sandbox: a.Sandbox, Environ: a.Environ}
	providers := a.Providers(cfg.ContainerEngine)
	registry := container.NewRegistry(session, providers...)
	l := launcher.New(launcher.Options{
		Registry:      registry,
		Metrics:       m,
		RunctxOptions: a.RunctxOptions,
		Sandbox:       a.Sandbox,
		LookupEnv:     a.LookupEnv,
	})
	if refresh {
		// Failing providers are logged by the registry and contribute no
		// targets.
		_ = l.Refresh(ctx)
	}
	return &stack{launcher: l, registry: registry}
}

// defaultProviders maps the container_engine setting to providers. "auto"
// keeps the engines found in PATH; inside a sandbox the engines live on the
// host and cannot be checked from here, so both are kept.
func defaultProviders(engine config.ContainerEngine) []container.Provider {
	switch engine {
	case config.ContainerEnginePodman:
		return []container.Provider{container.NewPodmanProvider(nil)}
	case config.ContainerEngineDocker:
		return []container.Provider{container.NewDockerProvider(nil)}
	}

	sandboxed := platform.IsInSandbox()
	var providers []container.Provider
	if sandboxed || installed("podman") {
		providers = append(providers, container.NewPodmanProvider(nil))
	}
	if sandboxed || installed("docker") {
		providers = append(providers, container.NewDockerProvider(nil))
	}
	return providers
}

func installed(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}
