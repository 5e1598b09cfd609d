// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// ContainerEngineAuto queries every engine that is installed.
	ContainerEngineAuto ContainerEngine = "auto"
	// ContainerEnginePodman queries podman only.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker queries docker only.
	ContainerEngineDocker ContainerEngine = "docker"

	ShellModeDefault     ShellMode = "default"
	ShellModeLogin       ShellMode = "login"
	ShellModeInteractive ShellMode = "interactive"

	// PreserveNever always starts in the home directory.
	PreserveNever PreserveDirectory = "never"
	// PreserveSafe keeps the directory for shells only.
	PreserveSafe PreserveDirectory = "safe"
	// PreserveAlways keeps the directory for every command.
	PreserveAlways PreserveDirectory = "always"

	// DefaultProfileName is the profile used when none is selected.
	DefaultProfileName = "default"
	// SessionContainer is the id of the host target.
	SessionContainer = "session"
)

var (
	ErrInvalidContainerEngine   = errors.New("invalid container engine")
	ErrInvalidShellMode         = errors.New("invalid shell mode")
	ErrInvalidPreserveDirectory = errors.New("invalid preserve directory")
	// ErrInvalidProfile is the sentinel wrapped by InvalidProfileError.
	ErrInvalidProfile = errors.New("invalid profile")
	// ErrInvalidConfig is the sentinel wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrProfileNotFound is the sentinel wrapped by ProfileNotFoundError.
	ErrProfileNotFound = errors.New("profile not found")
)

type (
	// ContainerEngine selects which engines are queried for containers.
	ContainerEngine string

	// InvalidContainerEngineError wraps ErrInvalidContainerEngine.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// ShellMode selects the flags the shell is started with.
	ShellMode string

	// InvalidShellModeError wraps ErrInvalidShellMode.
	InvalidShellModeError struct {
		Value ShellMode
	}

	// PreserveDirectory decides whether a launch inherits the caller's
	// working directory.
	PreserveDirectory string

	// InvalidPreserveDirectoryError wraps ErrInvalidPreserveDirectory.
	InvalidPreserveDirectoryError struct {
		Value PreserveDirectory
	}

	// InvalidProfileError collects the field errors of one profile.
	InvalidProfileError struct {
		Name        string
		FieldErrors []error
	}

	// InvalidConfigError collects every field error of a Config.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// ProfileNotFoundError is returned by Config.Profile.
	ProfileNotFoundError struct {
		Name string
	}

	// Profile describes how a command is launched.
	Profile struct {
		Shell     string    `json:"shell" mapstructure:"shell"`
		ShellMode ShellMode `json:"shell_mode" mapstructure:"shell_mode"`
		// Env holds extra KEY=VALUE entries.
		Env []string `json:"env" mapstructure:"env"`
		// PassEnv names host variables copied into the command when set.
		PassEnv []string `json:"pass_env" mapstructure:"pass_env"`
		// Container is the default target id.
		Container         string            `json:"container" mapstructure:"container"`
		PreserveDirectory PreserveDirectory `json:"preserve_directory" mapstructure:"preserve_directory"`
		CustomCommand     string            `json:"custom_command" mapstructure:"custom_command"`
		UseCustomCommand  bool              `json:"use_custom_command" mapstructure:"use_custom_command"`
	}

	// SSHConfig configures the session server.
	SSHConfig struct {
		Host string `json:"host" mapstructure:"host"`
		Port int    `json:"port" mapstructure:"port"`
		// TokenTTL bounds how long a one-time login token stays valid.
		TokenTTL    time.Duration `json:"token_ttl" mapstructure:"token_ttl"`
		HostKeyPath string        `json:"host_key_path" mapstructure:"host_key_path"`
	}

	// MetricsConfig configures the Prometheus listener.
	MetricsConfig struct {
		Addr string `json:"addr" mapstructure:"addr"`
	}

	// Config holds the application configuration.
	Config struct {
		ContainerEngine ContainerEngine    `json:"container_engine" mapstructure:"container_engine"`
		DefaultProfile  string             `json:"default_profile" mapstructure:"default_profile"`
		Profiles        map[string]Profile `json:"profiles" mapstructure:"profiles"`
		SSH             SSHConfig          `json:"ssh" mapstructure:"ssh"`
		Metrics         MetricsConfig      `json:"metrics" mapstructure:"metrics"`

		// Source is the file the configuration was read from, empty when only
		// defaults apply.
		Source string `json:"-" mapstructure:"-"`
	}
)

func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: auto, podman, docker)", e.Value)
}

func (e *InvalidContainerEngineError) Unwrap() error { return ErrInvalidContainerEngine }

// String returns the engine name.
func (ce ContainerEngine) String() string { return string(ce) }

// Validate returns an *InvalidContainerEngineError for unknown values.
func (ce ContainerEngine) Validate() error {
	switch ce {
	case ContainerEngineAuto, ContainerEnginePodman, ContainerEngineDocker:
		return nil
	default:
		return &InvalidContainerEngineError{Value: ce}
	}
}

func (e *InvalidShellModeError) Error() string {
	return fmt.Sprintf("invalid shell mode %q (valid: default, login, interactive)", e.Value)
}

func (e *InvalidShellModeError) Unwrap() error { return ErrInvalidShellMode }

// String returns the mode name.
func (m ShellMode) String() string { return string(m) }

// Validate returns an *InvalidShellModeError for unknown values. The empty
// mode is treated as default.
func (m ShellMode) Validate() error {
	switch m {
	case "", ShellModeDefault, ShellModeLogin, ShellModeInteractive:
		return nil
	default:
		return &InvalidShellModeError{Value: m}
	}
}

func (e *InvalidPreserveDirectoryError) Error() string {
	return fmt.Sprintf("invalid preserve directory %q (valid: never, safe, always)", e.Value)
}

func (e *InvalidPreserveDirectoryError) Unwrap() error { return ErrInvalidPreserveDirectory }

// String returns the policy name.
func (p PreserveDirectory) String() string { return string(p) }

// Validate returns an *InvalidPreserveDirectoryError for unknown values. The
// empty policy is treated as safe.
func (p PreserveDirectory) Validate() error {
	switch p {
	case "", PreserveNever, PreserveSafe, PreserveAlways:
		return nil
	default:
		return &InvalidPreserveDirectoryError{Value: p}
	}
}

func (e *InvalidProfileError) Error() string {
	return fmt.Sprintf("invalid profile %q: %d field error(s)", e.Name, len(e.FieldErrors))
}

// Unwrap exposes ErrInvalidProfile and every field error to errors.Is.
func (e *InvalidProfileError) Unwrap() []error {
	return append([]error{ErrInvalidProfile}, e.FieldErrors...)
}

// Validate checks the enum fields and the shape of Env entries.
func (p Profile) Validate(name string) error {
	var errs []error
	if err := p.ShellMode.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := p.PreserveDirectory.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, entry := range p.Env {
		if k, _, ok := strings.Cut(entry, "="); !ok || k == "" {
			errs = append(errs, fmt.Errorf("env entry %q is not KEY=VALUE", entry))
		}
	}
	if p.UseCustomCommand && strings.TrimSpace(p.CustomCommand) == "" {
		errs = append(errs, errors.New("use_custom_command is set but custom_command is empty"))
	}
	if len(errs) > 0 {
		return &InvalidProfileError{Name: name, FieldErrors: errs}
	}
	return nil
}

// TargetContainer returns the profile's container, defaulting to the host
// session.
func (p Profile) TargetContainer() string {
	if p.Container == "" {
		return SessionContainer
	}
	return p.Container
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap exposes ErrInvalidConfig and every field error to errors.Is.
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// Validate checks every field that CUE cannot, or that an environment
// override may have changed after schema validation.
func (c *Config) Validate() error {
	var errs []error
	if err := c.ContainerEngine.Validate(); err != nil {
		errs = append(errs, err)
	}
	for name, p := range c.Profiles {
		if err := p.Validate(name); err != nil {
			errs = append(errs, err)
		}
	}
	if c.SSH.Port <= 0 || c.SSH.Port > 65535 {
		errs = append(errs, fmt.Errorf("ssh.port %d out of range", c.SSH.Port))
	}
	if c.SSH.TokenTTL <= 0 {
		errs = append(errs, fmt.Errorf("ssh.token_ttl must be positive, got %s", c.SSH.TokenTTL))
	}
	if len(errs) > 0 {
		return &InvalidConfigError{FieldErrors: errs}
	}
	return nil
}

func (e *ProfileNotFoundError) Error() string {
	return fmt.Sprintf("profile %q not found", e.Name)
}

func (e *ProfileNotFoundError) Unwrap() error { return ErrProfileNotFound }

// Profile returns the named profile. An empty name selects DefaultProfile.
// The default profile always resolves, falling back to DefaultProfileValue
// when the file does not define it. Names are matched case-insensitively.
func (c *Config) Profile(name string) (Profile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" {
		name = DefaultProfileName
	}
	if p, ok := c.Profiles[strings.ToLower(name)]; ok {
		return p, nil
	}
	if strings.EqualFold(name, c.DefaultProfile) || strings.EqualFold(name, DefaultProfileName) {
		return DefaultProfileValue(), nil
	}
	return Profile{}, &ProfileNotFoundError{Name: name}
}

// DefaultProfileValue returns the built-in profile.
func DefaultProfileValue() Profile {
	return Profile{
		ShellMode:         ShellModeDefault,
		Container:         SessionContainer,
		PreserveDirectory: PreserveSafe,
	}
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		ContainerEngine: ContainerEngineAuto,
		DefaultProfile:  DefaultProfileName,
		Profiles: map[string]Profile{
			DefaultProfileName: DefaultProfileValue(),
		},
		SSH: SSHConfig{
			Host:     "127.0.0.1",
			Port:     2222,
			TokenTTL: 5 * time.Minute,
		},
	}
}
