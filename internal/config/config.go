// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"

	"github.com/spf13/viper"

	"github.com/invowk/termlaunch/internal/issue"
	"github.com/invowk/termlaunch/pkg/platform"
)

const (
	// AppName names the config directory and the environment prefix.
	AppName = "termlaunch"
	// FileName is the config file name inside the config directory.
	FileName = "config.cue"

	envPrefix = "TERMLAUNCH"
)

// ErrConfigExists is returned by WriteDefault when the file is present and
// overwriting was not requested.
var ErrConfigExists = errors.New("config file already exists")

//go:embed config_schema.cue
var configSchema string

// Dir returns the termlaunch configuration directory: $XDG_CONFIG_HOME or
// ~/.config on Linux, ~/Library/Application Support on macOS.
func Dir() (string, error) {
	if runtime.GOOS == platform.Darwin {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(home, "Library", "Application Support", AppName), nil
	}

	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, AppName), nil
}

// Path returns the config file path for opts.
func Path(opts LoadOptions) (string, error) {
	if opts.ConfigFilePath != "" {
		return opts.ConfigFilePath, nil
	}
	dir := opts.ConfigDirPath
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	return filepath.Join(dir, FileName), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	d := DefaultConfig()
	v.SetDefault("container_engine", string(d.ContainerEngine))
	v.SetDefault("default_profile", d.DefaultProfile)
	v.SetDefault("ssh.host", d.SSH.Host)
	v.SetDefault("ssh.port", d.SSH.Port)
	v.SetDefault("ssh.token_ttl", d.SSH.TokenTTL.String())
	v.SetDefault("ssh.host_key_path", d.SSH.HostKeyPath)
	v.SetDefault("metrics.addr", d.Metrics.Addr)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func load(ctx context.Context, opts LoadOptions) (*Config, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("load config canceled: %w", err)
	}

	path, err := Path(opts)
	if err != nil {
		return nil, err
	}

	v := newViper()
	source := ""
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		m, decodeErr := decodeCUE(data, path)
		if decodeErr != nil {
			return nil, loadError(path, decodeErr,
				"Check that the file contains valid CUE syntax",
				"Compare it with the output of 'termlaunch config init --print'")
		}
		if mergeErr := v.MergeConfigMap(m); mergeErr != nil {
			return nil, loadError(path, mergeErr)
		}
		source = path
	case errors.Is(err, fs.ErrNotExist) && opts.ConfigFilePath == "":
		// Defaults only.
	default:
		return nil, loadError(path, err,
			"Verify the file path is correct",
			"Check that the file exists and is readable")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, loadError(path, fmt.Errorf("decode config: %w", err))
	}
	cfg.Source = source
	normalizeProfiles(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithResource(path).
			WithSuggestion("Check TERMLAUNCH_* environment overrides").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(err).
			BuildError()
	}
	return &cfg, nil
}

// normalizeProfiles lowercases profile names, matching how Viper stores map
// keys, and fills in unset enum fields.
func normalizeProfiles(cfg *Config) {
	profiles := make(map[string]Profile, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		if p.ShellMode == "" {
			p.ShellMode = ShellModeDefault
		}
		if p.PreserveDirectory == "" {
			p.PreserveDirectory = PreserveSafe
		}
		profiles[strings.ToLower(name)] = p
	}
	cfg.Profiles = profiles
}

func loadError(path string, err error, suggestions ...string) error {
	return issue.NewErrorContext().
		WithOperation("load configuration").
		WithResource(path).
		WithSuggestions(suggestions...).
		WithIssue(issue.ConfigLoadFailedId).
		Wrap(err).
		BuildError()
}

// WriteDefault writes the built-in configuration to path, creating parent
// directories. An existing file is kept unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s", ErrConfigExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateCUE renders cfg in the config file format. Profiles are written in
// name order.
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// termlaunch configuration\n\n")
	fmt.Fprintf(&sb, "container_engine: %q\n", cfg.ContainerEngine)
	if cfg.DefaultProfile != "" {
		fmt.Fprintf(&sb, "default_profile: %q\n", cfg.DefaultProfile)
	}

	names := make([]string, 0, len(cfg.Profiles))
	for name := range cfg.Profiles {
		names = append(names, name)
	}
	slices.Sort(names)
	if len(names) > 0 {
		sb.WriteString("\nprofiles: {\n")
		for _, name := range names {
			writeProfile(&sb, name, cfg.Profiles[name])
		}
		sb.WriteString("}\n")
	}

	sb.WriteString("\nssh: {\n")
	fmt.Fprintf(&sb, "\thost: %q\n", cfg.SSH.Host)
	fmt.Fprintf(&sb, "\tport: %d\n", cfg.SSH.Port)
	fmt.Fprintf(&sb, "\ttoken_ttl: %q\n", cfg.SSH.TokenTTL.String())
	if cfg.SSH.HostKeyPath != "" {
		fmt.Fprintf(&sb, "\thost_key_path: %q\n", cfg.SSH.HostKeyPath)
	}
	sb.WriteString("}\n")

	if cfg.Metrics.Addr != "" {
		fmt.Fprintf(&sb, "\nmetrics: addr: %q\n", cfg.Metrics.Addr)
	}
	return sb.String()
}

func writeProfile(sb *strings.Builder, name string, p Profile) {
	fmt.Fprintf(sb, "\t%q: {\n", name)
	if p.Shell != "" {
		fmt.Fprintf(sb, "\t\tshell: %q\n", p.Shell)
	}
	if p.ShellMode != "" {
		fmt.Fprintf(sb, "\t\tshell_mode: %q\n", p.ShellMode)
	}
	writeList(sb, "env", p.Env)
	writeList(sb, "pass_env", p.PassEnv)
	if p.Container != "" {
		fmt.Fprintf(sb, "\t\tcontainer: %q\n", p.Container)
	}
	if p.PreserveDirectory != "" {
		fmt.Fprintf(sb, "\t\tpreserve_directory: %q\n", p.PreserveDirectory)
	}
	if p.CustomCommand != "" {
		fmt.Fprintf(sb, "\t\tcustom_command: %q\n", p.CustomCommand)
	}
	if p.UseCustomCommand {
		sb.WriteString("\t\tuse_custom_command: true\n")
	}
	sb.WriteString("\t}\n")
}

func writeList(sb *strings.Builder, key string, values []string) {
	if len(values) == 0 {
		return
	}
	fmt.Fprintf(sb, "\t\t%s: [", key)
	for i, v := range values {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(sb, "%q", v)
	}
	sb.WriteString("]\n")
}
