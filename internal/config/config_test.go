// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/invowk/termlaunch/internal/issue"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return dir
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Parallel()

	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != "" {
		t.Errorf("Source = %q, want empty", cfg.Source)
	}
	if cfg.ContainerEngine != ContainerEngineAuto {
		t.Errorf("ContainerEngine = %q, want auto", cfg.ContainerEngine)
	}
	if cfg.SSH.Port != 2222 || cfg.SSH.TokenTTL != 5*time.Minute {
		t.Errorf("SSH = %+v", cfg.SSH)
	}

	p, err := cfg.Profile("")
	if err != nil {
		t.Fatalf("Profile(\"\") error = %v", err)
	}
	if p.TargetContainer() != SessionContainer || p.PreserveDirectory != PreserveSafe {
		t.Errorf("default profile = %+v", p)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	dir := writeConfig(t, `
container_engine: "podman"
default_profile: "Work"
profiles: {
	Work: {
		shell: "/usr/bin/zsh"
		shell_mode: "login"
		env: ["EDITOR=vim"]
		pass_env: ["SSH_AUTH_SOCK"]
		container: "fedora-toolbox-40"
		preserve_directory: "always"
	}
	build: {
		custom_command: "make -j8"
		use_custom_command: true
	}
}
ssh: {
	port: 2300
	token_ttl: "90s"
}
metrics: addr: "127.0.0.1:9100"
`)

	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: dir})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Source != filepath.Join(dir, FileName) {
		t.Errorf("Source = %q", cfg.Source)
	}
	if cfg.ContainerEngine != ContainerEnginePodman {
		t.Errorf("ContainerEngine = %q", cfg.ContainerEngine)
	}
	if cfg.SSH.Port != 2300 || cfg.SSH.TokenTTL != 90*time.Second || cfg.SSH.Host != "127.0.0.1" {
		t.Errorf("SSH = %+v", cfg.SSH)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9100" {
		t.Errorf("Metrics.Addr = %q", cfg.Metrics.Addr)
	}

	work, err := cfg.Profile("")
	if err != nil {
		t.Fatalf("Profile(default) error = %v", err)
	}
	if work.Shell != "/usr/bin/zsh" || work.ShellMode != ShellModeLogin || work.Container != "fedora-toolbox-40" {
		t.Errorf("work profile = %+v", work)
	}
	if len(work.Env) != 1 || work.Env[0] != "EDITOR=vim" {
		t.Errorf("work.Env = %v", work.Env)
	}

	build, err := cfg.Profile("build")
	if err != nil {
		t.Fatalf("Profile(build) error = %v", err)
	}
	if !build.UseCustomCommand || build.CustomCommand != "make -j8" {
		t.Errorf("build profile = %+v", build)
	}
	if build.ShellMode != ShellModeDefault || build.PreserveDirectory != PreserveSafe {
		t.Errorf("build profile defaults not applied: %+v", build)
	}

	_, err = cfg.Profile("missing")
	if !errors.Is(err, ErrProfileNotFound) {
		t.Errorf("Profile(missing) error = %v, want ErrProfileNotFound", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TERMLAUNCH_SSH_PORT", "2400")
	t.Setenv("TERMLAUNCH_CONTAINER_ENGINE", "docker")

	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: writeConfig(t, `ssh: port: 2300`)})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SSH.Port != 2400 {
		t.Errorf("SSH.Port = %d, want 2400 from the environment", cfg.SSH.Port)
	}
	if cfg.ContainerEngine != ContainerEngineDocker {
		t.Errorf("ContainerEngine = %q, want docker", cfg.ContainerEngine)
	}
}

func TestLoadInvalidEnvOverride(t *testing.T) {
	t.Setenv("TERMLAUNCH_CONTAINER_ENGINE", "lxc")

	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: t.TempDir()})
	if !errors.Is(err, ErrInvalidContainerEngine) {
		t.Fatalf("Load() error = %v, want ErrInvalidContainerEngine", err)
	}
}

func TestLoadErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		wantMsg string
	}{
		{"syntax", `container_engine: `, FileName},
		{"unknown engine", `container_engine: "lxc"`, "lxc"},
		{"unknown field", `colour: "blue"`, "colour"},
		{"bad port", `ssh: port: 70000`, "70000"},
		{"bad env entry", `profiles: p: env: ["NOEQUALS"]`, "NOEQUALS"},
		{"bad duration", `ssh: token_ttl: "soon"`, "soon"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigDirPath: writeConfig(t, tt.content)})
			if err == nil {
				t.Fatal("Load() succeeded, want error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("Load() error = %q, want it to mention %q", err, tt.wantMsg)
			}
			ae, ok := issue.AsActionable(err)
			if !ok || ae.IssueID != issue.ConfigLoadFailedId {
				t.Errorf("Load() error is not an actionable config issue: %#v", err)
			}
		})
	}
}

func TestLoadExplicitFileMissing(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nope.cue")
	_, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("Load() error = %v, want not-exist", err)
	}
}

func TestLoadCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	if _, err := NewProvider().Load(ctx, LoadOptions{ConfigDirPath: t.TempDir()}); err == nil {
		t.Error("Load() with canceled context succeeded")
	}
}

func TestWriteDefaultLoads(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", FileName)
	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if err := WriteDefault(path, false); !errors.Is(err, ErrConfigExists) {
		t.Errorf("second WriteDefault() error = %v, want ErrConfigExists", err)
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("forced WriteDefault() error = %v", err)
	}

	cfg, err := NewProvider().Load(t.Context(), LoadOptions{ConfigFilePath: path})
	if err != nil {
		t.Fatalf("Load() of generated file error = %v\n%s", err, GenerateCUE(DefaultConfig()))
	}
	if _, ok := cfg.Profiles[DefaultProfileName]; !ok {
		t.Errorf("generated file lost the default profile: %v", cfg.Profiles)
	}
}

func TestDirHonorsXDG(t *testing.T) {
	if runtime.GOOS == "darwin" {
		t.Skip("macOS ignores XDG_CONFIG_HOME")
	}
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	got, err := Dir()
	if err != nil {
		t.Fatalf("Dir() error = %v", err)
	}
	if got != "/xdg/termlaunch" {
		t.Errorf("Dir() = %q, want /xdg/termlaunch", got)
	}
}
