// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"testing"
)

func TestEnumValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{"engine auto", ContainerEngineAuto.Validate(), nil},
		{"engine docker", ContainerEngineDocker.Validate(), nil},
		{"engine empty", ContainerEngine("").Validate(), ErrInvalidContainerEngine},
		{"shell mode empty", ShellMode("").Validate(), nil},
		{"shell mode login", ShellModeLogin.Validate(), nil},
		{"shell mode bogus", ShellMode("restricted").Validate(), ErrInvalidShellMode},
		{"preserve empty", PreserveDirectory("").Validate(), nil},
		{"preserve never", PreserveNever.Validate(), nil},
		{"preserve bogus", PreserveDirectory("sometimes").Validate(), ErrInvalidPreserveDirectory},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if tt.wantErr == nil {
				if tt.err != nil {
					t.Errorf("Validate() error = %v, want nil", tt.err)
				}
				return
			}
			if !errors.Is(tt.err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", tt.err, tt.wantErr)
			}
		})
	}
}

func TestProfileValidate(t *testing.T) {
	t.Parallel()

	p := Profile{
		ShellMode:         "weird",
		PreserveDirectory: "odd",
		Env:               []string{"OK=1", "=bad", "bad"},
		UseCustomCommand:  true,
	}
	err := p.Validate("broken")
	var perr *InvalidProfileError
	if !errors.As(err, &perr) {
		t.Fatalf("Validate() error = %v, want *InvalidProfileError", err)
	}
	if perr.Name != "broken" || len(perr.FieldErrors) != 5 {
		t.Errorf("InvalidProfileError = %s with %d field errors, want 5", perr.Name, len(perr.FieldErrors))
	}
	if !errors.Is(err, ErrInvalidProfile) {
		t.Error("error does not wrap ErrInvalidProfile")
	}

	if err := DefaultProfileValue().Validate("default"); err != nil {
		t.Errorf("default profile Validate() error = %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("DefaultConfig().Validate() error = %v", err)
	}

	cfg := DefaultConfig()
	cfg.SSH.Port = 0
	cfg.SSH.TokenTTL = 0
	cfg.Profiles["x"] = Profile{ShellMode: "nope"}
	err := cfg.Validate()
	var cerr *InvalidConfigError
	if !errors.As(err, &cerr) || len(cerr.FieldErrors) != 3 {
		t.Fatalf("Validate() error = %v, want 3 field errors", err)
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Error("error does not wrap ErrInvalidConfig")
	}
}

func TestProfileLookupCaseInsensitive(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Profiles["work"] = Profile{Shell: "/bin/zsh"}
	p, err := cfg.Profile("WORK")
	if err != nil || p.Shell != "/bin/zsh" {
		t.Errorf("Profile(WORK) = %+v, %v", p, err)
	}
	if got := (Profile{}).TargetContainer(); got != SessionContainer {
		t.Errorf("TargetContainer() = %q, want session", got)
	}
}
