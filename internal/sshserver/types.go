// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invowk/termlaunch/internal/config"
)

var (
	// ErrInvalidHostAddress is the sentinel wrapped by InvalidHostAddressError.
	ErrInvalidHostAddress = errors.New("invalid host address")
	// ErrInvalidTokenValue is the sentinel wrapped by InvalidTokenValueError.
	ErrInvalidTokenValue = errors.New("invalid token value")
	// ErrInvalidListenPort is returned for ports outside 0-65535.
	ErrInvalidListenPort = errors.New("invalid listen port")
	// ErrInvalidSSHConfig is the sentinel wrapped by InvalidSSHConfigError.
	ErrInvalidSSHConfig = errors.New("invalid SSH server config")
)

type (
	// HostAddress is the interface the server binds to.
	HostAddress string

	// TokenValue is the secret a client sends as its password.
	TokenValue string

	// InvalidHostAddressError is returned for an empty HostAddress.
	InvalidHostAddressError struct {
		Value HostAddress
	}

	// InvalidTokenValueError is returned for an empty TokenValue.
	InvalidTokenValueError struct {
		Value TokenValue
	}

	// InvalidSSHConfigError collects every field error of a Config.
	InvalidSSHConfigError struct {
		FieldErrors []error
	}

	// Config is fixed for the lifetime of a Server.
	Config struct {
		Host HostAddress
		// Port 0 picks a free port.
		Port int
		// TokenTTL bounds how long an issued token can be redeemed.
		TokenTTL        time.Duration
		ShutdownTimeout time.Duration
		StartupTimeout  time.Duration
		// HostKeyPath is created on first use. Empty keeps an in-memory key.
		HostKeyPath string
		// RequirePTY rejects sessions that did not request a terminal.
		RequirePTY bool
		// User is the login name handed out in ConnectionInfo.
		User string
	}
)

func (h HostAddress) String() string { return string(h) }

// Validate rejects empty and whitespace-only addresses.
func (h HostAddress) Validate() error {
	if strings.TrimSpace(string(h)) == "" {
		return &InvalidHostAddressError{Value: h}
	}
	return nil
}

func (t TokenValue) String() string { return string(t) }

// Validate rejects empty and whitespace-only tokens.
func (t TokenValue) Validate() error {
	if strings.TrimSpace(string(t)) == "" {
		return &InvalidTokenValueError{Value: t}
	}
	return nil
}

func (e *InvalidHostAddressError) Error() string {
	return fmt.Sprintf("invalid host address %q: must be non-empty", e.Value)
}

func (e *InvalidHostAddressError) Unwrap() error { return ErrInvalidHostAddress }

func (e *InvalidTokenValueError) Error() string {
	return fmt.Sprintf("invalid token value %q: must be non-empty", e.Value)
}

func (e *InvalidTokenValueError) Unwrap() error { return ErrInvalidTokenValue }

func (e *InvalidSSHConfigError) Error() string {
	return fmt.Sprintf("invalid SSH server config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap exposes ErrInvalidSSHConfig and every field error.
func (e *InvalidSSHConfigError) Unwrap() []error {
	return append([]error{ErrInvalidSSHConfig}, e.FieldErrors...)
}

// DefaultConfig listens on loopback with a random port.
func DefaultConfig() Config {
	return Config{
		Host:            "127.0.0.1",
		Port:            0,
		TokenTTL:        5 * time.Minute,
		ShutdownTimeout: 10 * time.Second,
		StartupTimeout:  5 * time.Second,
		User:            "termlaunch",
	}
}

// ConfigFrom applies the user's ssh settings over DefaultConfig.
func ConfigFrom(c config.SSHConfig) Config {
	cfg := DefaultConfig()
	if c.Host != "" {
		cfg.Host = HostAddress(c.Host)
	}
	cfg.Port = c.Port
	if c.TokenTTL > 0 {
		cfg.TokenTTL = c.TokenTTL
	}
	cfg.HostKeyPath = c.HostKeyPath
	return cfg
}

// Validate checks the address, port and durations.
func (c Config) Validate() error {
	var errs []error
	if err := c.Host.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidListenPort, c.Port))
	}
	if c.TokenTTL < 0 {
		errs = append(errs, fmt.Errorf("token TTL %s is negative", c.TokenTTL))
	}
	if len(errs) > 0 {
		return &InvalidSSHConfigError{FieldErrors: errs}
	}
	return nil
}

// withDefaults fills zero durations and the user name.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Host == "" {
		c.Host = def.Host
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = def.TokenTTL
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = def.ShutdownTimeout
	}
	if c.StartupTimeout == 0 {
		c.StartupTimeout = def.StartupTimeout
	}
	if c.User == "" {
		c.User = def.User
	}
	return c
}
