// SPDX-License-Identifier: MPL-2.0

// Package config loads termlaunch settings: which container engines to
// query, launch profiles, and the SSH and metrics listeners.
//
// The file format is CUE, validated against the embedded #Config schema in
// config_schema.cue, then merged by Viper over built-in defaults.
// TERMLAUNCH_* environment variables override individual keys, for example
// TERMLAUNCH_SSH_PORT.
package config
