// SPDX-License-Identifier: MPL-2.0

package runctx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactArgv(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{
			name: "no environment",
			in:   []string{"echo", "A=1"},
			want: []string{"echo", "A=1"},
		},
		{
			name: "host escape flags",
			in:   []string{"flatpak-spawn", "--host", "--env=TOKEN=hunter2", "--directory=/w", "make"},
			want: []string{"flatpak-spawn", "--host", "--env=TOKEN=***", "--directory=/w", "make"},
		},
		{
			name: "env prefix",
			in:   []string{"env", "A=1", "B=two words", "printenv", "C=3"},
			want: []string{"env", "A=***", "B=***", "printenv", "C=3"},
		},
		{
			name: "distrobox env options",
			in:   []string{"distrobox", "enter", "box", "--", "env", "--chdir=/w", "A=1", "bash"},
			want: []string{"distrobox", "enter", "box", "--", "env", "--chdir=/w", "A=***", "bash"},
		},
		{
			name: "script without env prefix",
			in:   []string{"/bin/sh", "-c", "echo A=1"},
			want: []string{"/bin/sh", "-c", "echo A=1"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, RedactArgv(tt.in))
		})
	}
}

func TestRedactArgv_ShellScript(t *testing.T) {
	t.Parallel()

	script, err := shellScript([]string{"SECRET=s3cr3t value", "DEBUG=1"}, []string{"make", "A=keep"})
	require.NoError(t, err)
	want, err := shellScript(nil, []string{"env", "SECRET=***", "DEBUG=***", "make", "A=keep"})
	require.NoError(t, err)

	in := []string{"/bin/bash", "-l", "-c", script}
	got := RedactArgv(in)
	assert.Equal(t, []string{"/bin/bash", "-l", "-c", want}, got)
	assert.NotContains(t, got[3], "s3cr3t")
	assert.Equal(t, script, in[3], "input must not be modified")
}
