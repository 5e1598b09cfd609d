// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"maps"
	"os"
	"os/user"
	"sync"

	"github.com/invowk/termlaunch/internal/runctx"
	"github.com/invowk/termlaunch/pkg/platform"
)

// Labels that mark podman containers created by toolbox and distrobox.
const (
	toolboxLabel        = "com.github.containers.toolbox"
	distroboxLabel      = "manager"
	distroboxLabelValue = "distrobox"
)

// PodmanContainer is a container listed by `podman ps`. Toolbox and
// distrobox containers are podman containers with extra labels; they share
// the user's home and are entered as the current user.
type PodmanContainer struct {
	id       string
	name     string
	kind     Kind
	labels   map[string]string
	provider *PodmanProvider

	startMu sync.Mutex
	started bool
}

// kindForLabels maps podman labels to the flavor of container.
func kindForLabels(labels map[string]string) Kind {
	if _, ok := labels[toolboxLabel]; ok {
		return KindToolbox
	}
	if labels[distroboxLabel] == distroboxLabelValue {
		return KindDistrobox
	}
	return KindPodman
}

// ID implements Container.
func (c *PodmanContainer) ID() string { return c.id }

// Kind implements Container.
func (c *PodmanContainer) Kind() Kind { return c.kind }

// Provider implements Container.
func (c *PodmanContainer) Provider() string { return podmanProvider }

// DisplayName implements Container.
func (c *PodmanContainer) DisplayName() string {
	if c.name != "" {
		return c.name
	}
	return c.id
}

// Labels returns a copy of the container labels.
func (c *PodmanContainer) Labels() map[string]string {
	return maps.Clone(c.labels)
}

// Prepare implements Container.
func (c *PodmanContainer) Prepare(ctx context.Context, rc *runctx.Context) error {
	if err := c.ensureStarted(ctx); err != nil {
		return err
	}

	if c.kind == KindDistrobox {
		return c.prepareDistrobox(rc)
	}

	spec := runctx.ExecSpec{
		Runtime:    runctx.RuntimePodman,
		ID:         c.id,
		DetachKeys: c.provider.CheckVersion(ctx, 1, 8, 1),
	}
	if c.kind == KindToolbox {
		spec.User = currentUserName()
	}

	rc.PushHost()
	rc.Push(runctx.Transform{Kind: runctx.KindContainerExec, Exec: spec})
	rc.AddMinimalEnvironment()
	rc.Unsetenv("HOME")
	return nil
}

func (c *PodmanContainer) prepareDistrobox(rc *runctx.Context) error {
	// distrobox reads these on the host side to pick the container user.
	rc.Setenv("HOME", homeDir())
	rc.Setenv("USER", currentUserName())

	rc.PushHost()
	rc.Push(runctx.Transform{
		Kind: runctx.KindContainerExec,
		Exec: runctx.ExecSpec{
			Runtime:   runctx.RuntimeDistrobox,
			Name:      c.DisplayName(),
			DirExists: hostDirExists,
		},
	})
	rc.AddMinimalEnvironment()
	rc.Unsetenv("HOME")
	return nil
}

// ensureStarted runs `podman start` the first time a command is launched
// into the container. A failure is retried on the next launch.
func (c *PodmanContainer) ensureStarted(ctx context.Context) error {
	c.startMu.Lock()
	defer c.startMu.Unlock()

	if c.started {
		return nil
	}
	if _, err := c.provider.runner.Output(ctx, "podman", "start", c.id); err != nil {
		return fmt.Errorf("start container %s: %w", c.DisplayName(), err)
	}
	c.started = true
	return nil
}

func currentUserName() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func hostDirExists(dir string) bool {
	st, err := os.Stat(platform.HostPath(dir))
	return err == nil && st.IsDir()
}
