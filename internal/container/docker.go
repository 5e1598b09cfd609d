// SPDX-License-Identifier: MPL-2.0

package container

import (
	"bufio"
	"bytes"
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"

	"github.com/invowk/termlaunch/internal/runctx"
)

const dockerProvider = "docker"

type (
	// DockerProvider lists docker containers.
	DockerProvider struct {
		runner Runner
		logger *log.Logger

		mu         sync.RWMutex
		containers []*DockerContainer
	}

	// DockerContainer is a container listed by `docker ps`. Commands enter it
	// with docker exec, which cannot forward descriptors above stderr.
	DockerContainer struct {
		id     string
		name   string
		labels map[string]string
	}

	// dockerPsEntry is one line of `docker ps --format={{json .}}`.
	dockerPsEntry struct {
		ID     string `json:"ID"`
		Names  string `json:"Names"`
		Labels string `json:"Labels"`
	}
)

// NewDockerProvider creates a provider that queries docker through runner.
// A nil runner runs docker on the host.
func NewDockerProvider(runner Runner) *DockerProvider {
	logger := log.Default().WithPrefix("container")
	if runner == nil {
		runner = &HostRunner{Logger: logger}
	}
	return &DockerProvider{runner: runner, logger: logger}
}

// Name implements Provider.
func (p *DockerProvider) Name() string { return dockerProvider }

// Containers implements Provider.
func (p *DockerProvider) Containers() []Container {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Container, len(p.containers))
	for i, c := range p.containers {
		out[i] = c
	}
	return out
}

// Update implements Provider.
func (p *DockerProvider) Update(ctx context.Context) error {
	var data []byte
	err := retryWithBackoff(ctx, queryAttempts, queryBackoff, func(int) (bool, error) {
		out, err := p.runner.Output(ctx, "docker", "ps", "--all", "--format={{json .}}")
		if err != nil {
			return isTransientQueryError(err), err
		}
		data = out
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("list docker containers: %w", err)
	}

	entries, err := parseDockerPs(data)
	if err != nil {
		return err
	}
	next := make([]*DockerContainer, 0, len(entries))
	for _, e := range entries {
		name, _, _ := strings.Cut(e.Names, ",")
		next = append(next, &DockerContainer{
			id:     e.ID,
			name:   name,
			labels: parseDockerLabels(e.Labels),
		})
	}
	slices.SortStableFunc(next, func(a, b *DockerContainer) int {
		return cmp.Compare(a.DisplayName(), b.DisplayName())
	})

	p.mu.Lock()
	p.containers = next
	p.mu.Unlock()
	p.logger.Debug("docker containers loaded", "count", len(next))
	return nil
}

// parseDockerPs decodes one JSON object per line.
func parseDockerPs(data []byte) ([]dockerPsEntry, error) {
	var entries []dockerPsEntry
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e dockerPsEntry
		if err := sonic.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse docker ps output: %w", err)
		}
		if e.ID != "" {
			entries = append(entries, e)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read docker ps output: %w", err)
	}
	return entries, nil
}

// parseDockerLabels splits docker's "k=v,k2=v2" label rendering.
func parseDockerLabels(s string) map[string]string {
	labels := make(map[string]string)
	for pair := range strings.SplitSeq(s, ",") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		labels[k] = v
	}
	return labels
}

// ID implements Container.
func (c *DockerContainer) ID() string { return c.id }

// Kind implements Container.
func (c *DockerContainer) Kind() Kind { return KindDocker }

// Provider implements Container.
func (c *DockerContainer) Provider() string { return dockerProvider }

// DisplayName implements Container.
func (c *DockerContainer) DisplayName() string {
	if c.name != "" {
		return c.name
	}
	return c.id
}

// Labels returns a copy of the container labels.
func (c *DockerContainer) Labels() map[string]string {
	return maps.Clone(c.labels)
}

// Prepare implements Container.
func (c *DockerContainer) Prepare(_ context.Context, rc *runctx.Context) error {
	rc.PushHost()
	rc.Push(runctx.Transform{
		Kind: runctx.KindContainerExec,
		Exec: runctx.ExecSpec{Runtime: runctx.RuntimeDocker, ID: c.id},
	})
	rc.AddMinimalEnvironment()
	rc.Unsetenv("HOME")
	return nil
}
