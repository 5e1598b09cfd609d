// SPDX-License-Identifier: MPL-2.0

package container

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/charmbracelet/log"

	"github.com/invowk/termlaunch/internal/watch"
)

const (
	podmanProvider = "podman"

	queryAttempts = 3
	queryBackoff  = 100 * time.Millisecond
)

type (
	// PodmanProvider lists podman, toolbox and distrobox containers.
	PodmanProvider struct {
		runner Runner
		logger *log.Logger
		// storageDir overrides StorageDir for Watch.
		storageDir string

		mu         sync.RWMutex
		containers []*PodmanContainer

		versionMu sync.Mutex
		version   string
	}

	// podmanPsEntry is one element of `podman ps --format=json`.
	podmanPsEntry struct {
		ID      string            `json:"Id"`
		Names   []string          `json:"Names"`
		Labels  map[string]string `json:"Labels"`
		IsInfra bool              `json:"IsInfra"`
	}

	podmanVersion struct {
		Client struct {
			Version string `json:"Version"`
		} `json:"Client"`
	}
)

// NewPodmanProvider creates a provider that queries podman through runner.
// A nil runner runs podman on the host.
func NewPodmanProvider(runner Runner) *PodmanProvider {
	logger := log.Default().WithPrefix("container")
	if runner == nil {
		runner = &HostRunner{Logger: logger}
	}
	return &PodmanProvider{runner: runner, logger: logger}
}

// Name implements Provider.
func (p *PodmanProvider) Name() string { return podmanProvider }

// Containers implements Provider.
func (p *PodmanProvider) Containers() []Container {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Container, len(p.containers))
	for i, c := range p.containers {
		out[i] = c
	}
	return out
}

// Update implements Provider. Containers that are still listed keep their
// identity, so a container started once is not started again.
func (p *PodmanProvider) Update(ctx context.Context) error {
	var data []byte
	err := retryWithBackoff(ctx, queryAttempts, queryBackoff, func(attempt int) (bool, error) {
		out, err := p.runner.Output(ctx, "podman", "ps", "--all", "--format=json")
		if err != nil {
			p.logger.Debug("podman ps failed", "attempt", attempt+1, "error", err)
			return isTransientQueryError(err), err
		}
		data = out
		return false, nil
	})
	if err != nil {
		return fmt.Errorf("list podman containers: %w", err)
	}

	entries, err := parsePodmanPs(data)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	existing := make(map[string]*PodmanContainer, len(p.containers))
	for _, c := range p.containers {
		existing[c.id] = c
	}
	next := make([]*PodmanContainer, 0, len(entries))
	for _, e := range entries {
		c := p.newContainer(e)
		if old, ok := existing[c.id]; ok && old.kind == c.kind && old.name == c.name {
			c = old
		}
		next = append(next, c)
	}
	slices.SortStableFunc(next, func(a, b *PodmanContainer) int {
		return cmp.Compare(a.DisplayName(), b.DisplayName())
	})
	p.containers = next
	p.logger.Debug("podman containers loaded", "count", len(next))
	return nil
}

func (p *PodmanProvider) newContainer(e podmanPsEntry) *PodmanContainer {
	c := &PodmanContainer{
		id:       e.ID,
		kind:     kindForLabels(e.Labels),
		labels:   e.Labels,
		provider: p,
	}
	if len(e.Names) > 0 {
		c.name = e.Names[0]
	}
	return c
}

// parsePodmanPs decodes `podman ps --format=json` and drops pod infra
// containers.
func parsePodmanPs(data []byte) ([]podmanPsEntry, error) {
	var entries []podmanPsEntry
	if err := sonic.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse podman ps output: %w", err)
	}
	return slices.DeleteFunc(entries, func(e podmanPsEntry) bool {
		return e.IsInfra || e.ID == ""
	}), nil
}

// Version returns the podman client version. The first successful query is
// cached; an empty string means podman could not be queried.
func (p *PodmanProvider) Version(ctx context.Context) string {
	p.versionMu.Lock()
	defer p.versionMu.Unlock()
	if p.version != "" {
		return p.version
	}

	out, err := p.runner.Output(ctx, "podman", "version", "--format=json")
	if err != nil {
		p.logger.Debug("podman version failed", "error", err)
		return ""
	}
	v, err := parsePodmanVersion(out)
	if err != nil {
		p.logger.Debug("podman version unparsable", "error", err)
		return ""
	}
	p.version = v
	return v
}

func parsePodmanVersion(data []byte) (string, error) {
	var v podmanVersion
	if err := sonic.Unmarshal(data, &v); err != nil {
		return "", fmt.Errorf("parse podman version output: %w", err)
	}
	if v.Client.Version == "" {
		return "", errors.New("parse podman version output: missing Client.Version")
	}
	return v.Client.Version, nil
}

// CheckVersion reports whether podman is at least major.minor.micro.
func (p *PodmanProvider) CheckVersion(ctx context.Context, major, minor, micro int) bool {
	return versionAtLeast(p.Version(ctx), major, minor, micro)
}

// versionAtLeast compares a dotted version. Missing components count as zero
// and a pre-release suffix such as "-dev" is ignored.
func versionAtLeast(version string, major, minor, micro int) bool {
	if version == "" {
		return false
	}
	version, _, _ = strings.Cut(version, "-")
	parts := strings.SplitN(version, ".", 3)
	var got [3]int
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return false
		}
		got[i] = n
	}
	want := [3]int{major, minor, micro}
	for i := range got {
		if got[i] != want[i] {
			return got[i] > want[i]
		}
	}
	return true
}

// StorageDir returns the directory holding podman's containers.json.
func StorageDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		dataHome = filepath.Join(homeDir(), ".local", "share")
	}
	return filepath.Join(dataHome, "containers", "storage", "overlay-containers")
}

// Watch implements Watcher. It calls reload whenever podman rewrites
// containers.json, until ctx is cancelled. The storage directory is created
// when missing so a first container is noticed.
func (p *PodmanProvider) Watch(ctx context.Context, reload func(context.Context) error) error {
	dir := p.storageDir
	if dir == "" {
		dir = StorageDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create podman storage directory: %w", err)
	}
	w, err := watch.New(watch.Config{
		Dirs:     []string{dir},
		Patterns: []string{"containers.json"},
		Logger:   p.logger,
		OnChange: func(ctx context.Context, _ []string) error {
			return reload(ctx)
		},
	})
	if err != nil {
		return err
	}
	return w.Run(ctx)
}
