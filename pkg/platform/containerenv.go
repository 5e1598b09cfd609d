// SPDX-License-Identifier: MPL-2.0

package platform

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// ContainerEnvPath is written by podman into every container it creates.
const ContainerEnvPath = "/run/.containerenv"

// ErrNotInContainer is returned when no container metadata file exists.
var ErrNotInContainer = errors.New("not running inside a container")

// ContainerEnv describes the container the current process runs in, as
// recorded by the engine that created it.
type ContainerEnv struct {
	Engine   string `toml:"engine"`
	Name     string `toml:"name"`
	ID       string `toml:"id"`
	Image    string `toml:"image"`
	ImageID  string `toml:"imageid"`
	Rootless int    `toml:"rootless"`
}

// IsRootless reports whether the engine ran the container without root.
func (e ContainerEnv) IsRootless() bool {
	return e.Rootless == 1
}

// DetectContainerEnv reads ContainerEnvPath. It returns ErrNotInContainer
// when the file does not exist.
func DetectContainerEnv() (*ContainerEnv, error) {
	return ReadContainerEnv(ContainerEnvPath)
}

// ReadContainerEnv parses a .containerenv file at path.
func ReadContainerEnv(path string) (*ContainerEnv, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotInContainer
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseContainerEnv(data)
}

// ParseContainerEnv decodes the key="value" lines podman writes. An empty
// file is valid and yields a zero ContainerEnv; older engines only create
// the file without content.
func ParseContainerEnv(data []byte) (*ContainerEnv, error) {
	var env ContainerEnv
	if err := toml.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse container env: %w", err)
	}
	return &env, nil
}
