// SPDX-License-Identifier: MPL-2.0

// Package container enumerates launch targets and knows how to carry a
// command into each of them.
//
// A target is either the user's own session on the host or a container
// managed by podman (plain, toolbox or distrobox flavored) or docker. Every
// target implements Container, whose Prepare method pushes the layers that
// move a command across the boundary onto a runctx.Context. Providers list
// the targets of one engine; a Registry combines them behind a single
// lookup by id.
package container
