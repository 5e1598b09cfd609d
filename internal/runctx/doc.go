// SPDX-License-Identifier: MPL-2.0

// Package runctx composes a command out of stacked layers and launches it.
//
// A Context starts with a single root layer. Callers push wrapper layers for
// each boundary the command must cross (escaping a Flatpak sandbox, entering a
// container, running through a login shell), write the literal command into
// the top layer, and then call Finalize or Spawn. Finalize pops layers most
// recently pushed first; each popped layer's Transform rewrites its resolved
// argv, environment, working directory and descriptor table into the layer
// beneath it. When only the root remains it holds the flattened command,
// which Spawn hands to the operating system.
//
// The set of transforms is closed (see Kind). A Context is a short-lived,
// single-goroutine value and is not safe for concurrent use.
package runctx
