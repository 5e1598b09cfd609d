// SPDX-License-Identifier: MPL-2.0

// Package platform answers questions about the environment the launcher
// itself runs in: whether it is confined by an application sandbox, whether
// it runs inside a container, and where host files are visible from inside
// the sandbox.
package platform
