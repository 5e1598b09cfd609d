// SPDX-License-Identifier: MPL-2.0

// Package sshserver serves terminal sessions over SSH.
//
// A client authenticates with a one-time token issued by IssueToken. The
// token carries the profile and target to launch; each session gets its own
// pseudo-terminal (or plain pipes when the client asked for none) and ends
// with the child's exit status.
package sshserver
