// SPDX-License-Identifier: MPL-2.0

// Package testutil holds helpers shared by tests: a controllable clock,
// cleanup wrappers and a limit on concurrent container tests.
package testutil
