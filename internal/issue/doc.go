// SPDX-License-Identifier: MPL-2.0

// Package issue turns launch failures into messages a user can act on.
//
// ActionableError carries the failed operation, the resource involved and a
// list of suggestions. Well known failures also point at an Issue, a
// markdown page rendered in the terminal with glamour.
package issue
