// SPDX-License-Identifier: MPL-2.0

// Package fdtable maps destination descriptor slots in a child process to the
// open files that will be placed there.
//
// A Table owns every file it holds. Ownership moves only through Take, Steal
// and MergeSteal; Peek lends a file without transferring it. Replacing a slot
// closes the previous occupant, and closing the table closes every file that
// is still live.
package fdtable
