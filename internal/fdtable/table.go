// SPDX-License-Identifier: MPL-2.0

package fdtable

import (
	"errors"
	"fmt"
	"os"
	"slices"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

const (
	// Stdin is the destination slot of the child's standard input.
	Stdin = 0
	// Stdout is the destination slot of the child's standard output.
	Stdout = 1
	// Stderr is the destination slot of the child's standard error.
	Stderr = 2

	devNull = "/dev/null"
)

var (
	// ErrSlotEmpty is returned when an operation needs a live descriptor at a
	// slot that has none.
	ErrSlotEmpty = errors.New("descriptor slot is empty")
	// ErrCollision is the sentinel wrapped by CollisionError.
	ErrCollision = errors.New("descriptor slot collision")
	// ErrInvalidSlot is returned for negative destination slots.
	ErrInvalidSlot = errors.New("invalid descriptor slot")
)

type (
	// Table is an owning map from destination slot to open file.
	// The zero value is an empty, usable table. A Table is not safe for
	// concurrent use.
	Table struct {
		slots map[int]*os.File
	}

	// CollisionError reports a slot that holds a live descriptor on both sides
	// of a merge. It wraps ErrCollision.
	CollisionError struct {
		Slot int
	}
)

// Error implements the error interface.
func (e *CollisionError) Error() string {
	return fmt.Sprintf("descriptor slot %d is already in use", e.Slot)
}

// Unwrap returns ErrCollision for errors.Is compatibility.
func (e *CollisionError) Unwrap() error {
	return ErrCollision
}

// New returns an empty table.
func New() *Table {
	return &Table{slots: make(map[int]*os.File)}
}

func (t *Table) init() {
	if t.slots == nil {
		t.slots = make(map[int]*os.File)
	}
}

// Len returns the number of live slots.
func (t *Table) Len() int {
	return len(t.slots)
}

// Slots returns the live destination slots in ascending order.
func (t *Table) Slots() []int {
	out := make([]int, 0, len(t.slots))
	for dest := range t.slots {
		out = append(out, dest)
	}
	slices.Sort(out)
	return out
}

// Take stores f at dest, making the table its sole owner. Any file previously
// stored at dest is closed. A nil f clears the slot.
func (t *Table) Take(f *os.File, dest int) error {
	if dest < 0 {
		if f != nil {
			_ = f.Close()
		}
		return fmt.Errorf("%w: %d", ErrInvalidSlot, dest)
	}
	t.init()

	if prev, ok := t.slots[dest]; ok && prev != f {
		_ = prev.Close() // replaced occupant; nothing useful to report
	}

	if f == nil {
		delete(t.slots, dest)
		return nil
	}
	t.slots[dest] = f
	return nil
}

// Steal removes the file at dest and hands ownership to the caller.
// It returns nil when the slot is empty.
func (t *Table) Steal(dest int) *os.File {
	f, ok := t.slots[dest]
	if !ok {
		return nil
	}
	delete(t.slots, dest)
	return f
}

// Peek returns the file at dest without transferring ownership. The caller
// must not close it.
func (t *Table) Peek(dest int) *os.File {
	return t.slots[dest]
}

// Get returns an independent duplicate of the file at dest. The duplicate is
// owned by the caller and has close-on-exec set.
func (t *Table) Get(dest int) (*os.File, error) {
	f, ok := t.slots[dest]
	if !ok {
		return nil, fmt.Errorf("get slot %d: %w", dest, ErrSlotEmpty)
	}
	return dup(f)
}

// MergeSteal moves every live descriptor of other into t. If any slot is live
// in both tables nothing is moved and a *CollisionError is returned, leaving
// both tables exactly as they were.
func (t *Table) MergeSteal(other *Table) error {
	if other == nil || other == t || len(other.slots) == 0 {
		return nil
	}

	for _, dest := range other.Slots() {
		if _, ok := t.slots[dest]; ok {
			return &CollisionError{Slot: dest}
		}
	}

	t.init()
	for dest, f := range other.slots {
		t.slots[dest] = f
	}
	clear(other.slots)
	return nil
}

// MaxDestination returns the highest live slot, but never less than Stderr.
// Callers use it to size the number of descriptors beyond the standard three.
func (t *Table) MaxDestination() int {
	highest := Stderr
	for dest := range t.slots {
		highest = max(highest, dest)
	}
	return highest
}

// IsTTY reports whether the file at dest is a terminal.
func (t *Table) IsTTY(dest int) bool {
	f, ok := t.slots[dest]
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// OpenFile opens path with the given flags and stores it at dest.
func (t *Table) OpenFile(path string, flag, dest int) error {
	f, err := os.OpenFile(path, flag|unix.O_CLOEXEC, 0)
	if err != nil {
		return fmt.Errorf("open %s for slot %d: %w", path, dest, err)
	}
	return t.Take(f, dest)
}

// Silence stores a read-write handle on /dev/null at dest.
func (t *Table) Silence(dest int) error {
	return t.OpenFile(devNull, os.O_RDWR, dest)
}

// CreateStream creates a pipe whose child-facing ends land at destRead (the
// child reads from it) and destWrite (the child writes to it). The returned
// files are the parent's ends: the first is written to feed destRead and the
// second is read to drain destWrite.
func (t *Table) CreateStream(destRead, destWrite int) (toChild, fromChild *os.File, err error) {
	childIn, parentOut, err := os.Pipe()
	if err != nil {
		return nil, nil, fmt.Errorf("create input pipe: %w", err)
	}
	parentIn, childOut, err := os.Pipe()
	if err != nil {
		_ = childIn.Close()
		_ = parentOut.Close()
		return nil, nil, fmt.Errorf("create output pipe: %w", err)
	}

	if err := t.Take(childIn, destRead); err != nil {
		_ = parentOut.Close()
		_ = parentIn.Close()
		_ = childOut.Close()
		return nil, nil, err
	}
	if err := t.Take(childOut, destWrite); err != nil {
		_ = parentOut.Close()
		_ = parentIn.Close()
		return nil, nil, err
	}
	return parentOut, parentIn, nil
}

// Close closes every live descriptor and empties the table. It returns the
// first close error, if any. Calling Close more than once is safe.
func (t *Table) Close() error {
	var firstErr error
	for dest, f := range t.slots {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close slot %d: %w", dest, err)
		}
	}
	clear(t.slots)
	return firstErr
}

// PeekStdin returns the file at slot 0 without transferring ownership.
func (t *Table) PeekStdin() *os.File { return t.Peek(Stdin) }

// PeekStdout returns the file at slot 1 without transferring ownership.
func (t *Table) PeekStdout() *os.File { return t.Peek(Stdout) }

// PeekStderr returns the file at slot 2 without transferring ownership.
func (t *Table) PeekStderr() *os.File { return t.Peek(Stderr) }

// StealStdin removes and returns the file at slot 0.
func (t *Table) StealStdin() *os.File { return t.Steal(Stdin) }

// StealStdout removes and returns the file at slot 1.
func (t *Table) StealStdout() *os.File { return t.Steal(Stdout) }

// StealStderr removes and returns the file at slot 2.
func (t *Table) StealStderr() *os.File { return t.Steal(Stderr) }

// StdinIsTTY reports whether slot 0 holds a terminal.
func (t *Table) StdinIsTTY() bool { return t.IsTTY(Stdin) }

// StdoutIsTTY reports whether slot 1 holds a terminal.
func (t *Table) StdoutIsTTY() bool { return t.IsTTY(Stdout) }

// StderrIsTTY reports whether slot 2 holds a terminal.
func (t *Table) StderrIsTTY() bool { return t.IsTTY(Stderr) }

// AnyStdioIsTTY reports whether any of the three standard slots is a terminal.
func (t *Table) AnyStdioIsTTY() bool {
	return t.StdinIsTTY() || t.StdoutIsTTY() || t.StderrIsTTY()
}

// Dup returns an independent, close-on-exec duplicate of f.
func Dup(f *os.File) (*os.File, error) {
	return dup(f)
}

func dup(f *os.File) (*os.File, error) {
	fd, err := unix.FcntlInt(f.Fd(), unix.F_DUPFD_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("duplicate %s: %w", f.Name(), err)
	}
	return os.NewFile(uintptr(fd), f.Name()), nil
}
