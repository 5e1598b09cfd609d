// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

const (
	// StateCreated means Start has not been called.
	StateCreated State = iota
	// StateStarting means Start is binding the listener.
	StateStarting
	// StateRunning means the server accepts connections.
	StateRunning
	// StateStopping means Stop is draining sessions.
	StateStopping
	// StateStopped is terminal.
	StateStopped
	// StateFailed is terminal. LastError holds the cause.
	StateFailed
)

type (
	// State is a point in the server lifecycle. A server moves forward only;
	// a stopped or failed server cannot be restarted.
	State int32

	// lifecycle tracks state transitions and the goroutines started on behalf
	// of the server.
	lifecycle struct {
		state atomic.Int32

		errMu   sync.Mutex
		lastErr error

		ctx       context.Context
		cancel    context.CancelFunc
		wg        sync.WaitGroup
		startedCh chan struct{}
		errCh     chan error
	}
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// IsTerminal reports whether s is Stopped or Failed.
func (s State) IsTerminal() bool {
	return s == StateStopped || s == StateFailed
}

func newLifecycle() *lifecycle {
	lc := &lifecycle{
		startedCh: make(chan struct{}),
		errCh:     make(chan error, 1),
	}
	lc.state.Store(int32(StateCreated))
	return lc
}

func (lc *lifecycle) current() State {
	return State(lc.state.Load())
}

// begin moves Created to Starting. A cancelled ctx fails the server before
// anything is bound.
func (lc *lifecycle) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		lc.fail(fmt.Errorf("context cancelled before start: %w", err))
		return lc.lastError()
	}
	if !lc.state.CompareAndSwap(int32(StateCreated), int32(StateStarting)) {
		return fmt.Errorf("cannot start server in state %s", lc.current())
	}
	lc.ctx, lc.cancel = context.WithCancel(context.Background())
	return nil
}

func (lc *lifecycle) running() {
	if lc.state.CompareAndSwap(int32(StateStarting), int32(StateRunning)) {
		close(lc.startedCh)
	}
}

func (lc *lifecycle) fail(err error) {
	lc.errMu.Lock()
	lc.lastErr = err
	lc.errMu.Unlock()

	lc.state.Store(int32(StateFailed))
	if lc.cancel != nil {
		lc.cancel()
	}
	lc.report(err)
}

// stopping moves a started server to Stopping and reports whether the
// caller owns the shutdown.
func (lc *lifecycle) stopping() bool {
	for {
		st := lc.current()
		switch st {
		case StateCreated:
			if lc.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
				return false
			}
		case StateStarting, StateRunning:
			if lc.state.CompareAndSwap(int32(st), int32(StateStopping)) {
				if lc.cancel != nil {
					lc.cancel()
				}
				return true
			}
		default:
			return false
		}
	}
}

func (lc *lifecycle) stopped() {
	lc.state.Store(int32(StateStopped))
	close(lc.errCh)
}

// report sends err without blocking; a full channel drops it.
func (lc *lifecycle) report(err error) {
	select {
	case lc.errCh <- err:
	default:
	}
}

func (lc *lifecycle) lastError() error {
	lc.errMu.Lock()
	defer lc.errMu.Unlock()
	return lc.lastErr
}

// goroutine runs fn tracked by the wait group.
func (lc *lifecycle) goroutine(fn func()) {
	lc.wg.Add(1)
	go func() {
		defer lc.wg.Done()
		fn()
	}()
}
