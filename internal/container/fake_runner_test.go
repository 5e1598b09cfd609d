// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type (
	fakeReply struct {
		out []byte
		err error
	}

	// fakeRunner replays canned replies keyed by the joined argv. The last
	// reply for a key repeats once the queue is drained.
	fakeRunner struct {
		mu      sync.Mutex
		replies map[string][]fakeReply
		calls   []string
	}
)

func newFakeRunner() *fakeRunner {
	return &fakeRunner{replies: make(map[string][]fakeReply)}
}

func (f *fakeRunner) on(cmdline string, out string, err error) *fakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[cmdline] = append(f.replies[cmdline], fakeReply{out: []byte(out), err: err})
	return f
}

func (f *fakeRunner) Output(_ context.Context, argv ...string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strings.Join(argv, " ")
	f.calls = append(f.calls, key)
	queue := f.replies[key]
	if len(queue) == 0 {
		return nil, fmt.Errorf("unexpected command %q", key)
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[key] = queue[1:]
	}
	return r.out, r.err
}

func (f *fakeRunner) count(cmdline string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == cmdline {
			n++
		}
	}
	return n
}
