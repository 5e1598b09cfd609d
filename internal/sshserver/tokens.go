// SPDX-License-Identifier: MPL-2.0

package sshserver

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invowk/termlaunch/internal/config"
)

type (
	// Clock supplies the current time for token expiry.
	Clock interface {
		Now() time.Time
	}

	realClock struct{}

	// Grant is what a token authorizes: the profile and target of the
	// session, and the command to run when the client sends none.
	Grant struct {
		Profile   config.Profile
		Container string
		Argv      []string
	}

	// Token is a one-time credential for a Grant.
	Token struct {
		Value     TokenValue
		Grant     Grant
		CreatedAt time.Time
		ExpiresAt time.Time
	}

	tokenStore struct {
		clock Clock
		ttl   time.Duration

		mu     sync.Mutex
		tokens map[TokenValue]*Token
	}
)

func (realClock) Now() time.Time { return time.Now() }

func newTokenStore(clock Clock, ttl time.Duration) *tokenStore {
	return &tokenStore{
		clock:  clock,
		ttl:    ttl,
		tokens: make(map[TokenValue]*Token),
	}
}

func (ts *tokenStore) issue(g Grant) *Token {
	now := ts.clock.Now()
	g.Argv = slices.Clone(g.Argv)
	tok := &Token{
		Value:     TokenValue(uuid.NewString()),
		Grant:     g,
		CreatedAt: now,
		ExpiresAt: now.Add(ts.ttl),
	}
	ts.mu.Lock()
	ts.tokens[tok.Value] = tok
	ts.mu.Unlock()
	return tok
}

// redeem consumes v. A token is accepted once, and only before it expires.
func (ts *tokenStore) redeem(v TokenValue) (*Token, bool) {
	if v.Validate() != nil {
		return nil, false
	}
	ts.mu.Lock()
	defer ts.mu.Unlock()
	tok, ok := ts.tokens[v]
	if !ok {
		return nil, false
	}
	delete(ts.tokens, v)
	if ts.clock.Now().After(tok.ExpiresAt) {
		return nil, false
	}
	return tok, true
}

func (ts *tokenStore) revoke(v TokenValue) bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	_, ok := ts.tokens[v]
	delete(ts.tokens, v)
	return ok
}

// sweep drops expired tokens and returns how many were removed.
func (ts *tokenStore) sweep() int {
	now := ts.clock.Now()
	ts.mu.Lock()
	defer ts.mu.Unlock()
	n := 0
	for v, tok := range ts.tokens {
		if now.After(tok.ExpiresAt) {
			delete(ts.tokens, v)
			n++
		}
	}
	return n
}

func (ts *tokenStore) count() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return len(ts.tokens)
}
