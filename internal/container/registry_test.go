// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"testing"

	"github.com/invowk/termlaunch/internal/runctx"
)

type (
	stubContainer struct {
		id, name string
	}

	stubProvider struct {
		name       string
		containers []Container
		err        error
		updates    int
	}
)

func (c *stubContainer) ID() string          { return c.id }
func (c *stubContainer) Kind() Kind          { return KindPodman }
func (c *stubContainer) Provider() string    { return "stub" }
func (c *stubContainer) DisplayName() string { return c.name }
func (c *stubContainer) Prepare(context.Context, *runctx.Context) error {
	return nil
}

func (p *stubProvider) Name() string            { return p.name }
func (p *stubProvider) Containers() []Container { return p.containers }
func (p *stubProvider) Update(context.Context) error {
	p.updates++
	return p.err
}

func TestRegistryListAndLookup(t *testing.T) {
	t.Parallel()

	session := &Session{}
	a := &stubProvider{name: "a", containers: []Container{
		&stubContainer{id: "2", name: "zulu"},
		&stubContainer{id: "1", name: "alpha"},
	}}
	b := &stubProvider{name: "b", containers: []Container{
		&stubContainer{id: "3", name: "mike"},
		&stubContainer{id: "1", name: "shadowed"},
	}}
	r := NewRegistry(session, a, b)

	var names []string
	for _, c := range r.List() {
		names = append(names, c.DisplayName())
	}
	assertArgv(t, names, []string{"My Computer", "alpha", "mike", "zulu"})

	c, err := r.Lookup("3")
	if err != nil || c.DisplayName() != "mike" {
		t.Errorf("Lookup(3) = %v, %v", c, err)
	}
	c, err = r.Lookup("")
	if err != nil || c.ID() != SessionID {
		t.Errorf("Lookup(\"\") = %v, %v; want session", c, err)
	}

	_, err = r.Lookup("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup(missing) error = %v, want ErrNotFound", err)
	}
}

func TestRegistryRefresh(t *testing.T) {
	t.Parallel()

	boom := errors.New("engine down")
	ok := &stubProvider{name: "ok"}
	broken := &stubProvider{name: "broken", err: boom}
	r := NewRegistry(&Session{}, ok, broken)

	ok.containers = []Container{&stubContainer{id: "n", name: "new"}}
	err := r.Refresh(t.Context())
	if !errors.Is(err, boom) {
		t.Fatalf("Refresh() error = %v, want %v", err, boom)
	}
	if ok.updates != 1 || broken.updates != 1 {
		t.Errorf("updates = %d/%d, want 1/1", ok.updates, broken.updates)
	}
	if _, err := r.Lookup("n"); err != nil {
		t.Errorf("Lookup(n) after Refresh error = %v", err)
	}
}

func TestRegistryOnUpdate(t *testing.T) {
	t.Parallel()

	boom := errors.New("engine down")
	ok := &stubProvider{name: "ok", containers: []Container{
		&stubContainer{id: "1", name: "one"},
		&stubContainer{id: "2", name: "two"},
	}}
	broken := &stubProvider{name: "broken", err: boom}
	r := NewRegistry(&Session{}, ok, broken)

	type update struct {
		provider string
		count    int
		failed   bool
	}
	var got []update
	r.OnUpdate(func(provider string, count int, err error) {
		got = append(got, update{provider, count, err != nil})
	})
	_ = r.Refresh(t.Context())

	want := []update{{"ok", 2, false}, {"broken", 0, true}}
	if len(got) != len(want) {
		t.Fatalf("observed %d updates, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("update[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
