// SPDX-License-Identifier: MPL-2.0

package container

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/charmbracelet/log"
)

type (
	// Provider lists the containers of one engine.
	Provider interface {
		Name() string
		// Update reloads the list from the engine.
		Update(ctx context.Context) error
		// Containers returns the last loaded list, sorted by display name.
		Containers() []Container
	}

	// Watcher is implemented by providers that notice engine changes on
	// their own.
	Watcher interface {
		// Watch calls reload whenever the engine's list may have changed,
		// until ctx is cancelled.
		Watch(ctx context.Context, reload func(context.Context) error) error
	}

	// Registry combines the host session with every provider's containers.
	Registry struct {
		session   Container
		providers []Provider
		logger    *log.Logger
		observe   func(provider string, count int, err error)

		mu    sync.RWMutex
		byID  map[string]Container
		order []Container
	}
)

// NewRegistry creates a registry. session is always listed first.
func NewRegistry(session Container, providers ...Provider) *Registry {
	r := &Registry{
		session:   session,
		providers: providers,
		logger:    log.Default().WithPrefix("container"),
	}
	r.rebuild()
	return r
}

// OnUpdate registers fn to be called after each provider update with the
// provider's name, its container count and the update error.
func (r *Registry) OnUpdate(fn func(provider string, count int, err error)) {
	r.mu.Lock()
	r.observe = fn
	r.mu.Unlock()
}

// Refresh updates every provider. A provider that fails keeps its previous
// list; the failures are joined into the returned error.
func (r *Registry) Refresh(ctx context.Context) error {
	var errs []error
	for _, p := range r.providers {
		if err := r.update(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	r.rebuild()
	return errors.Join(errs...)
}

// Watch follows every provider that implements Watcher and rebuilds the
// index after each change it reports. It blocks until ctx is cancelled or
// every watch has stopped. Providers without a watcher are left alone.
func (r *Registry) Watch(ctx context.Context) error {
	var (
		wg   sync.WaitGroup
		errs = make([]error, len(r.providers))
	)
	for i, p := range r.providers {
		w, ok := p.(Watcher)
		if !ok {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Watch(ctx, func(ctx context.Context) error {
				err := r.update(ctx, p)
				r.rebuild()
				return err
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				errs[i] = fmt.Errorf("watch %s containers: %w", p.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// update reloads one provider and reports the outcome to the OnUpdate hook.
func (r *Registry) update(ctx context.Context, p Provider) error {
	r.mu.RLock()
	observe := r.observe
	r.mu.RUnlock()

	err := p.Update(ctx)
	if err != nil {
		r.logger.Warn("provider update failed", "provider", p.Name(), "error", err)
	}
	if observe != nil {
		observe(p.Name(), len(p.Containers()), err)
	}
	return err
}

// rebuild recomputes the cached index from the providers' current lists.
func (r *Registry) rebuild() {
	byID := make(map[string]Container)
	var order []Container
	if r.session != nil {
		byID[r.session.ID()] = r.session
	}
	for _, p := range r.providers {
		for _, c := range p.Containers() {
			if _, dup := byID[c.ID()]; dup {
				continue
			}
			byID[c.ID()] = c
			order = append(order, c)
		}
	}
	slices.SortStableFunc(order, func(a, b Container) int {
		return cmp.Compare(a.DisplayName(), b.DisplayName())
	})
	if r.session != nil {
		order = slices.Insert(order, 0, r.session)
	}

	r.mu.Lock()
	r.byID = byID
	r.order = order
	r.mu.Unlock()
}

// List returns the session followed by every container sorted by display
// name.
func (r *Registry) List() []Container {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Lookup returns the container with the given id. An empty id resolves to
// the session.
func (r *Registry) Lookup(id string) (Container, error) {
	if id == "" {
		id = SessionID
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if c, ok := r.byID[id]; ok {
		return c, nil
	}
	return nil, &NotFoundError{ID: id}
}
