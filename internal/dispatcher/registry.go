// Copyright 2020 Acnodal Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dispatcher

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/google/go-cmp/cmp"
)

// Registry shares dispatchers between users of the same identifier.
// It hands out one dispatcher per identifier and counts references to
// it; the underlying dispatcher is closed when the count drops to
// zero.
type Registry struct {
	factory DispatcherFactory

	mu      sync.Mutex
	entries map[string]*sharedDispatcher
}

// NewRegistry returns a Registry that creates dispatchers with
// factory.
func NewRegistry(factory DispatcherFactory) *Registry {
	return &Registry{
		factory: factory,
		entries: map[string]*sharedDispatcher{},
	}
}

// sharedDispatcher is what the Registry hands out. Closing it
// releases one reference.
type sharedDispatcher struct {
	Dispatcher
	registry *Registry
	id       string
	refs     int
}

func (s *sharedDispatcher) Close() error {
	return s.registry.Release(s)
}

// contextsEqual compares contexts by value, including unexported
// fields.
var contextsEqual = cmp.Exporter(func(reflect.Type) bool { return true })

// sameContext reports whether two contexts are the same pointer or
// compare equal field by field. cmp never considers func values
// equal, so a context holding a callback only matches itself.
func sameContext(a, b interface{}) bool {
	va, vb := reflect.ValueOf(a), reflect.ValueOf(b)
	if va.Kind() == reflect.Ptr && vb.IsValid() && va.Type() == vb.Type() && va.Pointer() == vb.Pointer() {
		return true
	}
	return cmp.Equal(a, b, contextsEqual)
}

// Acquire returns the dispatcher for id. If one is live and its
// context equals ctx, that same dispatcher is returned with its
// reference count incremented. If one is live with a different
// context, ErrRegistrationConflict is returned and nothing is
// created. Otherwise a new dispatcher is created.
func (r *Registry) Acquire(id string, ctx interface{}) (Dispatcher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[id]; ok {
		if !sameContext(entry.Context(), ctx) {
			return nil, fmt.Errorf("acquiring dispatcher %q: %w", id, ErrRegistrationConflict)
		}
		entry.refs++
		return entry, nil
	}

	d, err := r.factory.CreateDispatcher(id, ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring dispatcher %q: %w", id, err)
	}
	entry := &sharedDispatcher{Dispatcher: d, registry: r, id: id, refs: 1}
	r.entries[id] = entry
	shared.Inc()

	return entry, nil
}

// Release drops one reference to d, closing the underlying dispatcher
// when it was the last one.
func (r *Registry) Release(d Dispatcher) error {
	s, ok := d.(*sharedDispatcher)
	if !ok || s.registry != r {
		return fmt.Errorf("%w: dispatcher was not acquired from this registry", ErrInvalidArgument)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.entries[s.id] != s {
		return fmt.Errorf("%w: dispatcher %q has already been released", ErrInvalidArgument, s.id)
	}

	s.refs--
	if s.refs > 0 {
		return nil
	}

	delete(r.entries, s.id)
	shared.Dec()
	return s.Dispatcher.Close()
}

// References returns the reference count of the dispatcher for id.
func (r *Registry) References(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if entry, ok := r.entries[id]; ok {
		return entry.refs
	}
	return 0
}
