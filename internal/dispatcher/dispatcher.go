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
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"clustercore.io/internal/group"
)

// Dispatcher runs commands on members of the group.
type Dispatcher interface {
	// ExecuteOnMember sends cmd to member. If member isn't in the
	// current view the returned future is already resolved with a
	// cancellation. Commands for the local member take the same
	// asynchronous path as remote ones.
	ExecuteOnMember(cmd Command, member group.Member) *Future

	// ExecuteOnGroup sends cmd to every member of the current view
	// except excluded. Each future resolves independently.
	ExecuteOnGroup(cmd Command, excluded ...group.Member) map[group.Member]*Future

	// Context returns the context this dispatcher was created with.
	Context() interface{}

	// Close releases the dispatcher. Outstanding futures resolve with
	// a cancellation. Close is idempotent.
	Close() error
}

// DispatcherFactory creates dispatchers.
type DispatcherFactory interface {
	CreateDispatcher(id string, ctx interface{}) (Dispatcher, error)
}

// Factory creates dispatchers over a Transport and routes inbound
// commands to the local dispatcher with the matching identifier.
type Factory struct {
	group     group.Group
	transport Transport
	logger    log.Logger
	reg       group.Registration

	mu       sync.RWMutex
	services map[string]*commandDispatcher
}

// NewFactory returns a Factory that sends commands through t. It
// installs itself as t's handler and listens to g so that commands
// outstanding on departed members get cancelled.
func NewFactory(g group.Group, t Transport, l log.Logger) *Factory {
	f := &Factory{
		group:     g,
		transport: t,
		logger:    l,
		services:  map[string]*commandDispatcher{},
	}
	t.SetHandler(f.handle)
	f.reg = g.AddListener(f.viewChanged)
	return f
}

// CreateDispatcher returns a new dispatcher. Only one dispatcher per
// identifier can be live in a factory at a time; use a Registry to
// share one.
func (f *Factory) CreateDispatcher(id string, ctx interface{}) (Dispatcher, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, exists := f.services[id]; exists {
		return nil, fmt.Errorf("%w: dispatcher %q already exists", ErrInvalidArgument, id)
	}

	d := &commandDispatcher{
		id:      id,
		ctx:     ctx,
		factory: f,
		pending: map[group.Member]map[*Future]context.CancelFunc{},
	}
	f.services[id] = d
	level.Debug(f.logger).Log("op", "createDispatcher", "service", id)

	return d, nil
}

// Close stops listening to the group.
func (f *Factory) Close() error {
	f.reg.Close()
	return nil
}

func (f *Factory) lookup(id string) (*commandDispatcher, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	d, ok := f.services[id]
	return d, ok
}

func (f *Factory) remove(d *commandDispatcher) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.services[d.id] == d {
		delete(f.services, d.id)
	}
}

// handle runs an inbound command. A panicking command is reported to
// the caller as a failed command.
func (f *Factory) handle(service string, cmd Command) (result interface{}, err error) {
	d, ok := f.lookup(service)
	if !ok {
		return nil, ErrNoSuchService
	}

	local := f.group.Local()
	defer func() {
		if r := recover(); r != nil {
			level.Error(f.logger).Log("op", "execute", "service", service, "command", fmt.Sprintf("%T", cmd), "error", r)
			result = nil
			err = &CommandError{Member: local, Err: fmt.Errorf("command panicked: %v", r)}
		}
	}()

	result, err = cmd.Execute(d.ctx)
	if err != nil {
		var ce *CommandError
		if !errors.As(err, &ce) {
			err = &CommandError{Member: local, Err: err}
		}
	}
	return result, err
}

func (f *Factory) viewChanged(previous, current group.View) {
	gone := group.Removed(previous, current)
	if len(gone) == 0 {
		return
	}

	f.mu.RLock()
	dispatchers := make([]*commandDispatcher, 0, len(f.services))
	for _, d := range f.services {
		dispatchers = append(dispatchers, d)
	}
	f.mu.RUnlock()

	for _, d := range dispatchers {
		for _, m := range gone {
			if n := d.cancelMember(m); n > 0 {
				level.Info(f.logger).Log("op", "viewChange", "service", d.id, "member", m, "cancelled", n, "msg", "member left with commands outstanding")
			}
		}
	}
}

type commandDispatcher struct {
	id      string
	ctx     interface{}
	factory *Factory

	mu      sync.Mutex
	closed  bool
	pending map[group.Member]map[*Future]context.CancelFunc
}

func (d *commandDispatcher) Context() interface{} {
	return d.ctx
}

func (d *commandDispatcher) ExecuteOnMember(cmd Command, member group.Member) *Future {
	if !d.factory.group.Current().Contains(member) {
		recordOutcome(outcomeCancelled)
		return resolved(nil, cancelled(member))
	}

	f := newFuture()
	ctx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		cancel()
		recordOutcome(outcomeCancelled)
		return resolved(nil, cancelled(member))
	}
	if d.pending[member] == nil {
		d.pending[member] = map[*Future]context.CancelFunc{}
	}
	d.pending[member][f] = cancel
	d.mu.Unlock()

	// The member may have left between the view check and the
	// registration above, in which case the view listener has already
	// run and missed this future.
	if !d.factory.group.Current().Contains(member) {
		d.resolve(member, f, nil, cancelled(member))
		return f
	}

	inflight.Inc()
	go func() {
		defer inflight.Dec()
		v, err := d.factory.transport.Invoke(ctx, member, d.id, cmd)
		d.resolve(member, f, v, err)
	}()

	return f
}

func (d *commandDispatcher) ExecuteOnGroup(cmd Command, excluded ...group.Member) map[group.Member]*Future {
	skip := map[group.Member]bool{}
	for _, m := range excluded {
		skip[m] = true
	}

	futures := map[group.Member]*Future{}
	for _, m := range d.factory.group.Current().Members {
		if skip[m] {
			continue
		}
		futures[m] = d.ExecuteOnMember(cmd, m)
	}
	return futures
}

func (d *commandDispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	pending := d.pending
	d.pending = map[group.Member]map[*Future]context.CancelFunc{}
	d.mu.Unlock()

	d.factory.remove(d)

	for m, futures := range pending {
		for f, cancel := range futures {
			if f.complete(nil, cancelled(m)) {
				recordOutcome(outcomeCancelled)
			}
			cancel()
		}
	}
	level.Debug(d.factory.logger).Log("op", "closeDispatcher", "service", d.id)

	return nil
}

// resolve completes f and forgets about it.
func (d *commandDispatcher) resolve(m group.Member, f *Future, v interface{}, err error) {
	d.mu.Lock()
	cancel, ok := d.pending[m][f]
	if ok {
		delete(d.pending[m], f)
		if len(d.pending[m]) == 0 {
			delete(d.pending, m)
		}
	}
	d.mu.Unlock()

	if ok {
		cancel()
	}
	if f.complete(v, err) {
		recordOutcome(outcomeOf(err))
	}
}

// cancelMember resolves everything outstanding on m with a
// cancellation and returns how many futures that was.
func (d *commandDispatcher) cancelMember(m group.Member) int {
	d.mu.Lock()
	futures := d.pending[m]
	delete(d.pending, m)
	d.mu.Unlock()

	n := 0
	for f, cancel := range futures {
		if f.complete(nil, cancelled(m)) {
			recordOutcome(outcomeCancelled)
			n++
		}
		cancel()
	}
	return n
}
