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
	"errors"
	"testing"

	ptu "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustercore.io/internal/group"
)

// fakeDispatcher counts how often it was closed.
type fakeDispatcher struct {
	ctx    interface{}
	closes int
}

func (d *fakeDispatcher) ExecuteOnMember(Command, group.Member) *Future {
	return resolved(nil, nil)
}

func (d *fakeDispatcher) ExecuteOnGroup(Command, ...group.Member) map[group.Member]*Future {
	return nil
}

func (d *fakeDispatcher) Context() interface{} {
	return d.ctx
}

func (d *fakeDispatcher) Close() error {
	d.closes++
	return nil
}

// countingFactory records every dispatcher it creates.
type countingFactory struct {
	created []*fakeDispatcher
	err     error
}

func (f *countingFactory) CreateDispatcher(id string, ctx interface{}) (Dispatcher, error) {
	if f.err != nil {
		return nil, f.err
	}
	d := &fakeDispatcher{ctx: ctx}
	f.created = append(f.created, d)
	return d, nil
}

type serviceContext struct {
	Name  string
	peers []string
}

func TestRegistrySharing(t *testing.T) {
	factory := &countingFactory{}
	r := NewRegistry(factory)

	d1, err := r.Acquire("svc", serviceContext{Name: "x", peers: []string{"a"}})
	require.NoError(t, err)
	d2, err := r.Acquire("svc", serviceContext{Name: "x", peers: []string{"a"}})
	require.NoError(t, err)

	assert.Same(t, d1, d2, "equal contexts must share one dispatcher")
	assert.Len(t, factory.created, 1)
	assert.Equal(t, 2, r.References("svc"))

	_, err = r.Acquire("svc", serviceContext{Name: "x", peers: []string{"b"}})
	assert.ErrorIs(t, err, ErrRegistrationConflict)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Len(t, factory.created, 1, "a conflict must not create a dispatcher")
	assert.Equal(t, 2, r.References("svc"))

	other, err := r.Acquire("other", serviceContext{Name: "y"})
	require.NoError(t, err)
	assert.NotSame(t, d1, other)
	assert.Len(t, factory.created, 2)
}

type callbackContext struct {
	name     string
	callback func()
}

func TestRegistrySharingSamePointer(t *testing.T) {
	factory := &countingFactory{}
	r := NewRegistry(factory)

	ctx := &callbackContext{name: "x", callback: func() {}}
	d1, err := r.Acquire("svc", ctx)
	require.NoError(t, err)
	d2, err := r.Acquire("svc", ctx)
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	assert.Len(t, factory.created, 1)
	assert.Equal(t, 2, r.References("svc"))

	_, err = r.Acquire("svc", &callbackContext{name: "x", callback: ctx.callback})
	assert.ErrorIs(t, err, ErrRegistrationConflict, "a different context holding a func never matches")
	_, err = r.Acquire("svc", nil)
	assert.ErrorIs(t, err, ErrRegistrationConflict)
}

func TestRegistryReferenceCounting(t *testing.T) {
	factory := &countingFactory{}
	r := NewRegistry(factory)
	before := ptu.ToFloat64(shared)

	d1, err := r.Acquire("svc", "ctx")
	require.NoError(t, err)
	d2, err := r.Acquire("svc", "ctx")
	require.NoError(t, err)
	underlying := factory.created[0]
	assert.Equal(t, before+1, ptu.ToFloat64(shared))

	require.NoError(t, r.Release(d1))
	assert.Equal(t, 0, underlying.closes, "one holder remains")
	assert.Equal(t, 1, r.References("svc"))

	// closing a shared dispatcher releases it
	require.NoError(t, d2.Close())
	assert.Equal(t, 1, underlying.closes)
	assert.Equal(t, 0, r.References("svc"))
	assert.Equal(t, before, ptu.ToFloat64(shared))

	assert.ErrorIs(t, r.Release(d2), ErrInvalidArgument, "double release")
	assert.Equal(t, 1, underlying.closes)

	// the identifier is free for a new context
	d3, err := r.Acquire("svc", "new context")
	require.NoError(t, err)
	assert.Equal(t, "new context", d3.Context())
	assert.Len(t, factory.created, 2)
}

func TestRegistryReleaseForeign(t *testing.T) {
	r := NewRegistry(&countingFactory{})
	other := NewRegistry(&countingFactory{})

	d, err := other.Acquire("svc", "ctx")
	require.NoError(t, err)

	assert.ErrorIs(t, r.Release(d), ErrInvalidArgument)
	assert.ErrorIs(t, r.Release(&fakeDispatcher{}), ErrInvalidArgument)
	assert.Equal(t, 1, other.References("svc"))
}

func TestRegistryFactoryError(t *testing.T) {
	boom := errors.New("boom")
	r := NewRegistry(&countingFactory{err: boom})

	_, err := r.Acquire("svc", "ctx")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, r.References("svc"))
}

func TestRegistryOverFactory(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	ra := NewRegistry(c.nodes["a"].factory)
	rb := NewRegistry(c.nodes["b"].factory)

	da, err := ra.Acquire("svc", "a")
	require.NoError(t, err)
	db, err := rb.Acquire("svc", "b")
	require.NoError(t, err)

	v, err := waitFor(t, da.ExecuteOnMember(whoami, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	require.NoError(t, db.Close())
	_, err = waitFor(t, da.ExecuteOnMember(whoami, "b"))
	assert.ErrorIs(t, err, ErrNoSuchService)
}
