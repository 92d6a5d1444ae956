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
	"testing"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustercore.io/internal/group"
)

var dispatcherTestLogger = log.NewNopLogger()

// testNode is one member of an in-process cluster.
type testNode struct {
	group   *group.Static
	factory *Factory
}

type testCluster struct {
	network *LoopbackNetwork
	nodes   map[group.Member]*testNode
}

func newTestCluster(t *testing.T, members ...group.Member) *testCluster {
	t.Helper()

	c := &testCluster{network: NewLoopbackNetwork(), nodes: map[group.Member]*testNode{}}
	for _, m := range members {
		g := group.NewStatic(m, members...)
		c.nodes[m] = &testNode{
			group:   g,
			factory: NewFactory(g, c.network.Transport(m), dispatcherTestLogger),
		}
	}
	return c
}

// setView publishes the same view on every node.
func (c *testCluster) setView(members ...group.Member) {
	for _, n := range c.nodes {
		n.group.SetMembers(members...)
	}
}

func (c *testCluster) dispatcher(t *testing.T, m group.Member, id string, ctx interface{}) Dispatcher {
	t.Helper()
	d, err := c.nodes[m].factory.CreateDispatcher(id, ctx)
	require.NoError(t, err)
	return d
}

func waitFor(t *testing.T, f *Future) (interface{}, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := f.Get(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future never resolved")
	return v, err
}

// whoami returns the dispatcher context, which the tests set to the
// member name.
var whoami = CommandFunc[string, string](func(ctx string) (string, error) {
	return ctx, nil
})

func TestExecuteOnMember(t *testing.T) {
	c := newTestCluster(t, "a", "b", "c")
	da := c.dispatcher(t, "a", "svc", "ctx-a")
	c.dispatcher(t, "b", "svc", "ctx-b")

	v, err := waitFor(t, da.ExecuteOnMember(whoami, "b"))
	require.NoError(t, err)
	assert.Equal(t, "ctx-b", v, "the command must run against the receiver's context")

	v, err = waitFor(t, da.ExecuteOnMember(whoami, "a"))
	require.NoError(t, err)
	assert.Equal(t, "ctx-a", v, "local commands run too")

	assert.Equal(t, "ctx-a", da.Context())
}

func TestExecuteOnMemberNotInView(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	da := c.dispatcher(t, "a", "svc", "ctx-a")

	f := da.ExecuteOnMember(whoami, "z")
	select {
	case <-f.Done():
	default:
		t.Fatal("a command for a non-member must resolve immediately")
	}

	_, err := waitFor(t, f)
	require.Error(t, err)
	assert.True(t, IsDeliveryError(err))
	assert.True(t, IsCancelled(err))
	assert.ErrorIs(t, err, ErrCancelled)

	var ce *CommandError
	assert.False(t, errors.As(err, &ce), "not in view is not a command failure")
}

func TestExecuteOnMemberNoSuchService(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	da := c.dispatcher(t, "a", "svc", "ctx-a")

	_, err := waitFor(t, da.ExecuteOnMember(whoami, "b"))
	assert.True(t, IsDeliveryError(err))
	assert.ErrorIs(t, err, ErrNoSuchService)
	assert.False(t, IsCancelled(err))
}

func TestExecuteOnMemberCommandError(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	da := c.dispatcher(t, "a", "svc", "ctx-a")
	c.dispatcher(t, "b", "svc", "ctx-b")

	boom := errors.New("boom")
	fail := CommandFunc[string, string](func(string) (string, error) { return "", boom })

	_, err := waitFor(t, da.ExecuteOnMember(fail, "b"))
	require.Error(t, err)
	assert.False(t, IsDeliveryError(err))
	assert.ErrorIs(t, err, boom)

	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, group.Member("b"), ce.Member)
}

func TestExecuteOnMemberPanic(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	da := c.dispatcher(t, "a", "svc", "ctx-a")
	c.dispatcher(t, "b", "svc", "ctx-b")

	explode := CommandFunc[string, string](func(string) (string, error) { panic("kaboom") })

	_, err := waitFor(t, da.ExecuteOnMember(explode, "b"))
	var ce *CommandError
	require.True(t, errors.As(err, &ce))
	assert.Contains(t, err.Error(), "kaboom")
}

func TestExecuteOnMemberWrongContextType(t *testing.T) {
	c := newTestCluster(t, "a")
	da := c.dispatcher(t, "a", "svc", 42)

	_, err := waitFor(t, da.ExecuteOnMember(whoami, "a"))
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.False(t, IsDeliveryError(err))
}

func TestExecuteOnMemberUnreachable(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	da := c.dispatcher(t, "a", "svc", "ctx-a")
	c.dispatcher(t, "b", "svc", "ctx-b")

	c.network.Partition("b", true)
	_, err := waitFor(t, da.ExecuteOnMember(whoami, "b"))
	assert.True(t, IsDeliveryError(err))
	assert.ErrorIs(t, err, ErrUnreachable)

	c.network.Partition("b", false)
	v, err := waitFor(t, da.ExecuteOnMember(whoami, "b"))
	require.NoError(t, err)
	assert.Equal(t, "ctx-b", v)
}

func TestExecuteOnGroup(t *testing.T) {
	c := newTestCluster(t, "a", "b", "c", "d")
	da := c.dispatcher(t, "a", "svc", "a")
	c.dispatcher(t, "b", "svc", "b")
	c.dispatcher(t, "c", "svc", "c")
	// d has no dispatcher: its failure must not affect the others

	failOnC := CommandFunc[string, string](func(ctx string) (string, error) {
		if ctx == "c" {
			return "", errors.New("c fails")
		}
		return ctx, nil
	})

	futures := da.ExecuteOnGroup(failOnC, "b")
	require.Len(t, futures, 3)
	assert.NotContains(t, futures, group.Member("b"))

	v, err := waitFor(t, futures["a"])
	assert.NoError(t, err)
	assert.Equal(t, "a", v)

	_, err = waitFor(t, futures["c"])
	assert.Error(t, err)
	assert.False(t, IsDeliveryError(err))

	_, err = waitFor(t, futures["d"])
	assert.ErrorIs(t, err, ErrNoSuchService)
}

func TestMemberLeavesWithCommandOutstanding(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	da := c.dispatcher(t, "a", "svc", "a")

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	c.dispatcher(t, "b", "svc", "b")
	block := CommandFunc[string, string](func(string) (string, error) {
		close(started)
		<-release
		return "late", nil
	})

	f := da.ExecuteOnMember(block, "b")
	<-started

	c.nodes["a"].group.SetMembers("a")

	_, err := waitFor(t, f)
	assert.True(t, IsCancelled(err), "a departed member's command must resolve as cancelled, got %v", err)
}

func TestCloseCancelsOutstanding(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	da := c.dispatcher(t, "a", "svc", "a")

	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	c.dispatcher(t, "b", "svc", "b")
	block := CommandFunc[string, string](func(string) (string, error) {
		close(started)
		<-release
		return "late", nil
	})

	f := da.ExecuteOnMember(block, "b")
	<-started

	require.NoError(t, da.Close())
	_, err := waitFor(t, f)
	assert.True(t, IsCancelled(err))

	// idempotent, and the closed dispatcher refuses new work
	assert.NoError(t, da.Close())
	_, err = waitFor(t, da.ExecuteOnMember(whoami, "b"))
	assert.True(t, IsCancelled(err))

	// the identifier is free again
	_, err = c.nodes["a"].factory.CreateDispatcher("svc", "again")
	assert.NoError(t, err)
}

func TestCreateDispatcherTwice(t *testing.T) {
	c := newTestCluster(t, "a")
	c.dispatcher(t, "a", "svc", "a")

	_, err := c.nodes["a"].factory.CreateDispatcher("svc", "a")
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestFactoryClose(t *testing.T) {
	c := newTestCluster(t, "a", "b")
	da := c.dispatcher(t, "a", "svc", "a")
	require.NoError(t, c.nodes["a"].factory.Close())

	// commands still work, but the factory no longer watches the view
	c.dispatcher(t, "b", "svc", "b")
	v, err := waitFor(t, da.ExecuteOnMember(whoami, "b"))
	require.NoError(t, err)
	assert.Equal(t, "b", v)
}
