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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustercore.io/internal/group"
)

// greetCommand runs against a string context.
type greetCommand struct {
	Name string
}

func (c greetCommand) Execute(ctx interface{}) (interface{}, error) {
	if c.Name == "" {
		return nil, errors.New("no name")
	}
	return fmt.Sprintf("%s greets %s", ctx, c.Name), nil
}

type memberlistNode struct {
	group     *group.Memberlist
	transport *MemberlistTransport
	factory   *Factory
}

func newMemberlistNode(t *testing.T, name string, table *CommandTable) *memberlistNode {
	t.Helper()

	transport := NewMemberlistTransport(table, dispatcherTestLogger)
	g, err := group.NewMemberlist(group.Config{
		NodeName: name,
		BindAddr: "127.0.0.1",
		Delegate: transport,
		Logger:   dispatcherTestLogger,
	})
	require.NoError(t, err)
	transport.Attach(g.List())
	t.Cleanup(func() { g.Shutdown() })

	return &memberlistNode{group: g, transport: transport, factory: NewFactory(g, transport, dispatcherTestLogger)}
}

func TestMemberlistTransport(t *testing.T) {
	if testing.Short() {
		t.Skip("starts two memberlists")
	}

	table := NewCommandTable()
	table.MustRegister("test.greet", greetCommand{})

	a := newMemberlistNode(t, "node-a", table)
	b := newMemberlistNode(t, "node-b", table)

	local := b.group.List().LocalNode()
	_, err := a.group.Join([]string{fmt.Sprintf("%s:%d", local.Addr, local.Port)})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return a.group.Current().Contains("node-b") && b.group.Current().Contains("node-a")
	}, 10*time.Second, 50*time.Millisecond)

	da, err := a.factory.CreateDispatcher("greeter", "node-a")
	require.NoError(t, err)
	_, err = b.factory.CreateDispatcher("greeter", "node-b")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	greeting, err := Await[string](ctx, da.ExecuteOnMember(greetCommand{Name: "a"}, "node-b"))
	require.NoError(t, err)
	assert.Equal(t, "node-b greets a", greeting)

	_, err = da.ExecuteOnMember(greetCommand{}, "node-b").Get(ctx)
	var ce *CommandError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.Equal(t, "no name", ce.Err.Error())

	_, err = a.factory.CreateDispatcher("other", "node-a")
	require.NoError(t, err)
	other, _ := a.factory.lookup("other")
	_, err = other.ExecuteOnMember(greetCommand{Name: "a"}, "node-b").Get(ctx)
	assert.ErrorIs(t, err, ErrNoSuchService)
}
