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

package singleton

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clustercore.io/internal/dispatcher"
	"clustercore.io/internal/group"
)

func TestServiceContextIdempotent(t *testing.T) {
	svc := &testService{}
	sc := &serviceContext{id: "svc", local: "a", svc: svc}

	_, err := StartCommand{}.Execute(sc)
	require.NoError(t, err)
	_, err = StartCommand{}.Execute(sc)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.starts, "a second start is a no-op")

	running, err := PrimaryProviderCommand{}.Execute(sc)
	require.NoError(t, err)
	assert.Equal(t, true, running)

	_, err = StopCommand{}.Execute(sc)
	require.NoError(t, err)
	_, err = StopCommand{}.Execute(sc)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.stops, "a second stop is a no-op")

	require.NoError(t, sc.close())
	_, err = StartCommand{}.Execute(sc)
	assert.ErrorIs(t, err, errClosed)
	assert.False(t, svc.Running())
}

func TestValueCommand(t *testing.T) {
	sc := &serviceContext{id: "v", local: "a", svc: &valueService{supplier: func() (interface{}, error) {
		return 42, nil
	}}}

	_, err := SingletonValueCommand{}.Execute(sc)
	assert.ErrorIs(t, err, ErrNotPrimary)

	require.NoError(t, sc.start())
	v, err := SingletonValueCommand{}.Execute(sc)
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	require.NoError(t, sc.stop())
	_, err = SingletonValueCommand{}.Execute(sc)
	assert.ErrorIs(t, err, ErrNotPrimary)
}

func TestElectionCommand(t *testing.T) {
	var got []group.Member
	calls := 0
	sc := &serviceContext{id: "svc", local: "a", svc: &testService{}, elect: func(exclude ...group.Member) {
		calls++
		got = exclude
	}}

	_, err := ElectionCommand{}.Execute(sc)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, got)

	_, err = ElectionCommand{Leaving: "b"}.Execute(sc)
	require.NoError(t, err)
	assert.Equal(t, members("b"), got)
}

func TestCommandsNeedSingletonContext(t *testing.T) {
	commands := []dispatcher.Command{
		StartCommand{}, StopCommand{}, PrimaryProviderCommand{}, SingletonValueCommand{}, ElectionCommand{},
	}
	for _, cmd := range commands {
		_, err := cmd.Execute("not a singleton")
		assert.ErrorIs(t, err, dispatcher.ErrInvalidArgument, "%T", cmd)
	}
}

func TestRegisterCommands(t *testing.T) {
	table := dispatcher.NewCommandTable()
	require.NoError(t, RegisterCommands(table))
	assert.Error(t, RegisterCommands(table), "names can only be registered once")

	name, payload, err := table.Encode(ElectionCommand{Leaving: "b"})
	require.NoError(t, err)
	assert.Equal(t, "singleton.elect", name)

	cmd, err := table.Decode(name, payload)
	require.NoError(t, err)
	assert.Equal(t, ElectionCommand{Leaving: "b"}, cmd)
}
