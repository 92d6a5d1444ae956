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

package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewQueries(t *testing.T) {
	v := View{Version: 3, Members: []Member{"b", "a", "c"}}

	assert.True(t, v.Contains("a"))
	assert.False(t, v.Contains("d"))
	assert.Equal(t, 1, v.Index("a"))
	assert.Equal(t, -1, v.Index("d"))

	coord, ok := v.Coordinator()
	assert.True(t, ok)
	assert.Equal(t, Member("b"), coord, "the coordinator is the first member, not the lowest")

	_, ok = View{}.Coordinator()
	assert.False(t, ok)
}

func TestRemovedAdded(t *testing.T) {
	previous := View{Version: 1, Members: []Member{"b", "a", "c"}}
	current := View{Version: 2, Members: []Member{"a", "c", "d"}}

	assert.Equal(t, []Member{"b"}, Removed(previous, current))
	assert.Equal(t, []Member{"d"}, Added(previous, current))
	assert.Empty(t, Removed(current, current))
}

func TestSorted(t *testing.T) {
	in := []Member{"node-c", "node-a", "node-b"}
	out := Sorted(in)

	assert.Equal(t, []Member{"node-a", "node-b", "node-c"}, out)
	assert.Equal(t, Member("node-c"), in[0], "Sorted must not modify its input")
}

func TestSameMembers(t *testing.T) {
	assert.True(t, sameMembers([]Member{"a", "b"}, []Member{"a", "b"}))
	assert.False(t, sameMembers([]Member{"a", "b"}, []Member{"b", "a"}))
	assert.False(t, sameMembers([]Member{"a"}, []Member{"a", "b"}))
	assert.True(t, sameMembers(nil, []Member{}))
}

func TestStaticViews(t *testing.T) {
	g := NewStatic("a", "a", "b")

	assert.Equal(t, Member("a"), g.Local())
	assert.Equal(t, uint64(1), g.Current().Version)

	var seen [][2]View
	reg := g.AddListener(func(previous, current View) {
		seen = append(seen, [2]View{previous, current})
	})

	v2 := g.SetMembers("b", "a", "c")
	assert.Equal(t, uint64(2), v2.Version)
	assert.Equal(t, []Member{"b", "a", "c"}, g.Current().Members, "static views keep the given order")

	require.Len(t, seen, 1)
	assert.Equal(t, uint64(1), seen[0][0].Version)
	assert.Equal(t, uint64(2), seen[0][1].Version)

	reg.Close()
	g.SetMembers("a")
	assert.Len(t, seen, 1, "closed registrations must not be notified")

	// closing twice is harmless
	reg.Close()
}

func TestListenerOrder(t *testing.T) {
	g := NewStatic("a", "a")

	var calls []string
	g.AddListener(func(View, View) { calls = append(calls, "first") })
	second := g.AddListener(func(View, View) { calls = append(calls, "second") })
	g.AddListener(func(View, View) { calls = append(calls, "third") })

	g.SetMembers("a", "b")
	assert.Equal(t, []string{"first", "second", "third"}, calls)

	calls = nil
	second.Close()
	g.SetMembers("a")
	assert.Equal(t, []string{"first", "third"}, calls)
}

func TestListenerCanRegisterFromCallback(t *testing.T) {
	g := NewStatic("a", "a")

	nested := 0
	g.AddListener(func(View, View) {
		g.AddListener(func(View, View) { nested++ })
	})

	g.SetMembers("a", "b")
	assert.Equal(t, 0, nested, "listener added during notification waits for the next view")
	g.SetMembers("a")
	assert.Equal(t, 1, nested)
}
