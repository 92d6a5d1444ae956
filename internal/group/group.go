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

// Package group exposes the cluster membership that the rest of
// clustercore consumes: the local member, the current view, and a way
// to be told when the view changes. Membership discovery, failure
// detection and transport reliability belong to the provider
// underneath (memberlist in production, a static list in tests).
package group

import (
	"sort"
)

// Member identifies one node in the cluster. Members are totally
// ordered by name.
type Member string

func (m Member) String() string {
	return string(m)
}

// Less reports whether m sorts before o.
func (m Member) Less(o Member) bool {
	return m < o
}

// View is an ordered, versioned snapshot of the group. Views are
// replaced, never modified, so a View can be shared freely once it
// has been published.
type View struct {
	Version uint64
	Members []Member
}

// Contains returns true if m is part of the view.
func (v View) Contains(m Member) bool {
	return v.Index(m) >= 0
}

// Index returns the position of m in the view or -1.
func (v View) Index(m Member) int {
	for i, member := range v.Members {
		if member == m {
			return i
		}
	}
	return -1
}

// Coordinator returns the first member of the view. The coordinator
// is the member that acts on behalf of the group when a single actor
// is needed, e.g., to dispatch singleton start/stop commands.
func (v View) Coordinator() (Member, bool) {
	if len(v.Members) == 0 {
		return "", false
	}
	return v.Members[0], true
}

// Removed returns the members of previous that are not in current,
// in previous' order.
func Removed(previous, current View) []Member {
	var gone []Member
	for _, m := range previous.Members {
		if !current.Contains(m) {
			gone = append(gone, m)
		}
	}
	return gone
}

// Added returns the members of current that are not in previous, in
// current's order.
func Added(previous, current View) []Member {
	return Removed(current, previous)
}

// Sorted returns a copy of members in canonical order.
func Sorted(members []Member) []Member {
	ret := append([]Member(nil), members...)
	sort.Slice(ret, func(i, j int) bool { return ret[i].Less(ret[j]) })
	return ret
}

// Listener is called after the current view has been replaced.
type Listener func(previous, current View)

// Registration is returned by AddListener. Close stops further
// notifications.
type Registration interface {
	Close()
}

// Group is the boundary between clustercore and the membership
// provider.
type Group interface {
	// Local returns the member that represents this process.
	Local() Member

	// Current returns the current view.
	Current() View

	// AddListener registers l to be called on every view change.
	// Listeners are called one at a time, in registration order, and
	// see views in version order.
	AddListener(l Listener) Registration
}
