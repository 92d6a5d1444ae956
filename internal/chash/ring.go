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

// Package chash maps keys to owning members. The keyspace is split
// into a fixed number of segments; a key's segment comes from its
// hash and a segment's primary owner is picked by rendezvous hashing
// over the members of a view. A Ring is built from one view and never
// modified: when the view changes, build a new one.
package chash

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"clustercore.io/internal/group"
)

// DefaultSegments is the number of segments of a Ring built with a
// non-positive segment count.
const DefaultSegments = 256

// Topology says who owns what.
type Topology interface {
	// Distributed returns false if there is at most one member, in
	// which case ownership is meaningless.
	Distributed() bool

	// Members returns the members of the topology in view order.
	Members() []group.Member

	// PrimaryOwner returns the member that owns key.
	PrimaryOwner(key []byte) (group.Member, bool)

	// OwnsPrimary returns true if m owns at least one segment.
	OwnsPrimary(m group.Member) bool
}

// Ring is a Topology built from a view.
type Ring struct {
	version  uint64
	members  []group.Member
	owners   []group.Member // indexed by segment
	segments map[group.Member]int
}

// NewRing assigns each of segments segments to a member of view.
func NewRing(view group.View, segments int) *Ring {
	if segments <= 0 {
		segments = DefaultSegments
	}

	r := &Ring{
		version:  view.Version,
		members:  append([]group.Member(nil), view.Members...),
		segments: map[group.Member]int{},
	}
	if len(r.members) == 0 {
		return r
	}

	r.owners = make([]group.Member, segments)
	for s := range r.owners {
		r.owners[s] = winner(r.members, s)
		r.segments[r.owners[s]]++
	}
	return r
}

// winner returns the member with the highest score for segment. Ties
// go to the lower name so that the result does not depend on member
// order.
func winner(members []group.Member, segment int) group.Member {
	var (
		best      group.Member
		bestScore uint64
	)
	for i, m := range members {
		score := score(m, segment)
		if i == 0 || score > bestScore || (score == bestScore && m.Less(best)) {
			best, bestScore = m, score
		}
	}
	return best
}

func score(m group.Member, segment int) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(segment))

	d := xxhash.New()
	d.WriteString(string(m))
	d.WriteString("#")
	d.Write(buf[:])
	return d.Sum64()
}

// Segment returns the segment of key.
func (r *Ring) Segment(key []byte) int {
	if len(r.owners) == 0 {
		return -1
	}
	return int(xxhash.Sum64(key) % uint64(len(r.owners)))
}

// Segments returns the number of segments.
func (r *Ring) Segments() int {
	return len(r.owners)
}

// Version returns the version of the view the ring was built from.
func (r *Ring) Version() uint64 {
	return r.version
}

func (r *Ring) Distributed() bool {
	return len(r.members) > 1
}

func (r *Ring) Members() []group.Member {
	return append([]group.Member(nil), r.members...)
}

func (r *Ring) PrimaryOwner(key []byte) (group.Member, bool) {
	s := r.Segment(key)
	if s < 0 {
		return "", false
	}
	return r.owners[s], true
}

func (r *Ring) OwnsPrimary(m group.Member) bool {
	return r.segments[m] > 0
}

// PrimarySegments returns how many segments m owns.
func (r *Ring) PrimarySegments(m group.Member) int {
	return r.segments[m]
}
