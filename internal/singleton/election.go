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
	"clustercore.io/internal/group"
)

// Predicate says whether a member is eligible to host a singleton.
// A nil Predicate accepts every member.
type Predicate func(m group.Member) bool

// ElectionState is the outcome of an election for one view.
type ElectionState struct {
	// Version is the version of the view the election ran on.
	Version uint64

	// Candidates are the eligible members in view order.
	Candidates []group.Member

	// Elected is the index of the primary in Candidates, or -1.
	Elected int
}

// Primary returns the elected member, if there is one.
func (s ElectionState) Primary() (group.Member, bool) {
	if s.Elected < 0 || s.Elected >= len(s.Candidates) {
		return "", false
	}
	return s.Candidates[s.Elected], true
}

// Candidates returns the members of view that pass eligible, in view
// order.
func Candidates(view group.View, eligible Predicate) []group.Member {
	candidates := []group.Member{}
	for _, m := range view.Members {
		if eligible == nil || eligible(m) {
			candidates = append(candidates, m)
		}
	}
	return candidates
}

// Elect runs policy over the eligible members of view. It depends
// only on its arguments, so every member that sees the same view
// computes the same state.
func Elect(view group.View, eligible Predicate, policy ElectionPolicy) ElectionState {
	return electAmong(view.Version, Candidates(view, eligible), policy)
}

func electAmong(version uint64, candidates []group.Member, policy ElectionPolicy) ElectionState {
	if policy == nil {
		policy = SimplePolicy{}
	}
	state := ElectionState{Version: version, Candidates: candidates, Elected: -1}
	if len(candidates) == 0 {
		return state
	}

	// a policy that answers out of range elects nobody
	if i := policy.Elect(candidates); i >= 0 && i < len(candidates) {
		state.Elected = i
	}
	return state
}

// without returns candidates minus excluded, keeping the order.
func without(candidates []group.Member, excluded map[group.Member]bool) []group.Member {
	if len(excluded) == 0 {
		return candidates
	}
	ret := make([]group.Member, 0, len(candidates))
	for _, c := range candidates {
		if !excluded[c] {
			ret = append(ret, c)
		}
	}
	return ret
}
