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
	"fmt"
	"regexp"

	"clustercore.io/internal/group"
)

// ElectionPolicy picks the primary from an ordered list of
// candidates. Elect returns the index of the winner or -1 if there is
// none. Policies must be pure: the same candidates always give the
// same index.
type ElectionPolicy interface {
	Elect(candidates []group.Member) int
}

// SimplePolicy elects the candidate at Position. Negative positions
// count from the end of the list, so -1 is the last candidate, and
// positions past either end wrap around.
type SimplePolicy struct {
	Position int
}

func (p SimplePolicy) Elect(candidates []group.Member) int {
	n := len(candidates)
	if n == 0 {
		return -1
	}
	i := p.Position % n
	if i < 0 {
		i += n
	}
	return i
}

// Preference matches the members that a PreferredPolicy would rather
// elect.
type Preference interface {
	Matches(m group.Member) bool
}

// NamePreference matches one member by name.
type NamePreference group.Member

func (p NamePreference) Matches(m group.Member) bool {
	return group.Member(p) == m
}

func (p NamePreference) String() string {
	return string(p)
}

// PatternPreference matches members whose names match a regular
// expression.
type PatternPreference struct {
	re *regexp.Regexp
}

// NewPatternPreference compiles expr into a PatternPreference.
func NewPatternPreference(expr string) (PatternPreference, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return PatternPreference{}, fmt.Errorf("preference pattern %q: %w", expr, err)
	}
	return PatternPreference{re: re}, nil
}

func (p PatternPreference) Matches(m group.Member) bool {
	return p.re != nil && p.re.MatchString(string(m))
}

func (p PatternPreference) String() string {
	if p.re == nil {
		return ""
	}
	return p.re.String()
}

// PreferredPolicy elects a preferred candidate if one is present.
// Preferences are tried in the order they are configured and the
// first one that matches any candidate decides; if it matches more
// than one, the earliest of those candidates wins. If no preference
// matches, Fallback decides (SimplePolicy{} if nil).
type PreferredPolicy struct {
	Preferences []Preference
	Fallback    ElectionPolicy
}

func (p PreferredPolicy) Elect(candidates []group.Member) int {
	for _, pref := range p.Preferences {
		for i, c := range candidates {
			if pref.Matches(c) {
				return i
			}
		}
	}

	fallback := p.Fallback
	if fallback == nil {
		fallback = SimplePolicy{}
	}
	return fallback.Elect(candidates)
}

// Quorum refuses to elect anybody while there are fewer than Size
// candidates, and otherwise defers to Policy (SimplePolicy{} if nil).
type Quorum struct {
	Policy ElectionPolicy
	Size   int
}

func (q Quorum) Elect(candidates []group.Member) int {
	if len(candidates) < q.Size {
		return -1
	}
	policy := q.Policy
	if policy == nil {
		policy = SimplePolicy{}
	}
	return policy.Elect(candidates)
}
