// Copyright 2020 Acnodal, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package v1

// Config is the contents of the node agent configuration file. It
// can be written in YAML or JSON.
type Config struct {
	// Singletons configures the election of each singleton, by name.
	Singletons []SingletonPolicy `json:"singletons,omitempty"`

	// Affinity configures the key affinity registry.
	Affinity AffinityConfig `json:"affinity,omitempty"`
}

// SingletonPolicy configures the election of one singleton. Every
// member that hosts the singleton must use the same policy.
type SingletonPolicy struct {
	// Name identifies the singleton.
	Name string `json:"name"`

	// Position picks the candidate that wins when no preference
	// applies. 0 is the first candidate in view order, -1 the last.
	Position int `json:"position,omitempty"`

	// Preferences are tried in order; the first one that matches a
	// candidate wins.
	Preferences []Preference `json:"preferences,omitempty"`

	// Quorum is the number of candidates needed to elect anybody.
	Quorum int `json:"quorum,omitempty"`

	// Eligible are regular expressions matching the members that can
	// be elected. Empty means every member.
	Eligible []string `json:"eligible,omitempty"`
}

// Preference is either a member Name or a Pattern matching member
// names, but not both.
type Preference struct {
	Name    string `json:"name,omitempty"`
	Pattern string `json:"pattern,omitempty"`
}

// AffinityConfig configures the key affinity registry.
type AffinityConfig struct {
	// Segments is the number of segments of the hash ring.
	Segments int `json:"segments,omitempty"`

	// BufferSize is the number of keys queued per member.
	BufferSize int `json:"bufferSize,omitempty"`
}

// Policy returns the policy for the singleton called name.
func (c *Config) Policy(name string) (SingletonPolicy, bool) {
	for _, p := range c.Singletons {
		if p.Name == name {
			return p, true
		}
	}
	return SingletonPolicy{}, false
}
