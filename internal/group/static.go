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
	"sync"
)

// Static is a Group whose views are set explicitly. It is used for
// single-node deployments and to simulate membership changes in
// tests.
type Static struct {
	local Member

	mu      sync.Mutex // serializes SetMembers so listeners see views in order
	viewMu  sync.RWMutex
	view    View
	watches listeners
}

// NewStatic returns a group whose first view (version 1) holds
// members. local is the member that represents this process; it does
// not need to be in the view.
func NewStatic(local Member, members ...Member) *Static {
	return &Static{
		local: local,
		view:  View{Version: 1, Members: append([]Member(nil), members...)},
	}
}

func (s *Static) Local() Member {
	return s.local
}

func (s *Static) Current() View {
	s.viewMu.RLock()
	defer s.viewMu.RUnlock()
	return s.view
}

func (s *Static) AddListener(l Listener) Registration {
	return s.watches.add(l)
}

// SetMembers publishes a new view holding members and notifies the
// listeners before returning. The order of members is preserved.
func (s *Static) SetMembers(members ...Member) View {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.viewMu.Lock()
	previous := s.view
	s.view = View{Version: previous.Version + 1, Members: append([]Member(nil), members...)}
	current := s.view
	s.viewMu.Unlock()

	RecordView(current)
	s.watches.notify(previous, current)

	return current
}
