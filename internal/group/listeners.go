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

// listeners is the listener bookkeeping shared by the Group
// implementations.
type listeners struct {
	mu     sync.Mutex
	nextID uint64
	order  []uint64
	byID   map[uint64]Listener
}

type registration struct {
	ls *listeners
	id uint64
}

func (r *registration) Close() {
	r.ls.remove(r.id)
}

func (ls *listeners) add(l Listener) Registration {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.byID == nil {
		ls.byID = map[uint64]Listener{}
	}
	ls.nextID++
	ls.byID[ls.nextID] = l
	ls.order = append(ls.order, ls.nextID)

	return &registration{ls: ls, id: ls.nextID}
}

func (ls *listeners) remove(id uint64) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if _, ok := ls.byID[id]; !ok {
		return
	}
	delete(ls.byID, id)
	for i, candidate := range ls.order {
		if candidate == id {
			ls.order = append(ls.order[:i], ls.order[i+1:]...)
			break
		}
	}
}

// snapshot returns the registered listeners in registration order.
// Listeners are called without holding the lock so they can add or
// remove listeners themselves.
func (ls *listeners) snapshot() []Listener {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	ret := make([]Listener, 0, len(ls.order))
	for _, id := range ls.order {
		ret = append(ret, ls.byID[id])
	}
	return ret
}

func (ls *listeners) notify(previous, current View) {
	for _, l := range ls.snapshot() {
		l(previous, current)
	}
}
