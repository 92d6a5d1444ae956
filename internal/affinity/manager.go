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

package affinity

import (
	"context"
	"sync"

	"github.com/go-kit/kit/log/level"

	"clustercore.io/internal/chash"
	"clustercore.io/internal/group"
)

// Manager is a Service that follows the group: on every view change
// it builds a new ring and a new Service for it, and drops the old
// one. Callers waiting on the old Service get ErrStopped.
type Manager[K any] struct {
	group    group.Group
	segments int
	cfg      Config[K]

	mu      sync.Mutex
	current Service[K]
	started bool
	reg     group.Registration
}

// NewManager returns a Manager for g. cfg.Topology is ignored; the
// topology is a ring with segments segments built from each view.
func NewManager[K any](g group.Group, segments int, cfg Config[K]) (*Manager[K], error) {
	cfg.Topology = chash.NewRing(g.Current(), segments)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	svc, err := New(cfg)
	if err != nil {
		return nil, err
	}

	m := &Manager[K]{group: g, segments: segments, cfg: cfg, current: svc}
	m.reg = g.AddListener(m.viewChanged)

	return m, nil
}

func (m *Manager[K]) viewChanged(previous, current group.View) {
	cfg := m.cfg
	cfg.Topology = chash.NewRing(current, m.segments)
	svc, err := New(cfg)
	if err != nil {
		// the configuration was valid when the manager was built
		level.Error(cfg.Logger).Log("op", "viewChange", "error", err)
		return
	}

	m.mu.Lock()
	old := m.current
	m.current = svc
	if m.started {
		svc.Start()
	}
	m.mu.Unlock()

	old.Stop()
	level.Debug(cfg.Logger).Log("op", "viewChange", "version", current.Version, "members", len(current.Members), "distributed", cfg.Topology.Distributed())
}

// Service returns the Service for the current view.
func (m *Manager[K]) Service() Service[K] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *Manager[K]) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	m.current.Start()
}

func (m *Manager[K]) Stop() {
	m.mu.Lock()
	m.started = false
	svc := m.current
	m.mu.Unlock()
	svc.Stop()
}

func (m *Manager[K]) IsStarted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

func (m *Manager[K]) GetKeyForAddress(ctx context.Context, member group.Member) (K, error) {
	return m.Service().GetKeyForAddress(ctx, member)
}

func (m *Manager[K]) GetCollocatedKey(ctx context.Context, key K) (K, error) {
	return m.Service().GetCollocatedKey(ctx, key)
}

func (m *Manager[K]) Addresses() []group.Member {
	return m.Service().Addresses()
}

// Close stops the Manager and stops following the group.
func (m *Manager[K]) Close() {
	m.reg.Close()
	m.Stop()
}
