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
	"errors"
	"fmt"
	"sync"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"clustercore.io/internal/chash"
	"clustercore.io/internal/group"
)

// DefaultBufferSize is the capacity of each queue when Config doesn't
// set one.
const DefaultBufferSize = 100

var (
	// ErrNoQueue is returned for members that don't own any keys, or
	// that were filtered out.
	ErrNoQueue = errors.New("no key queue for member")

	// ErrNotStarted is returned when keys are requested from a
	// service that was never started.
	ErrNotStarted = errors.New("key affinity service not started")

	// ErrStopped is returned to callers waiting for a key when the
	// service stops.
	ErrStopped = errors.New("key affinity service stopped")

	// ErrInvalidConfig is returned by New for incomplete
	// configurations.
	ErrInvalidConfig = errors.New("invalid key affinity configuration")
)

// Service hands out keys owned by a given member.
type Service[K any] interface {
	// Start starts producing keys.
	Start()

	// Stop stops producing keys. Callers waiting for a key get
	// ErrStopped.
	Stop()

	// IsStarted reflects the most recent Start or Stop.
	IsStarted() bool

	// GetKeyForAddress returns a key owned by m, waiting until one is
	// available or ctx ends.
	GetKeyForAddress(ctx context.Context, m group.Member) (K, error)

	// GetCollocatedKey returns a key with the same owner as key.
	GetCollocatedKey(ctx context.Context, key K) (K, error)

	// Addresses returns the members that keys can be requested for.
	Addresses() []group.Member
}

type Config[K any] struct {
	Topology chash.Topology

	// Filter selects the members to produce keys for. nil selects
	// all of them.
	Filter func(m group.Member) bool

	// Generator returns a new, random key.
	Generator func() K

	// Encoder returns the bytes of key that the topology hashes.
	Encoder func(key K) []byte

	// BufferSize is the capacity of each queue.
	BufferSize int

	Logger log.Logger
}

func (c *Config[K]) validate() error {
	if c.Topology == nil || c.Generator == nil || c.Encoder == nil {
		return fmt.Errorf("%w: topology, generator and encoder are required", ErrInvalidConfig)
	}
	if c.BufferSize <= 0 {
		c.BufferSize = DefaultBufferSize
	}
	if c.Logger == nil {
		c.Logger = log.NewNopLogger()
	}
	return nil
}

// New returns a Service for cfg. If the topology isn't distributed
// every key is as good as any other and the Service returns fresh
// keys from the generator.
func New[K any](cfg Config[K]) (Service[K], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if !cfg.Topology.Distributed() {
		return &simple[K]{generator: cfg.Generator, members: cfg.Topology.Members()}, nil
	}
	return newRegistry(cfg), nil
}

// registry is the Service for distributed topologies.
type registry[K any] struct {
	cfg    Config[K]
	queues map[group.Member]chan K
	order  []group.Member

	// taken is signalled whenever a consumer takes a key, so that a
	// producer facing full queues knows to try again.
	taken chan struct{}

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func newRegistry[K any](cfg Config[K]) *registry[K] {
	r := &registry[K]{
		cfg:    cfg,
		queues: map[group.Member]chan K{},
		taken:  make(chan struct{}, 1),
		stopCh: make(chan struct{}),
	}

	for _, m := range cfg.Topology.Members() {
		if !cfg.Topology.OwnsPrimary(m) || (cfg.Filter != nil && !cfg.Filter(m)) {
			continue
		}
		r.queues[m] = make(chan K, cfg.BufferSize)
		r.order = append(r.order, m)
	}
	queueCount.Set(float64(len(r.queues)))
	level.Debug(cfg.Logger).Log("op", "newRegistry", "queues", len(r.queues))

	return r
}

func (r *registry[K]) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return
	}
	select {
	case <-r.stopCh:
		// a stopped registry starts over with a fresh stop channel
		r.stopCh = make(chan struct{})
	default:
	}
	r.started = true
	if len(r.queues) == 0 {
		return
	}
	r.doneCh = make(chan struct{})
	go r.produce(r.stopCh, r.doneCh)
}

func (r *registry[K]) Stop() {
	r.mu.Lock()
	if !r.started {
		r.mu.Unlock()
		return
	}
	r.started = false
	close(r.stopCh)
	doneCh := r.doneCh
	r.doneCh = nil
	r.mu.Unlock()

	if doneCh != nil {
		<-doneCh
	}
}

func (r *registry[K]) IsStarted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *registry[K]) Addresses() []group.Member {
	return append([]group.Member(nil), r.order...)
}

func (r *registry[K]) GetKeyForAddress(ctx context.Context, m group.Member) (K, error) {
	var zero K

	q, ok := r.queues[m]
	if !ok {
		return zero, fmt.Errorf("%w: %s", ErrNoQueue, m)
	}

	r.mu.Lock()
	started, stopCh := r.started, r.stopCh
	r.mu.Unlock()
	if !started {
		return zero, ErrNotStarted
	}

	select {
	case key := <-q:
		queueDepth.WithLabelValues(string(m)).Set(float64(len(q)))
		select {
		case r.taken <- struct{}{}:
		default:
		}
		return key, nil
	case <-stopCh:
		return zero, ErrStopped
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (r *registry[K]) GetCollocatedKey(ctx context.Context, key K) (K, error) {
	owner, ok := r.cfg.Topology.PrimaryOwner(r.cfg.Encoder(key))
	if !ok {
		var zero K
		return zero, fmt.Errorf("%w: key has no owner", ErrNoQueue)
	}
	return r.GetKeyForAddress(ctx, owner)
}

// produce fills the queues until stopCh is closed. A key whose queue
// is full is dropped; when all queues are full, production pauses
// until a key is taken.
func (r *registry[K]) produce(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		if r.full() {
			select {
			case <-r.taken:
				continue
			case <-stopCh:
				return
			}
		}

		key := r.cfg.Generator()
		keysGenerated.Inc()

		owner, ok := r.cfg.Topology.PrimaryOwner(r.cfg.Encoder(key))
		q, queued := r.queues[owner]
		if !ok || !queued {
			keysDiscarded.Inc()
			continue
		}

		select {
		case q <- key:
			queueDepth.WithLabelValues(string(owner)).Set(float64(len(q)))
		default:
			keysDiscarded.Inc()
		}
	}
}

func (r *registry[K]) full() bool {
	for _, q := range r.queues {
		if len(q) < cap(q) {
			return false
		}
	}
	return true
}

// simple is the Service for topologies that aren't distributed.
type simple[K any] struct {
	generator func() K
	members   []group.Member

	mu      sync.Mutex
	started bool
}

func (s *simple[K]) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
}

func (s *simple[K]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = false
}

func (s *simple[K]) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

func (s *simple[K]) GetKeyForAddress(ctx context.Context, m group.Member) (K, error) {
	return s.generator(), nil
}

func (s *simple[K]) GetCollocatedKey(ctx context.Context, key K) (K, error) {
	return s.generator(), nil
}

func (s *simple[K]) Addresses() []group.Member {
	return append([]group.Member(nil), s.members...)
}
