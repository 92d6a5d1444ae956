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

package dispatcher

import (
	"context"
	"sync"

	"clustercore.io/internal/group"
)

// LoopbackNetwork connects Transports inside one process. Commands
// are handed over as values, so any Command works, including
// CommandFuncs. It backs single-node deployments and lets tests run a
// whole cluster in one process.
type LoopbackNetwork struct {
	mu          sync.RWMutex
	nodes       map[group.Member]*loopbackTransport
	partitioned map[group.Member]bool
}

// NewLoopbackNetwork returns an empty network.
func NewLoopbackNetwork() *LoopbackNetwork {
	return &LoopbackNetwork{
		nodes:       map[group.Member]*loopbackTransport{},
		partitioned: map[group.Member]bool{},
	}
}

// Transport returns the transport for member m, attaching it to the
// network on first use.
func (n *LoopbackNetwork) Transport(m group.Member) Transport {
	n.mu.Lock()
	defer n.mu.Unlock()

	if t, ok := n.nodes[m]; ok {
		return t
	}
	t := &loopbackTransport{network: n, local: m}
	n.nodes[m] = t
	return t
}

// Partition cuts m off from the network (or reconnects it). Commands
// to or from a partitioned member fail with ErrUnreachable.
func (n *LoopbackNetwork) Partition(m group.Member, cut bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partitioned[m] = cut
}

func (n *LoopbackNetwork) route(from, to group.Member) (*loopbackTransport, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.partitioned[from] || n.partitioned[to] {
		return nil, false
	}
	t, ok := n.nodes[to]
	return t, ok
}

type loopbackTransport struct {
	network *LoopbackNetwork
	local   group.Member

	mu      sync.RWMutex
	handler Handler
}

func (t *loopbackTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *loopbackTransport) getHandler() Handler {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.handler
}

type loopbackReply struct {
	value interface{}
	err   error
}

func (t *loopbackTransport) Invoke(ctx context.Context, to group.Member, service string, cmd Command) (interface{}, error) {
	target, ok := t.network.route(t.local, to)
	if !ok {
		return nil, &DeliveryError{Member: to, Err: ErrUnreachable}
	}
	handler := target.getHandler()
	if handler == nil {
		return nil, &DeliveryError{Member: to, Err: ErrNoSuchService}
	}

	replyCh := make(chan loopbackReply, 1)
	go func() {
		v, err := handler(service, cmd)
		replyCh <- loopbackReply{value: v, err: err}
	}()

	select {
	case reply := <-replyCh:
		// the handler returns the bare sentinel when the target has no
		// dispatcher for service
		if reply.err == ErrNoSuchService {
			return nil, &DeliveryError{Member: to, Err: ErrNoSuchService}
		}
		return reply.value, reply.err
	case <-ctx.Done():
		return nil, &DeliveryError{Member: to, Err: ErrCancelled}
	}
}
