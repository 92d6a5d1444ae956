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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/hashicorp/memberlist"

	"clustercore.io/internal/group"
)

// commandMsg is the first byte of every user message this transport
// sends, so that other users of the memberlist delegate can share the
// channel.
const commandMsg byte = 0xc1

const (
	kindRequest uint8 = iota + 1
	kindReply
)

const (
	statusOK uint8 = iota
	statusFailed
	statusNoSuchService
	statusUndecodable
)

// envelope is the msgpack-encoded body of a command message.
type envelope struct {
	Kind    uint8
	ID      uint64
	From    string
	Service string
	Command string
	Payload []byte
	Status  uint8
	Error   string
}

// MemberlistTransport sends commands as memberlist user messages over
// memberlist's reliable (TCP) channel and matches replies to requests
// by id. It is also the memberlist.Delegate that receives them, so it
// has to be passed to the group before the memberlist is created and
// attached to it afterwards.
type MemberlistTransport struct {
	table  *CommandTable
	logger log.Logger
	nextID uint64

	mu      sync.Mutex
	list    *memberlist.Memberlist
	handler Handler
	pending map[uint64]chan *envelope
}

// NewMemberlistTransport returns a transport that encodes commands
// with table.
func NewMemberlistTransport(table *CommandTable, l log.Logger) *MemberlistTransport {
	return &MemberlistTransport{
		table:   table,
		logger:  l,
		pending: map[uint64]chan *envelope{},
	}
}

// Attach gives the transport the memberlist to send through.
func (t *MemberlistTransport) Attach(list *memberlist.Memberlist) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.list = list
}

func (t *MemberlistTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *MemberlistTransport) Invoke(ctx context.Context, to group.Member, service string, cmd Command) (interface{}, error) {
	name, payload, err := t.table.Encode(cmd)
	if err != nil {
		// nothing was sent; the caller handed us something we can't
		// deliver
		return nil, &DeliveryError{Member: to, Err: err}
	}

	t.mu.Lock()
	list := t.list
	t.mu.Unlock()
	if list == nil {
		return nil, &DeliveryError{Member: to, Err: ErrUnreachable}
	}
	node := findNode(list, to)
	if node == nil {
		return nil, &DeliveryError{Member: to, Err: ErrUnreachable}
	}

	req := &envelope{
		Kind:    kindRequest,
		ID:      atomic.AddUint64(&t.nextID, 1),
		From:    list.LocalNode().Name,
		Service: service,
		Command: name,
		Payload: payload,
	}
	replyCh := make(chan *envelope, 1)
	t.mu.Lock()
	t.pending[req.ID] = replyCh
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, req.ID)
		t.mu.Unlock()
	}()

	if err := t.send(list, node, req); err != nil {
		return nil, &DeliveryError{Member: to, Err: fmt.Errorf("%w: %v", ErrUnreachable, err)}
	}

	select {
	case reply := <-replyCh:
		return t.unwrap(to, reply)
	case <-ctx.Done():
		return nil, &DeliveryError{Member: to, Err: ErrCancelled}
	}
}

func (t *MemberlistTransport) unwrap(from group.Member, reply *envelope) (interface{}, error) {
	switch reply.Status {
	case statusOK:
		var result interface{}
		if err := decode(reply.Payload, &result); err != nil {
			return nil, &CommandError{Member: from, Err: fmt.Errorf("decoding result: %w", err)}
		}
		return result, nil
	case statusNoSuchService:
		return nil, &DeliveryError{Member: from, Err: ErrNoSuchService}
	case statusUndecodable:
		return nil, &DeliveryError{Member: from, Err: fmt.Errorf("%w: %s", ErrUnknownCommand, reply.Error)}
	default:
		return nil, &CommandError{Member: from, Err: errors.New(reply.Error)}
	}
}

func (t *MemberlistTransport) send(list *memberlist.Memberlist, node *memberlist.Node, env *envelope) error {
	body, err := encode(env)
	if err != nil {
		return err
	}
	return list.SendReliable(node, append([]byte{commandMsg}, body...))
}

// serve runs an inbound request and sends the reply back to its
// sender.
func (t *MemberlistTransport) serve(req *envelope) {
	reply := &envelope{Kind: kindReply, ID: req.ID, Status: statusOK}

	t.mu.Lock()
	handler := t.handler
	list := t.list
	t.mu.Unlock()

	cmd, err := t.table.Decode(req.Command, req.Payload)
	switch {
	case err != nil:
		reply.Status = statusUndecodable
		reply.Error = err.Error()
	case handler == nil:
		reply.Status = statusNoSuchService
	default:
		result, err := handler(req.Service, cmd)
		switch {
		case err == ErrNoSuchService:
			reply.Status = statusNoSuchService
		case err != nil:
			// the caller wraps the message in its own CommandError
			var ce *CommandError
			if errors.As(err, &ce) {
				err = ce.Err
			}
			reply.Status = statusFailed
			reply.Error = err.Error()
		default:
			if reply.Payload, err = encode(result); err != nil {
				reply.Status = statusFailed
				reply.Error = fmt.Sprintf("encoding result: %v", err)
			}
		}
	}

	if list == nil {
		return
	}
	node := findNode(list, group.Member(req.From))
	if node == nil {
		level.Info(t.logger).Log("op", "reply", "member", req.From, "service", req.Service, "msg", "sender left before the reply")
		return
	}
	if err := t.send(list, node, reply); err != nil {
		level.Warn(t.logger).Log("op", "reply", "member", req.From, "service", req.Service, "error", err)
	}
}

// NotifyMsg is called by memberlist when a user message arrives.
func (t *MemberlistTransport) NotifyMsg(buf []byte) {
	if len(buf) == 0 || buf[0] != commandMsg {
		return
	}
	// memberlist may reuse buf once we return
	body := append([]byte(nil), buf[1:]...)

	env := &envelope{}
	if err := decode(body, env); err != nil {
		level.Warn(t.logger).Log("op", "receive", "error", err, "msg", "dropping undecodable message")
		return
	}

	switch env.Kind {
	case kindRequest:
		go t.serve(env)
	case kindReply:
		t.mu.Lock()
		replyCh, ok := t.pending[env.ID]
		t.mu.Unlock()
		if !ok {
			return
		}
		// a duplicate reply must not block memberlist's receive loop
		select {
		case replyCh <- env:
		default:
		}
	}
}

func (t *MemberlistTransport) NodeMeta(limit int) []byte {
	return nil
}

func (t *MemberlistTransport) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

func (t *MemberlistTransport) LocalState(join bool) []byte {
	return nil
}

func (t *MemberlistTransport) MergeRemoteState(buf []byte, join bool) {
}

func findNode(list *memberlist.Memberlist, m group.Member) *memberlist.Node {
	for _, node := range list.Members() {
		if node.Name == string(m) {
			return node
		}
	}
	return nil
}
