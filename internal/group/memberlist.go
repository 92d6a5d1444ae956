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
	stdlog "log"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/hashicorp/memberlist"
)

// Config configures a memberlist-backed Group.
type Config struct {
	// NodeName becomes the Member name of this process. It must be
	// unique within the cluster.
	NodeName string
	BindAddr string
	BindPort int
	Secret   []byte

	// Delegate receives user messages from memberlist. The command
	// transport plugs in here.
	Delegate memberlist.Delegate

	Logger log.Logger
}

// Memberlist is a Group backed by hashicorp/memberlist. Views are
// built from memberlist's live node set and sorted by name, so every
// node that sees the same set of nodes builds the same view.
type Memberlist struct {
	list    *memberlist.Memberlist
	logger  log.Logger
	eventCh chan memberlist.NodeEvent
	stopCh  chan struct{}
	doneCh  chan struct{}

	viewMu  sync.RWMutex
	view    View
	watches listeners
}

// NewMemberlist creates the memberlist and starts watching its node
// events. The group starts out with a view holding only this node;
// call Join to find the rest of the cluster.
func NewMemberlist(cfg Config) (*Memberlist, error) {
	g := &Memberlist{
		logger: cfg.Logger,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}

	mconfig := memberlist.DefaultLANConfig()
	mconfig.Name = cfg.NodeName
	mconfig.BindAddr = cfg.BindAddr
	mconfig.BindPort = cfg.BindPort
	mconfig.AdvertisePort = cfg.BindPort
	mconfig.SecretKey = cfg.Secret
	if cfg.Delegate != nil {
		mconfig.Delegate = cfg.Delegate
	}

	loggerout := log.NewStdlibAdapter(log.With(cfg.Logger, "component", "MemberList"))
	mconfig.Logger = stdlog.New(loggerout, "", stdlog.Lshortfile)

	g.eventCh = make(chan memberlist.NodeEvent, 16)
	mconfig.Events = &memberlist.ChannelEventDelegate{Ch: g.eventCh}

	mlist, err := memberlist.Create(mconfig)
	if err != nil {
		return nil, err
	}
	g.list = mlist
	g.view = View{Version: 1, Members: g.liveMembers()}
	RecordView(g.view)

	go g.watchEvents()

	return g, nil
}

// Join contacts the given peers and returns the number that were
// reached.
func (g *Memberlist) Join(peers []string) (int, error) {
	n, err := g.list.Join(peers)
	level.Info(g.logger).Log("op", "join", "msg", "memberlist join", "joined", n, "error", err)
	return n, err
}

// Shutdown leaves the cluster gracefully and stops the group.
func (g *Memberlist) Shutdown() error {
	err := g.list.Leave(1 * time.Second)
	g.list.Shutdown()
	close(g.stopCh)
	<-g.doneCh
	level.Info(g.logger).Log("op", "shutdown", "msg", "memberlist shut down", "error", err)

	return err
}

// List returns the underlying memberlist.
func (g *Memberlist) List() *memberlist.Memberlist {
	return g.list
}

// Node returns the memberlist node for m, or nil if m is not alive.
func (g *Memberlist) Node(m Member) *memberlist.Node {
	for _, node := range g.list.Members() {
		if node.Name == string(m) {
			return node
		}
	}
	return nil
}

func (g *Memberlist) Local() Member {
	return Member(g.list.LocalNode().Name)
}

func (g *Memberlist) Current() View {
	g.viewMu.RLock()
	defer g.viewMu.RUnlock()
	return g.view
}

func (g *Memberlist) AddListener(l Listener) Registration {
	return g.watches.add(l)
}

func event2String(e memberlist.NodeEventType) string {
	return [...]string{"NodeJoin", "NodeLeave", "NodeUpdate"}[e]
}

func (g *Memberlist) watchEvents() {
	defer close(g.doneCh)

	for {
		select {
		case event := <-g.eventCh:
			level.Debug(g.logger).Log("msg", "node event", "node addr", event.Node.Addr, "node name", event.Node.Name, "node event", event2String(event.Event))
			g.refresh()
		case <-g.stopCh:
			return
		}
	}
}

// refresh rebuilds the view from memberlist's node set and publishes
// it if the membership changed. Metadata-only updates don't produce a
// new view.
func (g *Memberlist) refresh() {
	members := g.liveMembers()

	g.viewMu.Lock()
	previous := g.view
	if sameMembers(previous.Members, members) {
		g.viewMu.Unlock()
		return
	}
	current := View{Version: previous.Version + 1, Members: members}
	g.view = current
	g.viewMu.Unlock()

	level.Info(g.logger).Log("op", "viewChange", "version", current.Version, "members", len(current.Members), "joined", len(Added(previous, current)), "left", len(Removed(previous, current)))
	RecordView(current)
	g.watches.notify(previous, current)
}

func (g *Memberlist) liveMembers() []Member {
	nodes := g.list.Members()
	members := make([]Member, 0, len(nodes))
	for _, node := range nodes {
		members = append(members, Member(node.Name))
	}
	return Sorted(members)
}

func sameMembers(a, b []Member) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
