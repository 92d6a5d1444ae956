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
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"

	"clustercore.io/internal/dispatcher"
	"clustercore.io/internal/group"
)

const (
	// dispatcherPrefix namespaces the dispatcher identifiers used by
	// singletons.
	dispatcherPrefix = "singleton/"

	defaultTimeout = 10 * time.Second
)

type Config struct {
	Group    group.Group
	Registry *dispatcher.Registry
	Logger   log.Logger

	// Timeout bounds each round of commands sent during an election.
	// Zero means 10 seconds.
	Timeout time.Duration
}

// Coordinator runs the singletons hosted by this member.
type Coordinator struct {
	group    group.Group
	registry *dispatcher.Registry
	logger   log.Logger
	timeout  time.Duration

	mu         sync.Mutex
	singletons map[string]*singleton
}

// New returns a Coordinator.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Group == nil || cfg.Registry == nil {
		return nil, fmt.Errorf("%w: coordinator needs a group and a registry", dispatcher.ErrInvalidArgument)
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNopLogger()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}

	return &Coordinator{
		group:      cfg.Group,
		registry:   cfg.Registry,
		logger:     cfg.Logger,
		timeout:    cfg.Timeout,
		singletons: map[string]*singleton{},
	}, nil
}

// Start makes this member a host of the singleton serviceID. Members
// for which eligible returns false are never elected; policy picks
// the primary among the rest (SimplePolicy{} if nil). Every host of a
// singleton must use the same predicate and policy.
func (c *Coordinator) Start(serviceID string, svc Service, eligible Predicate, policy ElectionPolicy) error {
	if serviceID == "" || svc == nil {
		return fmt.Errorf("%w: singleton needs an identifier and a service", dispatcher.ErrInvalidArgument)
	}
	if policy == nil {
		policy = SimplePolicy{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.singletons[serviceID]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, serviceID)
	}

	s := &singleton{
		id:        serviceID,
		c:         c,
		predicate: eligible,
		policy:    policy,
		kick:      make(chan struct{}, 1),
		doneCh:    make(chan struct{}),
		departed:  map[group.Member]bool{},
		exclude:   map[group.Member]bool{},
		state:     ElectionState{Elected: -1},
	}
	s.sc = &serviceContext{id: serviceID, local: c.group.Local(), svc: svc, elect: s.requestElection}

	d, err := c.registry.Acquire(dispatcherPrefix+serviceID, s.sc)
	if err != nil {
		return fmt.Errorf("starting singleton %s: %w", serviceID, err)
	}
	s.dispatcher = d
	s.runCtx, s.cancelRun = context.WithCancel(context.Background())

	s.reg = c.group.AddListener(s.viewChanged)
	s.recompute(c.group.Current())
	c.singletons[serviceID] = s
	go s.run()

	// let the coordinator know that there is a new candidate
	s.mu.Lock()
	s.announce = true
	s.mu.Unlock()
	s.wake()

	level.Info(c.logger).Log("op", "start", "service", serviceID, "msg", "hosting singleton")
	return nil
}

// StartValue makes this member a host of a value singleton: the
// primary computes the value with supplier when it is elected and
// Value fetches it from there.
func (c *Coordinator) StartValue(serviceID string, supplier func() (interface{}, error), eligible Predicate, policy ElectionPolicy) error {
	if supplier == nil {
		return fmt.Errorf("%w: value singleton needs a supplier", dispatcher.ErrInvalidArgument)
	}
	return c.Start(serviceID, &valueService{supplier: supplier}, eligible, policy)
}

// Stop stops hosting serviceID. If the service is running here it is
// stopped, and the next host is asked to run an election without
// this member.
func (c *Coordinator) Stop(serviceID string) error {
	c.mu.Lock()
	s, ok := c.singletons[serviceID]
	delete(c.singletons, serviceID)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSingleton, serviceID)
	}

	s.reg.Close()
	s.cancelRun()
	<-s.doneCh

	err := s.sc.close()
	if err != nil {
		level.Warn(c.logger).Log("op", "stop", "service", serviceID, "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	local := c.group.Local()
	if next := s.actingCoordinator(ctx, c.group.Current(), local); next != "" {
		s.requestFrom(ctx, next, local)
	}
	cancel()

	if rerr := s.dispatcher.Close(); rerr != nil && err == nil {
		err = rerr
	}
	level.Info(c.logger).Log("op", "stop", "service", serviceID, "msg", "no longer hosting singleton")
	return err
}

// Close stops every singleton hosted by this member.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	ids := make([]string, 0, len(c.singletons))
	for id := range c.singletons {
		ids = append(ids, id)
	}
	c.mu.Unlock()

	var first error
	for _, id := range ids {
		if err := c.Stop(id); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// IsPrimary returns true if serviceID is running on this member.
func (c *Coordinator) IsPrimary(serviceID string) bool {
	s, err := c.lookup(serviceID)
	if err != nil {
		return false
	}
	return s.sc.isRunning()
}

// Election returns the election this member computed for the current
// view. On the member that coordinated the election, candidates that
// failed to start are left out.
func (c *Coordinator) Election(serviceID string) (ElectionState, error) {
	s, err := c.lookup(serviceID)
	if err != nil {
		return ElectionState{Elected: -1}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, nil
}

// PrimaryProvider asks every member whether it runs serviceID and
// returns the first one in view order that does.
func (c *Coordinator) PrimaryProvider(ctx context.Context, serviceID string) (group.Member, error) {
	s, err := c.lookup(serviceID)
	if err != nil {
		return "", err
	}

	futures := s.dispatcher.ExecuteOnGroup(PrimaryProviderCommand{})
	for _, m := range c.group.Current().Members {
		f, ok := futures[m]
		if !ok {
			continue
		}
		running, err := dispatcher.Await[bool](ctx, f)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if err == nil && running {
			return m, nil
		}
	}
	return "", fmt.Errorf("%s: %w", serviceID, ErrNoPrimary)
}

// Value returns the value of the value singleton serviceID as
// computed by its primary.
func (c *Coordinator) Value(ctx context.Context, serviceID string) (interface{}, error) {
	s, err := c.lookup(serviceID)
	if err != nil {
		return nil, err
	}
	if s.sc.isRunning() {
		return s.sc.value()
	}

	p, err := c.PrimaryProvider(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	return s.dispatcher.ExecuteOnMember(SingletonValueCommand{}, p).Get(ctx)
}

func (c *Coordinator) lookup(serviceID string) (*singleton, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.singletons[serviceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSingleton, serviceID)
	}
	return s, nil
}

// singleton is one singleton hosted by this member.
type singleton struct {
	id         string
	c          *Coordinator
	sc         *serviceContext
	dispatcher dispatcher.Dispatcher
	predicate  Predicate
	policy     ElectionPolicy
	reg        group.Registration

	runCtx    context.Context
	cancelRun context.CancelFunc
	kick      chan struct{}
	doneCh    chan struct{}

	mu          sync.Mutex
	state       ElectionState
	lastPrimary group.Member          // last member this one started
	departed    map[group.Member]bool // primaries that have left the view
	exclude     map[group.Member]bool
	requested   bool
	announce    bool
}

func (s *singleton) wake() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *singleton) viewChanged(previous, current group.View) {
	s.recompute(current)
	s.wake()
}

// recompute replaces the election state with the one for view.
func (s *singleton) recompute(view group.View) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if view.Version < s.state.Version {
		return
	}
	if p, ok := s.state.Primary(); ok && !view.Contains(p) {
		s.departed[p] = true
	}
	s.state = Elect(view, s.predicate, s.policy)
}

// requestElection is called by an ElectionCommand sent to this
// member.
func (s *singleton) requestElection(exclude ...group.Member) {
	s.mu.Lock()
	s.requested = true
	for _, m := range exclude {
		s.exclude[m] = true
	}
	s.mu.Unlock()
	s.wake()
}

// run handles view changes and election requests one at a time.
func (s *singleton) run() {
	defer close(s.doneCh)

	logger := s.c.logger
	for {
		select {
		case <-s.runCtx.Done():
			return
		case <-s.kick:
		}

		s.mu.Lock()
		requested, announce, exclude := s.requested, s.announce, s.exclude
		s.requested, s.announce, s.exclude = false, false, map[group.Member]bool{}
		s.mu.Unlock()

		view := s.c.group.Current()
		local := s.c.group.Local()

		if !view.Contains(local) {
			if s.sc.isRunning() {
				level.Warn(logger).Log("op", "viewChange", "service", s.id, "msg", "this member left the view, stopping")
				if err := s.sc.stop(); err != nil {
					level.Warn(logger).Log("op", "viewChange", "service", s.id, "error", err)
				}
			}
			continue
		}

		if requested {
			s.coordinate(view, exclude)
			continue
		}

		ctx, cancel := context.WithTimeout(s.runCtx, s.c.timeout)
		acting := s.actingCoordinator(ctx, view, "")
		switch {
		case acting == local:
			s.coordinate(view, exclude)
		case announce && acting != "":
			s.requestFrom(ctx, acting, "")
		}
		cancel()
	}
}

// actingCoordinator returns the first member of view, other than
// skip, that hosts the singleton. Members that can't be asked are
// assumed to host it.
func (s *singleton) actingCoordinator(ctx context.Context, view group.View, skip group.Member) group.Member {
	local := s.c.group.Local()
	for _, m := range view.Members {
		if m == skip {
			continue
		}
		if m == local {
			return local
		}
		_, err := s.dispatcher.ExecuteOnMember(PrimaryProviderCommand{}, m).Get(ctx)
		if err != nil && (dispatcher.IsCancelled(err) || errors.Is(err, dispatcher.ErrNoSuchService)) {
			continue
		}
		return m
	}
	return ""
}

// requestFrom asks to to coordinate an election without leaving.
func (s *singleton) requestFrom(ctx context.Context, to, leaving group.Member) {
	_, err := s.dispatcher.ExecuteOnMember(ElectionCommand{Leaving: string(leaving)}, to).Get(ctx)
	if err != nil {
		level.Warn(s.c.logger).Log("op", "requestElection", "service", s.id, "member", to, "error", err)
		return
	}
	level.Debug(s.c.logger).Log("op", "requestElection", "service", s.id, "member", to)
}

// coordinate elects the primary for view and tells the members:
// everybody else stops, then the winner starts. A winner that fails
// to start is dropped and the election is run again.
func (s *singleton) coordinate(view group.View, exclude map[group.Member]bool) {
	logger := s.c.logger
	elections.WithLabelValues(s.id).Inc()

	s.mu.Lock()
	departed := make([]group.Member, 0, len(s.departed))
	for m := range s.departed {
		if !view.Contains(m) {
			departed = append(departed, m)
		}
	}
	s.departed = map[group.Member]bool{}
	s.mu.Unlock()
	departed = group.Sorted(departed)

	candidates := without(Candidates(view, s.predicate), exclude)
	for {
		state := electAmong(view.Version, candidates, s.policy)
		winner, elected := state.Primary()

		stops := departed
		departed = nil
		for _, m := range state.Candidates {
			if !elected || m != winner {
				stops = append(stops, m)
			}
		}
		s.send("stop", StopCommand{}, stops)

		if !elected {
			level.Info(logger).Log("op", "elect", "service", s.id, "candidates", len(state.Candidates), "msg", "no primary elected")
			s.elected(state)
			return
		}
		if err := s.send("start", StartCommand{}, []group.Member{winner}); err == nil {
			s.elected(state)
			return
		}
		if s.runCtx.Err() != nil {
			return
		}
		candidates = without(candidates, map[group.Member]bool{winner: true})
	}
}

// elected records the outcome of an election this member
// coordinated. It replaces the state computed for the same view, so
// a winner that failed to start is no longer reported.
func (s *singleton) elected(state ElectionState) {
	winner, _ := state.Primary()

	s.mu.Lock()
	changed := s.lastPrimary != winner
	s.lastPrimary = winner
	if state.Version == s.state.Version {
		s.state = state
	}
	s.mu.Unlock()

	if changed {
		primaryChanges.WithLabelValues(s.id).Inc()
		level.Info(s.c.logger).Log("op", "elect", "service", s.id, "primary", winner)
	}
}

// send sends cmd to members and waits for all of them. It returns the
// first failure. Failures are expected for members that left or don't
// host the singleton, and are only worth an info.
func (s *singleton) send(op string, cmd dispatcher.Command, members []group.Member) error {
	if len(members) == 0 {
		return nil
	}
	logger := s.c.logger

	futures := make([]*dispatcher.Future, len(members))
	for i, m := range members {
		futures[i] = s.dispatcher.ExecuteOnMember(cmd, m)
	}

	ctx, cancel := context.WithTimeout(s.runCtx, s.c.timeout)
	defer cancel()

	var first error
	for i, m := range members {
		_, err := futures[i].Get(ctx)
		if err == nil {
			level.Debug(logger).Log("op", op, "service", s.id, "member", m)
			continue
		}
		if first == nil {
			first = err
		}
		if dispatcher.IsCancelled(err) || errors.Is(err, dispatcher.ErrNoSuchService) {
			level.Info(logger).Log("op", op, "service", s.id, "member", m, "error", err)
		} else {
			level.Warn(logger).Log("op", op, "service", s.id, "member", m, "error", err)
		}
	}
	return first
}
