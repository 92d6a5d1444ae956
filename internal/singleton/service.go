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
	"errors"
	"fmt"
	"sync"

	"clustercore.io/internal/group"
)

var (
	// ErrNotPrimary is returned when a member is asked for something
	// only the primary can provide.
	ErrNotPrimary = errors.New("not the primary")

	// ErrNoPrimary is returned when no member claims to be the
	// primary.
	ErrNoPrimary = errors.New("no primary")

	// ErrUnknownSingleton is returned for identifiers that were never
	// started on this member, or have been stopped.
	ErrUnknownSingleton = errors.New("unknown singleton")

	// ErrAlreadyStarted is returned by Start for an identifier that is
	// already running on this member.
	ErrAlreadyStarted = errors.New("singleton already started")

	// errClosed is returned by StartCommand on a member that is
	// stopping the singleton.
	errClosed = errors.New("singleton is stopping")
)

// Service is what a singleton runs. Start is called on the member
// that wins the election and Stop when it stops being the primary.
// Neither is called twice in a row.
type Service interface {
	Start() error
	Stop() error
}

// serviceContext is the dispatcher context of a singleton on one
// member. The singleton commands operate on it.
type serviceContext struct {
	id    string
	local group.Member
	svc   Service

	// elect asks this member to run an election, leaving out the
	// given members.
	elect func(exclude ...group.Member)

	mu      sync.Mutex
	running bool
	closed  bool
}

// start starts the service unless it is already running.
func (s *serviceContext) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errClosed
	}
	if s.running {
		return nil
	}
	if err := s.svc.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", s.id, err)
	}
	s.running = true
	primary.WithLabelValues(s.id).Set(1)
	return nil
}

// stop stops the service if it is running.
func (s *serviceContext) stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked()
}

func (s *serviceContext) stopLocked() error {
	if !s.running {
		return nil
	}
	s.running = false
	primary.WithLabelValues(s.id).Set(0)
	if err := s.svc.Stop(); err != nil {
		return fmt.Errorf("stopping %s: %w", s.id, err)
	}
	return nil
}

// close stops the service for good. Later StartCommands fail.
func (s *serviceContext) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return s.stopLocked()
}

func (s *serviceContext) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// value returns the singleton value, which only the primary has.
func (s *serviceContext) value() (interface{}, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	vs, ok := s.svc.(*valueService)
	if !ok {
		return nil, fmt.Errorf("%s is not a value singleton", s.id)
	}
	if !s.running {
		return nil, ErrNotPrimary
	}
	return vs.current, nil
}

// valueService is the Service behind a value singleton: starting it
// computes the value, stopping it forgets it.
type valueService struct {
	supplier func() (interface{}, error)
	current  interface{}
}

func (v *valueService) Start() error {
	value, err := v.supplier()
	if err != nil {
		return err
	}
	v.current = value
	return nil
}

func (v *valueService) Stop() error {
	v.current = nil
	return nil
}
