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
	"fmt"

	"clustercore.io/internal/dispatcher"
	"clustercore.io/internal/group"
)

// StartCommand starts the singleton on the receiving member.
type StartCommand struct{}

func (StartCommand) Execute(ctx interface{}) (interface{}, error) {
	s, err := asService(ctx)
	if err != nil {
		return nil, err
	}
	return nil, s.start()
}

// StopCommand stops the singleton on the receiving member.
type StopCommand struct{}

func (StopCommand) Execute(ctx interface{}) (interface{}, error) {
	s, err := asService(ctx)
	if err != nil {
		return nil, err
	}
	return nil, s.stop()
}

// PrimaryProviderCommand asks the receiving member whether it is
// running the singleton.
type PrimaryProviderCommand struct{}

func (PrimaryProviderCommand) Execute(ctx interface{}) (interface{}, error) {
	s, err := asService(ctx)
	if err != nil {
		return nil, err
	}
	return s.isRunning(), nil
}

// SingletonValueCommand fetches the value of a value singleton from
// its primary.
type SingletonValueCommand struct{}

func (SingletonValueCommand) Execute(ctx interface{}) (interface{}, error) {
	s, err := asService(ctx)
	if err != nil {
		return nil, err
	}
	return s.value()
}

// ElectionCommand asks the receiving member to coordinate an
// election. Leaving names a member that is about to stop hosting the
// singleton and must not be elected.
type ElectionCommand struct {
	Leaving string
}

func (c ElectionCommand) Execute(ctx interface{}) (interface{}, error) {
	s, err := asService(ctx)
	if err != nil {
		return nil, err
	}
	if c.Leaving != "" {
		s.elect(group.Member(c.Leaving))
	} else {
		s.elect()
	}
	return nil, nil
}

func asService(ctx interface{}) (*serviceContext, error) {
	s, ok := ctx.(*serviceContext)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a singleton context", dispatcher.ErrInvalidArgument, ctx)
	}
	return s, nil
}

// RegisterCommands adds the singleton commands to table so that they
// can be sent between processes.
func RegisterCommands(table *dispatcher.CommandTable) error {
	commands := []struct {
		name  string
		proto dispatcher.Command
	}{
		{"singleton.start", StartCommand{}},
		{"singleton.stop", StopCommand{}},
		{"singleton.primary", PrimaryProviderCommand{}},
		{"singleton.value", SingletonValueCommand{}},
		{"singleton.elect", ElectionCommand{}},
	}
	for _, c := range commands {
		if err := table.Register(c.name, c.proto); err != nil {
			return err
		}
	}
	return nil
}
