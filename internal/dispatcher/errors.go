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
	"errors"
	"fmt"

	"clustercore.io/internal/group"
)

var (
	// ErrCancelled is the delivery failure reported when the target
	// member is not in the view, leaves it before replying, or the
	// dispatcher is closed while the command is outstanding.
	ErrCancelled = errors.New("command cancelled")

	// ErrUnreachable is the delivery failure reported when the
	// transport cannot get the command to the member.
	ErrUnreachable = errors.New("member unreachable")

	// ErrNoSuchService is the delivery failure reported when the
	// member has no dispatcher for the command's identifier.
	ErrNoSuchService = errors.New("no such service")

	// ErrInvalidArgument is the class of errors caused by bad input.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrRegistrationConflict is returned by Registry.Acquire when the
	// identifier is already bound to a different context.
	ErrRegistrationConflict = fmt.Errorf("%w: identifier is bound to a different context", ErrInvalidArgument)
)

// DeliveryError means that a command could not be run on Member.
type DeliveryError struct {
	Member group.Member
	Err    error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %v", e.Member, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}

// CommandError means that a command ran on Member and returned Err.
type CommandError struct {
	Member group.Member
	Err    error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command failed on %s: %v", e.Member, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsDeliveryError returns true if err says that a command could not
// be run, as opposed to a command that ran and failed.
func IsDeliveryError(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de)
}

// IsCancelled returns true if err is a delivery failure caused by the
// member not being (or no longer being) in the view.
func IsCancelled(err error) bool {
	return IsDeliveryError(err) && errors.Is(err, ErrCancelled)
}

func cancelled(m group.Member) error {
	return &DeliveryError{Member: m, Err: ErrCancelled}
}
