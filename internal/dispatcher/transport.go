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

	"clustercore.io/internal/group"
)

// Handler runs an inbound command against the local dispatcher
// registered under service. It returns ErrNoSuchService if there is
// none, and a *CommandError if the command failed.
type Handler func(service string, cmd Command) (interface{}, error)

// Transport moves commands between members.
//
// Transports make no ordering promise: two commands sent to the same
// member may run in either order, and may run concurrently.
type Transport interface {
	// Invoke runs cmd on member to and waits for the result. Failures
	// to get the command there, including ctx ending, are returned as
	// *DeliveryError; failures of the command itself as
	// *CommandError.
	Invoke(ctx context.Context, to group.Member, service string, cmd Command) (interface{}, error)

	// SetHandler installs the function that runs inbound commands.
	SetHandler(h Handler)
}
