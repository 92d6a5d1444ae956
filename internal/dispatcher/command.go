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
	"fmt"
)

// Command is a unit of work executed on a member against the context
// of that member's dispatcher.
type Command interface {
	Execute(ctx interface{}) (interface{}, error)
}

// CommandFunc adapts a function to a Command. The dispatcher context
// must be a C. CommandFuncs can't be encoded so they only work with
// in-process transports.
type CommandFunc[C any, R any] func(C) (R, error)

func (f CommandFunc[C, R]) Execute(ctx interface{}) (interface{}, error) {
	c, ok := ctx.(C)
	if !ok {
		return nil, fmt.Errorf("%w: context %T is not a %T", ErrInvalidArgument, ctx, *new(C))
	}
	return f(c)
}
