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
	"fmt"
	"sync"
)

// Future is the pending result of a command on one member. A Future
// is resolved exactly once; the first resolution wins.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value interface{}
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolved(value interface{}, err error) *Future {
	f := newFuture()
	f.complete(value, err)
	return f
}

// complete resolves the future. It returns false if the future had
// already been resolved.
func (f *Future) complete(value interface{}, err error) bool {
	won := false
	f.once.Do(func() {
		f.value = value
		f.err = err
		won = true
		close(f.done)
	})
	return won
}

// Done is closed when the future has been resolved.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Get waits for the result. If ctx ends first, ctx's error is
// returned and the future stays pending.
func (f *Future) Get(ctx context.Context) (interface{}, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Await waits for f and converts its value to R. A nil value yields
// R's zero value.
func Await[R any](ctx context.Context, f *Future) (R, error) {
	var zero R

	v, err := f.Get(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	r, ok := v.(R)
	if !ok {
		return zero, fmt.Errorf("%w: result %T is not a %T", ErrInvalidArgument, v, zero)
	}
	return r, nil
}
