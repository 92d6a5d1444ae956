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
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/hashicorp/go-msgpack/codec"
)

// ErrUnknownCommand is returned when a command type or name is not in
// the CommandTable.
var ErrUnknownCommand = errors.New("unknown command")

// CommandTable names the command types that can be sent between
// processes. The table is built explicitly at startup; both ends of a
// transport must register the same names.
type CommandTable struct {
	mu     sync.RWMutex
	byName map[string]commandType
	byType map[reflect.Type]string
}

type commandType struct {
	typ reflect.Type // element type when ptr is true
	ptr bool
}

// NewCommandTable returns an empty table.
func NewCommandTable() *CommandTable {
	return &CommandTable{
		byName: map[string]commandType{},
		byType: map[reflect.Type]string{},
	}
}

// Register adds proto's type to the table under name. Commands are
// encoded with msgpack so only exported fields travel.
func (t *CommandTable) Register(name string, proto Command) error {
	if name == "" || proto == nil {
		return fmt.Errorf("%w: command needs a name and a prototype", ErrInvalidArgument)
	}

	typ := reflect.TypeOf(proto)
	ct := commandType{typ: typ}
	if typ.Kind() == reflect.Ptr {
		ct = commandType{typ: typ.Elem(), ptr: true}
	}
	if ct.typ.Kind() == reflect.Func || ct.typ.Kind() == reflect.Chan {
		return fmt.Errorf("%w: %s commands can't be encoded", ErrInvalidArgument, ct.typ.Kind())
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byName[name]; exists {
		return fmt.Errorf("%w: command %q is already registered", ErrInvalidArgument, name)
	}
	if existing, exists := t.byType[typ]; exists {
		return fmt.Errorf("%w: %s is already registered as %q", ErrInvalidArgument, typ, existing)
	}
	t.byName[name] = ct
	t.byType[typ] = name

	return nil
}

// MustRegister is Register for use during initialization. It panics
// on error.
func (t *CommandTable) MustRegister(name string, proto Command) {
	if err := t.Register(name, proto); err != nil {
		panic(err)
	}
}

// Encode returns the name and msgpack payload of cmd.
func (t *CommandTable) Encode(cmd Command) (string, []byte, error) {
	t.mu.RLock()
	name, ok := t.byType[reflect.TypeOf(cmd)]
	t.mu.RUnlock()
	if !ok {
		return "", nil, fmt.Errorf("%w: %T", ErrUnknownCommand, cmd)
	}

	payload, err := encode(cmd)
	if err != nil {
		return "", nil, fmt.Errorf("encoding %q: %w", name, err)
	}
	return name, payload, nil
}

// Decode rebuilds the command registered as name from payload.
func (t *CommandTable) Decode(name string, payload []byte) (Command, error) {
	t.mu.RLock()
	ct, ok := t.byName[name]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
	}

	v := reflect.New(ct.typ)
	if err := decode(payload, v.Interface()); err != nil {
		return nil, fmt.Errorf("decoding %q: %w", name, err)
	}
	if ct.ptr {
		return v.Interface().(Command), nil
	}
	return v.Elem().Interface().(Command), nil
}

func msgpackHandle() *codec.MsgpackHandle {
	return &codec.MsgpackHandle{RawToString: true}
}

func encode(in interface{}) ([]byte, error) {
	var buf bytes.Buffer
	err := codec.NewEncoder(&buf, msgpackHandle()).Encode(in)
	return buf.Bytes(), err
}

func decode(buf []byte, out interface{}) error {
	return codec.NewDecoder(bytes.NewReader(buf), msgpackHandle()).Decode(out)
}
