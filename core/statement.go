/* Copyright 2019 Comcast Cable Communications Management, LLC
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package core

import (
	"context"
)

// Statement is a scope frame.
//
// A Statement threads the current value and variable bindings
// through the evaluation of a program.  Statements form a tree that
// mirrors the program: a child's failed lookups fall back to its
// parent.
//
// A Statement isn't safe for concurrent use.  Concurrent branches
// each get their own child Statement.
type Statement struct {
	current      *Value
	bindings     map[string]*Value
	errorHandled bool
	parent       *Statement

	handle Handle
	arena  *Arena
	ctx    context.Context
}

// NewStatement makes a root Statement for the ExecContext with the
// given handle.
func NewStatement(ctx context.Context, arena *Arena, h Handle, current *Value) *Statement {
	if ctx == nil {
		ctx = context.Background()
	}
	if current == nil {
		current = Empty()
	}
	return &Statement{
		current: current,
		handle:  h,
		arena:   arena,
		ctx:     ctx,
	}
}

// CurrentValue returns the value being operated on.
func (st *Statement) CurrentValue() *Value {
	if st.current == nil {
		return Empty()
	}
	return st.current
}

// SetCurrentValue sets the value being operated on.
func (st *Statement) SetCurrentValue(v *Value) {
	if v == nil {
		v = Empty()
	}
	st.current = v
}

// Resolve searches this frame and then the parent chain.
func (st *Statement) Resolve(name string) (*Value, error) {
	for s := st; s != nil; s = s.parent {
		if v, have := s.bindings[name]; have {
			return v, nil
		}
	}
	return nil, NewBindingNotFound(name)
}

// Bind adds a binding to this frame.
func (st *Statement) Bind(name string, v *Value) {
	if st.bindings == nil {
		st.bindings = make(map[string]*Value, 4)
	}
	st.bindings[name] = v
}

// Bindings returns a copy of all visible bindings, with inner frames
// shadowing outer ones.
func (st *Statement) Bindings() map[string]*Value {
	acc := make(map[string]*Value, 8)
	for s := st; s != nil; s = s.parent {
		for k, v := range s.bindings {
			if _, have := acc[k]; !have {
				acc[k] = v
			}
		}
	}
	return acc
}

func (st *Statement) SetErrorHandled(handled bool) {
	st.errorHandled = handled
}

func (st *Statement) ErrorHandled() bool {
	return st.errorHandled
}

// Child makes a new frame.  The child's current value is a copy of
// this frame's current value, so nothing the child does to it is
// visible here.
func (st *Statement) Child() *Statement {
	return &Statement{
		current: st.CurrentValue().Copy(),
		parent:  st,
		handle:  st.handle,
		arena:   st.arena,
		ctx:     st.ctx,
	}
}

// Fresh makes a new root frame for the same ExecContext with the
// given current value.
func (st *Statement) Fresh(current *Value) *Statement {
	return NewStatement(st.ctx, st.arena, st.handle, current)
}

// Handle returns the handle of the owning ExecContext.
func (st *Statement) Handle() Handle {
	return st.handle
}

// Exec resolves the handle of the owning ExecContext.
//
// Returns nil if the Statement is detached or the ExecContext has
// been released.
func (st *Statement) Exec() *ExecContext {
	if st.arena == nil {
		return nil
	}
	ec, _ := st.arena.Get(st.handle)
	return ec
}

// Context returns the context.Context for blocking operations.
func (st *Statement) Context() context.Context {
	return st.ctx
}

// WithContext returns a shallow copy of the frame using the given
// context.
func (st *Statement) WithContext(ctx context.Context) *Statement {
	acc := *st
	acc.ctx = ctx
	return &acc
}

// raise attaches the error to the owning ExecContext (if any) and
// returns its typed form.
func (st *Statement) raise(err error) *Error {
	e := AsError(err)
	if ec := st.Exec(); ec != nil {
		ec.Raise(e)
	}
	return e
}
