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
	"fmt"
	"sort"
	"strings"
	"sync"
)

// DefaultInterpreters will be used in FunctionSource.Compile if given
// nil interpreters.
var DefaultInterpreters = make(InterpretersMap)

// Func is the Go form of a function.
//
// The Statement gives access to the current value, the bindings and
// (via Exec) the ExecContext.
type Func func(st *Statement, args []*Value) (*Value, error)

// Function is a named, documented Func.
type Function struct {
	// Name is fully qualified: namespace:group:name.
	Name string

	Doc string

	F Func
}

// Group returns the "namespace:group" part of the name.
func (f *Function) Group() string {
	return Group(f.Name)
}

// Group returns the "namespace:group" part of a function name.
func Group(name string) string {
	if i := strings.LastIndexByte(name, ':'); 0 <= i {
		return name[:i]
	}
	return name
}

// Call calls the function.  Foreign errors and panics become
// FunctionErrors for the function's group.
func (f *Function) Call(st *Statement, args []*Value) (v *Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewFunctionError(f.Group(), "panic", "%s: %v", f.Name, r)
		}
	}()
	if v, err = f.F(st, args); err != nil {
		return nil, asGroupError(f.Group(), err)
	}
	if v == nil {
		v = Empty()
	}
	return v, nil
}

// checkName requires exactly three nonempty colon-delimited parts.
func checkName(name string) error {
	parts := strings.Split(name, ":")
	if len(parts) != 3 {
		return fmt.Errorf("function name %q isn't namespace:group:name", name)
	}
	for _, p := range parts {
		if p == "" {
			return fmt.Errorf("function name %q has an empty part", name)
		}
	}
	return nil
}

// Registry maps fully qualified names to Functions.
type Registry struct {
	sync.RWMutex
	fns     map[string]*Function
	modules map[string]*Registry
}

func NewRegistry() *Registry {
	return &Registry{
		fns:     make(map[string]*Function, 32),
		modules: make(map[string]*Registry),
	}
}

// Register adds (or replaces) a function.
func (r *Registry) Register(f *Function) error {
	if f == nil || f.F == nil {
		return fmt.Errorf("function has no implementation")
	}
	if err := checkName(f.Name); err != nil {
		return err
	}
	r.Lock()
	r.fns[f.Name] = f
	r.Unlock()
	return nil
}

// MustRegister panics if Register returns an error.
func (r *Registry) MustRegister(fs ...*Function) {
	for _, f := range fs {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
}

// Import makes the functions of another registry available under
// "module:namespace:group:name".
func (r *Registry) Import(module string, other *Registry) {
	r.Lock()
	r.modules[module] = other
	r.Unlock()
}

// Lookup finds a function by its fully qualified name, which might be
// prefixed by an imported module's name.
func (r *Registry) Lookup(name string) (*Function, bool) {
	r.RLock()
	f, have := r.fns[name]
	if have {
		r.RUnlock()
		return f, true
	}
	var (
		module *Registry
		rest   string
	)
	if i := strings.IndexByte(name, ':'); 0 < i {
		module = r.modules[name[:i]]
		rest = name[i+1:]
	}
	r.RUnlock()

	if module == nil {
		return nil, false
	}
	return module.Lookup(rest)
}

// List returns all function names, including those of imported
// modules prefixed by the module's name, sorted lexicographically.
func (r *Registry) List() []string {
	r.RLock()
	acc := make([]string, 0, len(r.fns))
	for name := range r.fns {
		acc = append(acc, name)
	}
	modules := make(map[string]*Registry, len(r.modules))
	for m, other := range r.modules {
		modules[m] = other
	}
	r.RUnlock()

	for m, other := range modules {
		for _, name := range other.List() {
			acc = append(acc, m+":"+name)
		}
	}
	sort.Strings(acc)
	return acc
}

// Functions returns the local functions ordered by name.
func (r *Registry) Functions() []*Function {
	r.RLock()
	acc := make([]*Function, 0, len(r.fns))
	for _, f := range r.fns {
		acc = append(acc, f)
	}
	r.RUnlock()
	sort.Slice(acc, func(i, j int) bool { return acc[i].Name < acc[j].Name })
	return acc
}

// Interpreter compiles function source into a Func.
type Interpreter interface {
	Compile(ctx context.Context, src interface{}) (Func, error)
}

// InterpretersMap maps interpreter names to Interpreters.
type InterpretersMap map[string]Interpreter

// FunctionSource can be compiled to a Function.
type FunctionSource struct {
	Interpreter string      `json:"interpreter,omitempty" yaml:",omitempty"`
	Source      interface{} `json:"source"`
	Doc         string      `json:"doc,omitempty" yaml:",omitempty"`
}

// Compile attempts to compile the FunctionSource using the given
// interpreters, which defaults to DefaultInterpreters.
func (s *FunctionSource) Compile(ctx context.Context, name string, interpreters InterpretersMap) (*Function, error) {
	if interpreters == nil {
		interpreters = DefaultInterpreters
	}

	interpreter, have := interpreters[s.Interpreter]
	if !have {
		return nil, InterpreterNotFound
	}

	f, err := interpreter.Compile(ctx, s.Source)
	if err != nil {
		return nil, err
	}

	return &Function{
		Name: name,
		Doc:  s.Doc,
		F:    f,
	}, nil
}
