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
	"golang.org/x/sync/errgroup"
)

// Current yields a copy of the current value.
type Current struct{}

func (n *Current) Evaluate(st *Statement) (*Value, error) {
	return st.CurrentValue().Copy(), nil
}

// Ref yields a copy of a binding.
type Ref struct {
	Name string
}

func (n *Ref) Evaluate(st *Statement) (*Value, error) {
	v, err := st.Resolve(n.Name)
	if err != nil {
		return nil, err
	}
	return v.Copy(), nil
}

// Let binds a name in the current frame and yields the current value.
type Let struct {
	Name  string
	Value Node
}

func (n *Let) Evaluate(st *Statement) (*Value, error) {
	v, err := n.Value.Evaluate(st)
	if err != nil {
		return nil, err
	}
	st.Bind(n.Name, v)
	return st.CurrentValue().Copy(), nil
}

func target(st *Statement, n Node) (*Value, error) {
	if n == nil {
		return st.CurrentValue(), nil
	}
	return n.Evaluate(st)
}

// member evaluates a (possibly deferred) member with the container
// as the current value.
func member(st *Statement, container *Value, m Node) (*Value, error) {
	if v, is := m.(*Value); is && v.normal {
		return v.Copy(), nil
	}
	cst := st.Child()
	cst.SetCurrentValue(container)
	return m.Evaluate(cst)
}

// Access selects a property of an object.  Target defaults to the
// current value.  A missing property gives Empty.
type Access struct {
	Target Node
	Key    string
}

func (n *Access) Evaluate(st *Statement) (*Value, error) {
	x, err := target(st, n.Target)
	if err != nil {
		return nil, err
	}
	switch x.Kind {
	case KindObject:
		m, have := x.obj[n.Key]
		if !have {
			return Empty(), nil
		}
		return member(st, x, m)
	case KindError:
		if v, have := x.err.Object().Get(n.Key); have {
			return v, nil
		}
		return Empty(), nil
	case KindEmpty:
		return Empty(), nil
	}
	return nil, NewEvaluationError("not-an-object", "can't get %q from a %s", n.Key, x.Kind)
}

// Index selects an array element.  A negative index counts from the
// end.  Out-of-range gives Empty.
type Index struct {
	Target Node
	Index  int
}

func (n *Index) Evaluate(st *Statement) (*Value, error) {
	x, err := target(st, n.Target)
	if err != nil {
		return nil, err
	}
	switch x.Kind {
	case KindArray:
		i := n.Index
		if i < 0 {
			i += len(x.arr)
		}
		if i < 0 || len(x.arr) <= i {
			return Empty(), nil
		}
		return member(st, x, x.arr[i])
	case KindEmpty:
		return Empty(), nil
	}
	return nil, NewEvaluationError("not-an-array", "can't index a %s", x.Kind)
}

// Chain is a pipeline: each step's result becomes the current value
// for the next step.
//
// When a step fails, the error is raised on the context and the
// remaining steps are skipped up to the next Handled step.  If that
// step's condition holds, evaluation continues after it with the
// current value from before the failure.  Otherwise the error is
// returned.
type Chain struct {
	Steps []Node
}

func (n *Chain) Evaluate(st *Statement) (*Value, error) {
	cst := st.Child()
	for i := 0; i < len(n.Steps); i++ {
		step := n.Steps[i]
		if _, is := step.(*Handled); is {
			continue
		}

		prev := cst.CurrentValue()
		v, err := step.Evaluate(cst)
		if err == nil {
			cst.SetCurrentValue(v)
			continue
		}

		e := cst.raise(err)
		j := nextHandled(n.Steps, i+1)
		if j < 0 {
			return nil, e
		}
		handled, err := n.Steps[j].(*Handled).handle(cst, e)
		if err != nil {
			return nil, cst.raise(err)
		}
		if !handled {
			return nil, e
		}
		cst.SetCurrentValue(prev)
		i = j
	}
	return cst.CurrentValue(), nil
}

func nextHandled(steps []Node, from int) int {
	for i := from; i < len(steps); i++ {
		if _, is := steps[i].(*Handled); is {
			return i
		}
	}
	return -1
}

// Handled is the "mark handled" step of a Chain.
//
// The pending error is bound to "error" while the Condition is
// evaluated.  A nil Condition is true.  Outside of error handling,
// Handled passes the current value through.
type Handled struct {
	Condition Node
}

func (n *Handled) Evaluate(st *Statement) (*Value, error) {
	return st.CurrentValue().Copy(), nil
}

func (n *Handled) handle(st *Statement, e *Error) (bool, error) {
	cst := st.Child()
	cst.Bind("error", e.Value())
	ok := true
	if n.Condition != nil {
		v, err := n.Condition.Evaluate(cst)
		if err != nil {
			return false, err
		}
		ok = v.Truthy()
	}
	if !ok {
		return false, nil
	}
	st.SetErrorHandled(true)
	if ec := st.Exec(); ec != nil {
		ec.MarkHandled()
	}
	return true, nil
}

func evalArgs(st *Statement, ns []Node) ([]*Value, error) {
	acc := make([]*Value, len(ns))
	for i, n := range ns {
		v, err := n.Evaluate(st)
		if err != nil {
			return nil, err
		}
		acc[i] = v
	}
	return acc, nil
}

func lookup(st *Statement, name string) (*Function, error) {
	ec := st.Exec()
	if ec == nil {
		return nil, NewEvaluationError("detached", "can't call %s outside of a context", name)
	}
	f, have := ec.Functions.Lookup(name)
	if !have {
		return nil, NewFunctionError(Group(name), "function-not-found", "no function %s", name)
	}
	return f, nil
}

// Call calls a registered function.  Arguments are evaluated left to
// right against the current value.
type Call struct {
	Name string
	Args []Node
}

func (n *Call) Evaluate(st *Statement) (*Value, error) {
	f, err := lookup(st, n.Name)
	if err != nil {
		return nil, err
	}
	args, err := evalArgs(st, n.Args)
	if err != nil {
		return nil, err
	}
	return f.Call(st, args)
}

// Fn yields a reference to a function with optionally bound leading
// arguments.
type Fn struct {
	Name  string
	Bound []Node
}

func (n *Fn) Evaluate(st *Statement) (*Value, error) {
	bound, err := evalArgs(st, n.Bound)
	if err != nil {
		return nil, err
	}
	return FunctionRef(n.Name, bound...), nil
}

// Invoke calls the function that Ref evaluates to.
type Invoke struct {
	Ref  Node
	Args []Node
}

func (n *Invoke) Evaluate(st *Statement) (*Value, error) {
	r, err := n.Ref.Evaluate(st)
	if err != nil {
		return nil, err
	}
	if r.Kind != KindFunctionRef {
		return nil, NewEvaluationError("not-a-function", "can't invoke a %s", r.Kind)
	}
	f, err := lookup(st, r.fn.Name)
	if err != nil {
		return nil, err
	}
	args, err := evalArgs(st, n.Args)
	if err != nil {
		return nil, err
	}
	all := make([]*Value, 0, len(r.fn.Bound)+len(args))
	for _, b := range r.fn.Bound {
		all = append(all, b.Copy())
	}
	return f.Call(st, append(all, args...))
}

// Produce hands a value (by default the current value) to a named
// component and yields the component's result, or the current value
// if the component returns nothing.
type Produce struct {
	Component string
	Value     Node
}

func (n *Produce) Evaluate(st *Statement) (*Value, error) {
	ec := st.Exec()
	if ec == nil {
		return nil, NewEvaluationError("detached", "can't produce to %s outside of a context", n.Component)
	}
	c, have := ec.Component(n.Component)
	if !have {
		return nil, NewComponentError(n.Component, "not-found", "no component "+n.Component, nil)
	}
	v, err := target(st, n.Value)
	if err != nil {
		return nil, err
	}
	out, err := c.Produce(st.Context(), v.Copy())
	if err != nil {
		if e, is := err.(*Error); is {
			return nil, e
		}
		e := NewComponentError(n.Component, "exception", err.Error(), nil)
		e.Cause = err
		return nil, e
	}
	if out == nil {
		return st.CurrentValue().Copy(), nil
	}
	return out, nil
}

// Map evaluates Body for each element of Source (by default the
// current value), which must be an array or a stream.
//
// Each element is a deep copy and becomes the current value of its
// own frame, with "index" bound.  With Parallel, array elements are
// evaluated concurrently by up to Workers goroutines.  Shutdown of the
// context is checked before each element.
type Map struct {
	Source   Node
	Body     Node
	Parallel bool
}

func shutdownError(st *Statement) *Error {
	if ec := st.Exec(); ec != nil && ec.IsShutdown() {
		return &Error{
			Kind:    EvaluationError,
			Type:    "core:eval",
			Code:    "shutdown",
			Message: "context shut down during map",
			Cause:   ErrShutdown,
		}
	}
	if err := st.Context().Err(); err != nil {
		return &Error{
			Kind:    EvaluationError,
			Type:    "core:eval",
			Code:    "cancelled",
			Message: err.Error(),
			Cause:   err,
		}
	}
	return nil
}

func (n *Map) element(st *Statement, i int, x *Value) (*Value, error) {
	if e := shutdownError(st); e != nil {
		return nil, e
	}
	cst := st.Child()
	cst.SetCurrentValue(x.Copy())
	cst.Bind("index", NumP(float64(i), 0))
	return n.Body.Evaluate(cst)
}

func (n *Map) Evaluate(st *Statement) (*Value, error) {
	src, err := target(st, n.Source)
	if err != nil {
		return nil, err
	}

	switch src.Kind {
	case KindStream:
		acc := ArrayOf()
		for i := 0; ; i++ {
			x := src.stream.Next(st.Context())
			if x.Kind == KindEnd {
				break
			}
			v, err := n.element(st, i, x)
			if err != nil {
				return nil, err
			}
			acc.Append(v)
		}
		return acc, nil
	case KindArray:
	default:
		return nil, NewEvaluationError("not-an-array", "can't map over a %s", src.Kind)
	}

	xs := src.Elements()

	if !n.Parallel {
		acc := ArrayOf()
		for i, x := range xs {
			v, err := n.element(st, i, x)
			if err != nil {
				return nil, err
			}
			acc.Append(v)
		}
		return acc, nil
	}

	results := make([]*Value, len(xs))
	g, ctx := errgroup.WithContext(st.Context())
	g.SetLimit(Workers)
	for i, x := range xs {
		i, x := i, x.Copy()
		bst := st.WithContext(ctx)
		g.Go(func() error {
			v, err := n.element(bst, i, x)
			if err != nil {
				return err
			}
			results[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	acc := ArrayOf()
	for _, v := range results {
		acc.Append(v)
	}
	return acc, nil
}
