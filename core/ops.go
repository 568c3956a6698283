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
	"fmt"
	"math"
	"sync"
)

// OverrideFunc is a custom binding for an operator.
type OverrideFunc func(st *Statement, args []*Value) (*Value, error)

type overrideKey struct {
	op    string
	arity int
	a, b  Kind
}

// Overrides is the registry of custom operator bindings, keyed by
// operator and operand kinds.  KindAny matches any kind.
//
// Overrides are consulted before the built-in semantics.
type Overrides struct {
	sync.RWMutex
	m   map[overrideKey]OverrideFunc
	ops map[string]int
}

func NewOverrides() *Overrides {
	return &Overrides{
		m:   make(map[overrideKey]OverrideFunc),
		ops: make(map[string]int),
	}
}

// Bind installs an override for a unary (one kind) or binary (two
// kinds) operator.
func (o *Overrides) Bind(op string, f OverrideFunc, kinds ...Kind) error {
	var k overrideKey
	switch len(kinds) {
	case 1:
		k = overrideKey{op: op, arity: 1, a: boolKind(kinds[0])}
	case 2:
		k = overrideKey{op: op, arity: 2, a: boolKind(kinds[0]), b: boolKind(kinds[1])}
	default:
		return fmt.Errorf("override for %s needs one or two kinds, not %d", op, len(kinds))
	}
	o.Lock()
	if _, have := o.m[k]; !have {
		o.ops[op]++
	}
	o.m[k] = f
	o.Unlock()
	return nil
}

// has reports whether there's any override for the operator.
func (o *Overrides) has(op string) bool {
	if o == nil {
		return false
	}
	o.RLock()
	defer o.RUnlock()
	return 0 < o.ops[op]
}

// Lookup finds the most specific override for the operands.
func (o *Overrides) Lookup(op string, args ...*Value) (OverrideFunc, bool) {
	if o == nil {
		return nil, false
	}
	o.RLock()
	defer o.RUnlock()
	if o.ops[op] == 0 {
		return nil, false
	}
	switch len(args) {
	case 1:
		for _, k := range []Kind{boolKind(args[0].Kind), KindAny} {
			if f, have := o.m[overrideKey{op: op, arity: 1, a: k}]; have {
				return f, true
			}
		}
	case 2:
		a, b := boolKind(args[0].Kind), boolKind(args[1].Kind)
		for _, ks := range [][2]Kind{{a, b}, {a, KindAny}, {KindAny, b}, {KindAny, KindAny}} {
			if f, have := o.m[overrideKey{op: op, arity: 2, a: ks[0], b: ks[1]}]; have {
				return f, true
			}
		}
	}
	return nil, false
}

// boolKind maps KindFalse to KindTrue, so one override covers both
// booleans.
func boolKind(k Kind) Kind {
	if k == KindFalse {
		return KindTrue
	}
	return k
}

func overrides(st *Statement) *Overrides {
	if ec := st.Exec(); ec != nil {
		return ec.Overrides
	}
	return nil
}

// Unary applies "-" or "not" to its operand.
type Unary struct {
	Op      string
	Operand Node
}

func (n *Unary) Evaluate(st *Statement) (*Value, error) {
	x, err := n.Operand.Evaluate(st)
	if err != nil {
		return nil, err
	}
	if f, have := overrides(st).Lookup(n.Op, x); have {
		return f(st, []*Value{x})
	}
	switch n.Op {
	case "-":
		if x.Kind != KindNumber {
			return nil, mismatch(n.Op, x)
		}
		return NumP(-x.num.F, x.num.Precision), nil
	case "not", "!":
		return Bool(!x.Truthy()), nil
	}
	return nil, NewEvaluationError("unknown-operator", "unknown unary operator %q", n.Op)
}

// Binary applies an infix operator.
//
// "and" and "or" short-circuit unless an override exists for them.
type Binary struct {
	Op       string
	LHS, RHS Node
}

func (n *Binary) Evaluate(st *Statement) (*Value, error) {
	x, err := n.LHS.Evaluate(st)
	if err != nil {
		return nil, err
	}

	os := overrides(st)

	switch n.Op {
	case "and", "&&", "or", "||":
		if !os.has(n.Op) {
			t := x.Truthy()
			if (n.Op == "and" || n.Op == "&&") != t {
				return Bool(t), nil
			}
			y, err := n.RHS.Evaluate(st)
			if err != nil {
				return nil, err
			}
			return Bool(y.Truthy()), nil
		}
	}

	y, err := n.RHS.Evaluate(st)
	if err != nil {
		return nil, err
	}

	if f, have := os.Lookup(n.Op, x, y); have {
		return f(st, []*Value{x, y})
	}

	return Apply(n.Op, x, y)
}

// Apply gives the built-in semantics of a binary operator.
func Apply(op string, x, y *Value) (*Value, error) {
	switch op {
	case "=", "==":
		return Bool(Equal(x, y)), nil
	case "!=":
		return Bool(!Equal(x, y)), nil
	case "and", "&&":
		return Bool(x.Truthy() && y.Truthy()), nil
	case "or", "||":
		return Bool(x.Truthy() || y.Truthy()), nil
	case "<", "<=", ">", ">=":
		return compare(op, x, y)
	case "+":
		switch {
		case x.Kind == KindString && y.Kind == KindString:
			return String(x.str + y.str), nil
		case x.Kind == KindArray && y.Kind == KindArray:
			acc := ArrayOf()
			for _, n := range x.arr {
				acc.Append(copyNode(n))
			}
			for _, n := range y.arr {
				acc.Append(copyNode(n))
			}
			return acc, nil
		case x.Kind == KindObject && y.Kind == KindObject:
			acc := x.Copy()
			for _, k := range y.keys {
				acc.Put(k, copyNode(y.obj[k]))
			}
			return acc, nil
		}
	}

	if x.Kind != KindNumber || y.Kind != KindNumber {
		if isArith(op) {
			return nil, mismatch(op, x, y)
		}
		return nil, NewEvaluationError("unknown-operator", "unknown operator %q", op)
	}

	a, b := x.num.F, y.num.F
	p := CombinePrecision(x.num, y.num)
	switch op {
	case "+":
		return NumP(a+b, p), nil
	case "-":
		return NumP(a-b, p), nil
	case "*":
		return NumP(a*b, p), nil
	case "/":
		if b == 0 {
			return nil, NewEvaluationError("division-by-zero", "%s / 0", x)
		}
		return NumP(a/b, p), nil
	case "%":
		if b == 0 {
			return nil, NewEvaluationError("division-by-zero", "%s %% 0", x)
		}
		return NumP(math.Mod(a, b), p), nil
	}
	return nil, NewEvaluationError("unknown-operator", "unknown operator %q", op)
}

func isArith(op string) bool {
	switch op {
	case "+", "-", "*", "/", "%":
		return true
	}
	return false
}

func compare(op string, x, y *Value) (*Value, error) {
	var c int
	switch {
	case x.Kind == KindNumber && y.Kind == KindNumber:
		switch {
		case x.num.F < y.num.F:
			c = -1
		case x.num.F > y.num.F:
			c = 1
		}
	case x.Kind == KindString && y.Kind == KindString:
		switch {
		case x.str < y.str:
			c = -1
		case x.str > y.str:
			c = 1
		}
	default:
		return nil, mismatch(op, x, y)
	}
	switch op {
	case "<":
		return Bool(c < 0), nil
	case "<=":
		return Bool(c <= 0), nil
	case ">":
		return Bool(c > 0), nil
	default:
		return Bool(c >= 0), nil
	}
}

func mismatch(op string, vs ...*Value) *Error {
	kinds := make([]string, len(vs))
	for i, v := range vs {
		kinds[i] = v.Kind.String()
	}
	return NewEvaluationError("type-mismatch", "can't apply %s to %v", op, kinds)
}
