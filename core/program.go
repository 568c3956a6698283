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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jsccast/yaml"
)

// Program is the document form of a program.
//
// Steps are node documents (see DecodeNode) that make up a Chain.
type Program struct {
	Name    string `json:"name,omitempty" yaml:",omitempty"`
	Version string `json:"version,omitempty" yaml:",omitempty"`
	Doc     string `json:"doc,omitempty" yaml:",omitempty"`

	Steps []interface{} `json:"steps" yaml:"steps"`

	// Functions maps fully qualified names to sources for an
	// Interpreter.
	Functions map[string]*FunctionSource `json:"functions,omitempty" yaml:",omitempty"`

	Aggregates map[string]*AggregateSource `json:"aggregates,omitempty" yaml:",omitempty"`

	// Overrides are custom operator bindings implemented by
	// functions.
	Overrides []*OverrideSource `json:"overrides,omitempty" yaml:",omitempty"`

	Signal *SignalSource `json:"signal,omitempty" yaml:",omitempty"`

	root       Node
	functions  []*Function
	aggregates map[string]*AggregateDef
	signal     *SignalService
	compiled   bool
}

// AggregateSource is the document form of an AggregateDef.
type AggregateSource struct {
	// Timeout is a duration string ("2s").
	Timeout string      `json:"timeout,omitempty" yaml:",omitempty"`
	Initial interface{} `json:"initial,omitempty" yaml:",omitempty"`
	Combine interface{} `json:"combine,omitempty" yaml:",omitempty"`
	Result  interface{} `json:"result,omitempty" yaml:",omitempty"`
	Output  bool        `json:"output,omitempty" yaml:",omitempty"`
}

// SignalSource is the document form of a SignalService.
type SignalSource struct {
	Interval string `json:"interval,omitempty" yaml:",omitempty"`
	Cron     string `json:"cron,omitempty" yaml:",omitempty"`
}

// OverrideSource binds an operator for the given operand kinds to a
// function.  Kinds are names like "string", "number" or "any".
type OverrideSource struct {
	Op       string   `json:"op"`
	Kinds    []string `json:"kinds"`
	Function string   `json:"function"`
}

// ParseProgram parses JSON (if the first non-space byte is '{') or
// YAML.  JSON numbers keep their written precision.
func ParseProgram(bs []byte) (*Program, error) {
	bs = bytes.TrimSpace(bs)
	if len(bs) == 0 {
		return nil, errors.New("program source is empty")
	}
	var p Program
	switch bs[0] {
	case '{':
		d := json.NewDecoder(bytes.NewReader(bs))
		d.UseNumber()
		if err := d.Decode(&p); err != nil {
			return nil, err
		}
	default:
		if err := yaml.Unmarshal(bs, &p); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

// Root returns the compiled program.
func (p *Program) Root() Node {
	return p.root
}

// Compile decodes the steps, compiles the functions, and checks the
// aggregates, overrides, and signal.
//
// Functions are compiled with the given interpreters, which default
// to DefaultInterpreters.
func (p *Program) Compile(ctx context.Context, interpreters InterpretersMap, force bool) error {
	if p.compiled && !force {
		return nil
	}

	steps := make([]Node, 0, len(p.Steps))
	for i, x := range p.Steps {
		n, err := DecodeNode(x)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, n)
	}
	p.root = &Chain{Steps: steps}

	names := make([]string, 0, len(p.Functions))
	for name := range p.Functions {
		names = append(names, name)
	}
	sort.Strings(names)
	p.functions = make([]*Function, 0, len(names))
	for _, name := range names {
		if err := checkName(name); err != nil {
			return err
		}
		f, err := p.Functions[name].Compile(ctx, name, interpreters)
		if err != nil {
			return fmt.Errorf("function %s: %w", name, err)
		}
		p.functions = append(p.functions, f)
	}

	p.aggregates = make(map[string]*AggregateDef, len(p.Aggregates))
	for id, src := range p.Aggregates {
		def, err := src.compile()
		if err != nil {
			return fmt.Errorf("aggregate %s: %w", id, err)
		}
		p.aggregates[id] = def
	}

	for _, o := range p.Overrides {
		if len(o.Kinds) < 1 || 2 < len(o.Kinds) {
			return fmt.Errorf("override %s needs one or two kinds", o.Op)
		}
		for _, k := range o.Kinds {
			if _, err := ParseKind(k); err != nil {
				return fmt.Errorf("override %s: %w", o.Op, err)
			}
		}
	}

	p.signal = nil
	if p.Signal != nil {
		s := &SignalService{}
		if p.Signal.Interval != "" {
			d, err := time.ParseDuration(p.Signal.Interval)
			if err != nil {
				return fmt.Errorf("signal interval: %w", err)
			}
			s.Interval = d
		}
		if p.Signal.Cron != "" {
			c, err := ParseSchedule(p.Signal.Cron)
			if err != nil {
				return fmt.Errorf("signal cron: %w", err)
			}
			s.Schedule = c
		}
		p.signal = s
	} else if 0 < len(p.aggregates) {
		p.signal = &SignalService{Interval: DefaultHeartbeat}
	}

	p.compiled = true
	return nil
}

func (src *AggregateSource) compile() (*AggregateDef, error) {
	def := &AggregateDef{
		Output: src.Output,
	}
	if src.Timeout != "" {
		d, err := time.ParseDuration(src.Timeout)
		if err != nil {
			return nil, err
		}
		def.Timeout = d
	}
	if src.Initial != nil {
		v, err := FromInterface(src.Initial)
		if err != nil {
			return nil, err
		}
		def.Initial = v
	}
	var err error
	if src.Combine != nil {
		if def.Combine, err = DecodeNode(src.Combine); err != nil {
			return nil, err
		}
	}
	if src.Result != nil {
		if def.Result, err = DecodeNode(src.Result); err != nil {
			return nil, err
		}
	}
	return def, nil
}

// NewContext makes an ExecContext for this (compiled) program.
func (p *Program) NewContext(arena *Arena, id string) (*ExecContext, error) {
	if !p.compiled {
		return nil, errors.New("program isn't compiled")
	}

	ec := NewExecContext(arena, id)
	ec.Program = p.root

	for _, f := range p.functions {
		if err := ec.Functions.Register(f); err != nil {
			return nil, err
		}
	}

	for id, def := range p.aggregates {
		a := ec.DefineAggregate(id, def)
		if def.Output {
			a.Subscribe(func(ctx context.Context, id, key string, v *Value) {
				out := NewObject().
					Put("aggregate", String(id)).
					Put("key", String(key)).
					Put("result", v)
				if err := ec.OutputResult(ctx, out); err != nil {
					ec.logf("Aggregate %s output error %s", id, err)
				}
			})
		}
	}

	for _, o := range p.Overrides {
		kinds := make([]Kind, len(o.Kinds))
		for i, k := range o.Kinds {
			kinds[i], _ = ParseKind(k)
		}
		name := o.Function
		f := func(st *Statement, args []*Value) (*Value, error) {
			fn, err := lookup(st, name)
			if err != nil {
				return nil, err
			}
			return fn.Call(st, args)
		}
		if err := ec.Overrides.Bind(o.Op, f, kinds...); err != nil {
			return nil, err
		}
	}

	if p.signal != nil {
		s := *p.signal
		ec.Signal = &s
	}

	return ec, nil
}

// NodeDecoder makes a Node from the value of its document key.
type NodeDecoder func(x interface{}, doc map[string]interface{}) (Node, error)

var (
	decodersMu sync.RWMutex
	decoders   = make(map[string]NodeDecoder)
)

// RegisterNodeDecoder adds a decoder for documents with the given key.
func RegisterNodeDecoder(key string, d NodeDecoder) {
	decodersMu.Lock()
	decoders[key] = d
	decodersMu.Unlock()
}

func stringMap(x interface{}) (map[string]interface{}, bool) {
	switch vv := x.(type) {
	case map[string]interface{}:
		return vv, true
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, v := range vv {
			s, is := k.(string)
			if !is {
				return nil, false
			}
			m[s] = v
		}
		return m, true
	}
	return nil, false
}

func toInt(x interface{}) (int, error) {
	switch vv := x.(type) {
	case int:
		return vv, nil
	case int64:
		return int(vv), nil
	case float64:
		return int(vv), nil
	case json.Number:
		n, err := vv.Int64()
		return int(n), err
	}
	return 0, fmt.Errorf("%v (%T) isn't an integer", x, x)
}

func decodeNodes(x interface{}) ([]Node, error) {
	if x == nil {
		return nil, nil
	}
	xs, is := x.([]interface{})
	if !is {
		return nil, fmt.Errorf("expected an array, not a %T", x)
	}
	acc := make([]Node, len(xs))
	for i, y := range xs {
		n, err := DecodeNode(y)
		if err != nil {
			return nil, err
		}
		acc[i] = n
	}
	return acc, nil
}

func optNode(m map[string]interface{}, key string) (Node, error) {
	x, have := m[key]
	if !have {
		return nil, nil
	}
	return DecodeNode(x)
}

func str(x interface{}) (string, error) {
	s, is := x.(string)
	if !is {
		return "", fmt.Errorf("expected a string, not a %T", x)
	}
	return s, nil
}

// DecodeNode makes a Node from a node document.
//
// Scalars are literals.  Arrays are arrays of nodes.  Objects are
// node forms identified by a key: lit, current, ref, let, get, index,
// chain, handled, op, call, fn, invoke, produce, map, aggregate,
// object, array, plus any registered with RegisterNodeDecoder.
func DecodeNode(x interface{}) (Node, error) {
	if xs, is := x.([]interface{}); is {
		ns, err := decodeNodes(xs)
		if err != nil {
			return nil, err
		}
		return ArrayOf(ns...), nil
	}

	m, is := stringMap(x)
	if !is {
		return literal(x)
	}

	switch {
	case has(m, "lit"):
		return literal(m["lit"])

	case has(m, "current"):
		return &Current{}, nil

	case has(m, "ref"):
		name, err := str(m["ref"])
		if err != nil {
			return nil, err
		}
		return &Ref{Name: name}, nil

	case has(m, "let"):
		name, err := str(m["let"])
		if err != nil {
			return nil, err
		}
		v, err := optNode(m, "value")
		if err != nil {
			return nil, err
		}
		if v == nil {
			v = &Current{}
		}
		return &Let{Name: name, Value: v}, nil

	case has(m, "get"):
		key, err := str(m["get"])
		if err != nil {
			return nil, err
		}
		of, err := optNode(m, "of")
		if err != nil {
			return nil, err
		}
		return &Access{Target: of, Key: key}, nil

	case has(m, "index"):
		i, err := toInt(m["index"])
		if err != nil {
			return nil, err
		}
		of, err := optNode(m, "of")
		if err != nil {
			return nil, err
		}
		return &Index{Target: of, Index: i}, nil

	case has(m, "chain"):
		steps, err := decodeNodes(m["chain"])
		if err != nil {
			return nil, err
		}
		return &Chain{Steps: steps}, nil

	case has(m, "handled"):
		var cond Node
		if b, is := m["handled"].(bool); !is || !b {
			var err error
			if cond, err = DecodeNode(m["handled"]); err != nil {
				return nil, err
			}
		}
		return &Handled{Condition: cond}, nil

	case has(m, "op"):
		return decodeOp(m)

	case has(m, "call"):
		name, err := str(m["call"])
		if err != nil {
			return nil, err
		}
		args, err := decodeNodes(m["args"])
		if err != nil {
			return nil, err
		}
		return &Call{Name: name, Args: args}, nil

	case has(m, "fn"):
		name, err := str(m["fn"])
		if err != nil {
			return nil, err
		}
		bound, err := decodeNodes(m["bind"])
		if err != nil {
			return nil, err
		}
		return &Fn{Name: name, Bound: bound}, nil

	case has(m, "invoke"):
		ref, err := DecodeNode(m["invoke"])
		if err != nil {
			return nil, err
		}
		args, err := decodeNodes(m["args"])
		if err != nil {
			return nil, err
		}
		return &Invoke{Ref: ref, Args: args}, nil

	case has(m, "produce"):
		name, err := str(m["produce"])
		if err != nil {
			return nil, err
		}
		v, err := optNode(m, "value")
		if err != nil {
			return nil, err
		}
		return &Produce{Component: name, Value: v}, nil

	case has(m, "map"):
		body, err := DecodeNode(m["map"])
		if err != nil {
			return nil, err
		}
		src, err := optNode(m, "over")
		if err != nil {
			return nil, err
		}
		parallel, _ := m["parallel"].(bool)
		return &Map{Source: src, Body: body, Parallel: parallel}, nil

	case has(m, "aggregate"):
		id, err := str(m["aggregate"])
		if err != nil {
			return nil, err
		}
		key, err := optNode(m, "key")
		if err != nil {
			return nil, err
		}
		v, err := optNode(m, "value")
		if err != nil {
			return nil, err
		}
		return &Aggregate{ID: id, Key: key, Value: v}, nil

	case has(m, "object"):
		props, is := stringMap(m["object"])
		if !is {
			return nil, fmt.Errorf("object needs a map, not a %T", m["object"])
		}
		ks := make([]string, 0, len(props))
		for k := range props {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		acc := NewObject()
		for _, k := range ks {
			n, err := DecodeNode(props[k])
			if err != nil {
				return nil, fmt.Errorf("property %s: %w", k, err)
			}
			acc.Put(k, n)
		}
		return acc, nil

	case has(m, "array"):
		ns, err := decodeNodes(m["array"])
		if err != nil {
			return nil, err
		}
		return ArrayOf(ns...), nil
	}

	decodersMu.RLock()
	defer decodersMu.RUnlock()
	for k, d := range decoders {
		if x, have := m[k]; have {
			return d(x, m)
		}
	}

	ks := make([]string, 0, len(m))
	for k := range m {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return nil, fmt.Errorf("unknown node with keys %s", strings.Join(ks, ","))
}

func literal(x interface{}) (Node, error) {
	v, err := FromInterface(x)
	if err != nil {
		return nil, err
	}
	return v, nil
}

func has(m map[string]interface{}, k string) bool {
	_, have := m[k]
	return have
}

func decodeOp(m map[string]interface{}) (Node, error) {
	op, err := str(m["op"])
	if err != nil {
		return nil, err
	}
	args, err := decodeNodes(m["args"])
	if err != nil {
		return nil, err
	}
	switch len(args) {
	case 0:
		return nil, fmt.Errorf("operator %s has no arguments", op)
	case 1:
		return &Unary{Op: op, Operand: args[0]}, nil
	}
	var n Node = &Binary{Op: op, LHS: args[0], RHS: args[1]}
	for _, arg := range args[2:] {
		n = &Binary{Op: op, LHS: n, RHS: arg}
	}
	return n, nil
}
