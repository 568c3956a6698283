/* Copyright 2018 Comcast Cable Communications Management, LLC
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

package match

import (
	"fmt"
	"strings"

	"github.com/Comcast/jsonpipe/core"
)

func init() {
	core.RegisterNodeDecoder("match", Decode)
}

// Node matches its Pattern against Target (by default the current
// value).
//
// Without All, Node yields true or false.  On a match, the variables
// of the first set of bindings are bound in the Statement without
// their leading '?', so {"name":"?who"} binds "who".
//
// With All, Node yields an array of all sets of bindings (as objects
// keyed by the variables).
type Node struct {
	Pattern *core.Value
	Target  core.Node

	// Given, if not nil, gives an object of initial bindings.
	Given core.Node

	All bool

	// Matcher defaults to DefaultMatcher.
	Matcher *Matcher
}

func (n *Node) Evaluate(st *core.Statement) (*core.Value, error) {
	f := st.CurrentValue()
	if n.Target != nil {
		x, err := n.Target.Evaluate(st)
		if err != nil {
			return nil, err
		}
		f = x
	}

	bs := NewBindings()
	if n.Given != nil {
		g, err := n.Given.Evaluate(st)
		if err != nil {
			return nil, err
		}
		if g.Kind != core.KindObject {
			return nil, core.NewEvaluationError("bad-bindings", "match bindings are a %s, not an object", g.Kind)
		}
		for _, k := range g.Keys() {
			v, _ := g.Get(k)
			bs[k] = v
		}
	}

	m := n.Matcher
	if m == nil {
		m = DefaultMatcher
	}

	bss, err := m.Match(n.Pattern, f, bs)
	if err != nil {
		return nil, core.NewEvaluationError("bad-pattern", "%s", err.Error())
	}

	if n.All {
		acc := core.ArrayOf()
		for _, bs := range bss {
			acc.Append(bs.Object())
		}
		return acc, nil
	}

	if len(bss) == 0 {
		return core.False(), nil
	}
	for k, v := range bss[0] {
		if name := strings.TrimLeft(k, "?"); name != "" {
			st.Bind(name, v.Copy())
		}
	}
	return core.True(), nil
}

// Decode makes a Node from {"match":P, "of":N, "given":N, "all":B}.
// The pattern P is taken literally.
func Decode(x interface{}, doc map[string]interface{}) (core.Node, error) {
	p, err := core.FromInterface(x)
	if err != nil {
		return nil, err
	}
	n := &Node{
		Pattern: p,
	}
	if y, have := doc["of"]; have {
		if n.Target, err = core.DecodeNode(y); err != nil {
			return nil, err
		}
	}
	if y, have := doc["given"]; have {
		if n.Given, err = core.DecodeNode(y); err != nil {
			return nil, err
		}
	}
	if y, have := doc["all"]; have {
		b, is := y.(bool)
		if !is {
			return nil, fmt.Errorf("match all should be a bool, not a %T", y)
		}
		n.All = b
	}
	return n, nil
}
