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

// Package match implements a pattern matcher for Values.
//
// A pattern is a Value.  Strings starting with '?' are pattern
// variables.  An object pattern matches any object that has at least
// the pattern's properties (with matching values).  An array pattern
// is a set: each element must match a distinct element of the fact.
package match

import (
	"errors"
	"sort"
	"strings"

	"github.com/Comcast/jsonpipe/core"
)

type Matcher struct {
	// AllowPropertyVariables enables a property variable in a
	// pattern that contains only one property.
	AllowPropertyVariables bool

	// Inequalities turns on binding inequalities.
	//
	// The input bindings should include a binding for a variable
	// with a name that contains either "<", ">", "<=", ">=", or
	// "!=" immediately after the leading "?".  A number X will
	// match that variable only if the binding Y satisfies the
	// inequality with X and Y (in that order).  The output
	// bindings then include X for the same name without the
	// inequality.
	//
	// For example, given input bindings {"?<n":10}, pattern
	// {"n":"?<n"}, and fact {"n":3}, the match will succeed with
	// bindings {"?<n":10,"?n":3}.
	Inequalities bool
}

var DefaultMatcher = &Matcher{
	AllowPropertyVariables: true,
	Inequalities:           true,
}

// Bindings is a map from variables (strings starting with a '?') to
// their values.
type Bindings map[string]*core.Value

func NewBindings() Bindings {
	return make(Bindings, 8)
}

// Extend adds the property; modifies and returns the Bindings.
func (bs Bindings) Extend(p string, v *core.Value) Bindings {
	bs[p] = v
	return bs
}

// Copy makes a shallow copy of the Bindings.
func (bs Bindings) Copy() Bindings {
	acc := make(Bindings, len(bs))
	for k, v := range bs {
		acc[k] = v
	}
	return acc
}

// Object renders the Bindings as an object with sorted keys.
func (bs Bindings) Object() *core.Value {
	ks := make([]string, 0, len(bs))
	for k := range bs {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	acc := core.NewObject()
	for _, k := range ks {
		acc.Put(k, bs[k].Copy())
	}
	return acc
}

// IsVariable reports if the string represents a pattern variable.
//
// All pattern variables start with a '?".
func (m *Matcher) IsVariable(s string) bool {
	return strings.HasPrefix(s, "?")
}

func (m *Matcher) IsOptionalVariable(v *core.Value) bool {
	return v.Kind == core.KindString && strings.HasPrefix(v.Str(), "??")
}

// IsAnonymousVariable detects a variable of the form '?'.  A binding
// for an anonymous variable never makes it into bindings.
func (m *Matcher) IsAnonymousVariable(s string) bool {
	return s == "?"
}

func (m *Matcher) isVar(v *core.Value) bool {
	return v.Kind == core.KindString && m.IsVariable(v.Str())
}

// Matches attempts to match the given fact with the given pattern.
//
// Note that this function returns multiple (sets of) bindings.  This
// ambiguity is introduced when a pattern contains an array that
// contains a variable or a structured element.
func (m *Matcher) Matches(pattern, fact *core.Value) ([]Bindings, error) {
	return m.Match(pattern, fact, NewBindings())
}

// Match is a version of Matches that takes initial bindings.
//
// Those initial bindings are not modified.
func (m *Matcher) Match(pattern, fact *core.Value, bs Bindings) ([]Bindings, error) {
	if bs == nil {
		bs = NewBindings()
	}
	return m.match(pattern, fact, bs.Copy())
}

// match can modify the given bindings.
func (m *Matcher) match(p, f *core.Value, bs Bindings) ([]Bindings, error) {
	if p == nil || f == nil {
		return nil, errors.New("nil pattern or fact")
	}

	switch p.Kind {
	case core.KindEmpty, core.KindTrue, core.KindFalse:
		if p.Kind == f.Kind {
			return []Bindings{bs}, nil
		}
		return nil, nil

	case core.KindNumber:
		if f.Kind == core.KindNumber && p.Float() == f.Float() {
			return []Bindings{bs}, nil
		}
		return nil, nil

	case core.KindString:
		s := p.Str()
		if !m.IsVariable(s) {
			if f.Kind == core.KindString && f.Str() == s {
				return []Bindings{bs}, nil
			}
			return nil, nil
		}
		if m.IsAnonymousVariable(s) {
			return []Bindings{bs}, nil
		}
		if using, bss := m.inequal(f, bs, s); using {
			return bss, nil
		}
		if b, found := bs[s]; found {
			if core.Equal(b, f) {
				return []Bindings{bs}, nil
			}
			return nil, nil
		}
		bs[s] = f.Copy()
		return []Bindings{bs}, nil

	case core.KindObject:
		if f.Kind != core.KindObject {
			return nil, nil
		}
		return m.mapcatMatch([]Bindings{bs}, p, f)

	case core.KindArray:
		if f.Kind != core.KindArray {
			return nil, nil
		}
		return m.arrayMatch(bs, p, f)
	}

	return nil, &UnknownPatternType{p}
}

func (m *Matcher) matchWithBindingss(bss []Bindings, p, f *core.Value) ([]Bindings, error) {
	acc := make([]Bindings, 0, len(bss))
	for _, bs := range bss {
		matches, err := m.match(p, f, bs.Copy())
		if err != nil {
			return nil, err
		}
		acc = append(acc, matches...)
	}
	return acc, nil
}

// mapcatMatch extends the given bindingss based on pair-wise matching
// of the pattern's properties to the fact's.
func (m *Matcher) mapcatMatch(bss []Bindings, p, f *core.Value) ([]Bindings, error) {
	ks := p.Keys()
	for _, k := range ks {
		pv, _ := p.Get(k)
		if !m.IsVariable(k) {
			fv, found := f.Get(k)
			if !found {
				if m.IsOptionalVariable(pv) {
					continue
				}
				return nil, nil
			}
			acc, err := m.matchWithBindingss(bss, pv, fv)
			if err != nil {
				return nil, err
			}
			if len(acc) == 0 {
				return nil, nil
			}
			bss = acc
			continue
		}

		if !m.AllowPropertyVariables || 1 < len(ks) {
			return nil, errors.New(`can't have a variable as a key ("` + k + `") with other keys`)
		}

		gather := make([]Bindings, 0, f.Len())
		for _, fk := range f.Keys() {
			fv, _ := f.Get(fk)
			ext, err := m.matchWithBindingss(bss, core.String(k), core.String(fk))
			if err != nil {
				return nil, err
			}
			if len(ext) == 0 {
				continue
			}
			if ext, err = m.matchWithBindingss(ext, pv, fv); err != nil {
				return nil, err
			}
			gather = append(gather, ext...)
		}
		return gather, nil
	}
	return bss, nil
}

// arrayMatch treats the pattern as a set.  Constant elements are
// matched first, then structured elements (with backtracking), and
// then at most one variable, which binds to one of the remaining fact
// elements.
func (m *Matcher) arrayMatch(bs Bindings, p, f *core.Value) ([]Bindings, error) {
	var (
		v       *core.Value
		consts  []*core.Value
		structs []*core.Value
	)
	for _, x := range p.Elements() {
		switch {
		case m.isVar(x):
			if v != nil {
				return nil, errors.New("multiple variables not supported in an array")
			}
			v = x
		case x.Kind == core.KindObject || x.Kind == core.KindArray:
			structs = append(structs, x)
		default:
			consts = append(consts, x)
		}
	}

	facts := f.Elements()
	used := make([]bool, len(facts))

	for _, c := range consts {
		found := false
		for i, y := range facts {
			if !used[i] && core.Equal(c, y) {
				used[i] = true
				found = true
				break
			}
		}
		if !found {
			return nil, nil
		}
	}

	var acc []Bindings
	var try func(i int, bs Bindings) error
	try = func(i int, bs Bindings) error {
		if i < len(structs) {
			for j, y := range facts {
				if used[j] {
					continue
				}
				bss, err := m.match(structs[i], y, bs.Copy())
				if err != nil {
					return err
				}
				used[j] = true
				for _, ext := range bss {
					if err := try(i+1, ext); err != nil {
						used[j] = false
						return err
					}
				}
				used[j] = false
			}
			return nil
		}

		if v == nil {
			acc = append(acc, bs)
			return nil
		}

		n := 0
		for j, y := range facts {
			if used[j] {
				continue
			}
			bss, err := m.match(v, y, bs.Copy())
			if err != nil {
				return err
			}
			n += len(bss)
			acc = append(acc, bss...)
		}
		if n == 0 && m.IsOptionalVariable(v) {
			acc = append(acc, bs)
		}
		return nil
	}

	if err := try(0, bs); err != nil {
		return nil, err
	}
	return acc, nil
}

// UnknownPatternType is an error that includes the thing that's
// causing the trouble.
type UnknownPatternType struct {
	Pattern *core.Value
}

func (e *UnknownPatternType) Error() string {
	return "unknown pattern type " + e.Pattern.Kind.String()
}

func (m *Matcher) inequal(fact *core.Value, bs Bindings, v string) (bool, []Bindings) {
	if !m.Inequalities || len(v) < 3 {
		return false, nil
	}

	x, have := bs[v]
	if !have || x.Kind != core.KindNumber || fact.Kind != core.KindNumber {
		return false, nil
	}
	b, a := x.Float(), fact.Float()

	var ineq, vv string
	for _, ie := range []string{"<=", ">=", "!=", ">", "<"} {
		if strings.HasPrefix(v[1:], ie) {
			ineq = ie
			vv = "?" + v[1+len(ie):]
			break
		}
	}
	if vv == "" {
		return false, nil
	}

	satisfied := false
	switch ineq {
	case "<":
		satisfied = a < b
	case "<=":
		satisfied = a <= b
	case ">":
		satisfied = a > b
	case ">=":
		satisfied = a >= b
	case "!=":
		satisfied = a != b
	}

	if !satisfied {
		return true, nil
	}

	if c, given := bs[vv]; given {
		if c.Kind != core.KindNumber || c.Float() != a {
			return true, nil
		}
		return true, []Bindings{bs}
	}

	bs[vv] = fact.Copy()
	return true, []Bindings{bs}
}

func Match(pattern, fact *core.Value, bindings Bindings) ([]Bindings, error) {
	return DefaultMatcher.Match(pattern, fact, bindings)
}
