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
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
)

// Node is anything that can be evaluated against a Statement.
//
// A *Value is a Node.  Evaluating a Value that's already in normal
// form returns a copy.
type Node interface {
	Evaluate(st *Statement) (*Value, error)
}

// FuncRef is the payload of a KindFunctionRef Value: a fully
// qualified function name plus any arguments bound in advance.
type FuncRef struct {
	Name  string
	Bound []*Value
}

// Value is the tagged union for everything a program computes.
//
// Only the fields that correspond to the Kind are meaningful.
// Objects and arrays can hold deferred members (any Node), which are
// evaluated when the containing Value is evaluated.
type Value struct {
	Kind Kind

	num    Number
	str    string
	raw    []byte
	arr    []Node
	keys   []string
	obj    map[string]Node
	err    *Error
	fn     *FuncRef
	stream *Stream

	// normal is true when every member (recursively) is a
	// Value, so evaluation can be skipped.
	normal bool
}

// Empty returns a new empty Value.
func Empty() *Value {
	return &Value{Kind: KindEmpty, normal: true}
}

// End returns the end-of-stream marker.
func End() *Value {
	return &Value{Kind: KindEnd, normal: true}
}

func True() *Value {
	return &Value{Kind: KindTrue, normal: true}
}

func False() *Value {
	return &Value{Kind: KindFalse, normal: true}
}

// Bool makes a True or False.
func Bool(b bool) *Value {
	if b {
		return True()
	}
	return False()
}

func String(s string) *Value {
	return &Value{Kind: KindString, str: s, normal: true}
}

// Num makes a Number with unset precision.
func Num(f float64) *Value {
	return NumP(f, PrecisionUnset)
}

// NumP makes a Number with the given precision.
func NumP(f float64, precision int) *Value {
	return &Value{Kind: KindNumber, num: Number{F: f, Precision: precision}, normal: true}
}

// Raw makes a Value holding bytes.  The bytes are copied.
func Raw(bs []byte) *Value {
	acc := make([]byte, len(bs))
	copy(acc, bs)
	return &Value{Kind: KindRaw, raw: acc, normal: true}
}

// ErrorValue wraps an *Error in a Value.
func ErrorValue(e *Error) *Value {
	return &Value{Kind: KindError, err: e, normal: true}
}

// FunctionRef makes a reference to the named function.
func FunctionRef(name string, bound ...*Value) *Value {
	return &Value{Kind: KindFunctionRef, fn: &FuncRef{Name: name, Bound: bound}, normal: true}
}

// StreamValue wraps a Stream.
func StreamValue(s *Stream) *Value {
	return &Value{Kind: KindStream, stream: s, normal: true}
}

// ArrayOf makes an array with the given members.
func ArrayOf(ns ...Node) *Value {
	v := &Value{Kind: KindArray, arr: make([]Node, 0, len(ns)), normal: true}
	for _, n := range ns {
		v.Append(n)
	}
	return v
}

// NewObject makes an empty object.
func NewObject() *Value {
	return &Value{Kind: KindObject, obj: make(map[string]Node, 8), normal: true}
}

func isNormal(n Node) bool {
	v, is := n.(*Value)
	return is && v != nil && v.normal
}

// Append adds a member to an array.  Only use while constructing a
// Value.
func (v *Value) Append(n Node) *Value {
	if n == nil {
		n = Empty()
	}
	v.arr = append(v.arr, n)
	v.normal = v.normal && isNormal(n)
	return v
}

// Put sets a property of an object.  Only use while constructing a
// Value.
func (v *Value) Put(k string, n Node) *Value {
	if n == nil {
		n = Empty()
	}
	if _, have := v.obj[k]; !have {
		v.keys = append(v.keys, k)
	}
	v.obj[k] = n
	if !isNormal(n) {
		v.normal = false
	} else {
		v.normal = v.recomputeNormal()
	}
	return v
}

func (v *Value) recomputeNormal() bool {
	for _, n := range v.obj {
		if !isNormal(n) {
			return false
		}
	}
	return true
}

// Normal reports whether the Value needs no further evaluation.
func (v *Value) Normal() bool {
	return v.normal
}

// Number returns the Number (for KindNumber).
func (v *Value) Number() Number {
	return v.num
}

// Float returns the float64 (for KindNumber).
func (v *Value) Float() float64 {
	return v.num.F
}

// Str returns the string (for KindString).
func (v *Value) Str() string {
	return v.str
}

// Bytes returns the bytes (for KindRaw).
func (v *Value) Bytes() []byte {
	return v.raw
}

// Err returns the *Error (for KindError).
func (v *Value) Err() *Error {
	return v.err
}

// Func returns the function reference (for KindFunctionRef).
func (v *Value) Func() *FuncRef {
	return v.fn
}

// Stream returns the Stream (for KindStream).
func (v *Value) Stream() *Stream {
	return v.stream
}

// Len gives the number of members of an array or object.
func (v *Value) Len() int {
	switch v.Kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.keys)
	case KindString:
		return len(v.str)
	case KindRaw:
		return len(v.raw)
	}
	return 0
}

// At returns the i-th array member if that member is a Value.
func (v *Value) At(i int) *Value {
	if v.Kind != KindArray || i < 0 || len(v.arr) <= i {
		return nil
	}
	x, _ := v.arr[i].(*Value)
	return x
}

// Elements returns the array members that are Values.  Deferred
// members are skipped, so only call on an evaluated array.
func (v *Value) Elements() []*Value {
	acc := make([]*Value, 0, len(v.arr))
	for _, n := range v.arr {
		if x, is := n.(*Value); is {
			acc = append(acc, x)
		}
	}
	return acc
}

// Get returns the given property if it's a Value.
func (v *Value) Get(k string) (*Value, bool) {
	if v.Kind != KindObject {
		return nil, false
	}
	n, have := v.obj[k]
	if !have {
		return nil, false
	}
	x, is := n.(*Value)
	return x, is
}

// Keys returns an object's keys in insertion order.
func (v *Value) Keys() []string {
	acc := make([]string, len(v.keys))
	copy(acc, v.keys)
	return acc
}

// IsBool reports whether the Value is True or False.
func (v *Value) IsBool() bool {
	return v.Kind == KindTrue || v.Kind == KindFalse
}

// Truthy gives the boolean interpretation of a Value.
func (v *Value) Truthy() bool {
	if v == nil {
		return false
	}
	switch v.Kind {
	case KindTrue:
		return true
	case KindFalse, KindEmpty, KindEnd, KindError:
		return false
	case KindNumber:
		return v.num.F != 0
	case KindString:
		return v.str != ""
	case KindRaw:
		return len(v.raw) != 0
	case KindArray:
		return len(v.arr) != 0
	case KindObject:
		return len(v.keys) != 0
	case KindFunctionRef, KindStream:
		return true
	}
	return false
}

// Copy makes a deep copy.
//
// Deferred members are program structure and are shared.  A Stream
// is shared since it can only be consumed once anyway.
func (v *Value) Copy() *Value {
	if v == nil {
		return Empty()
	}
	acc := &Value{
		Kind:   v.Kind,
		num:    v.num,
		str:    v.str,
		stream: v.stream,
		normal: v.normal,
	}
	switch v.Kind {
	case KindRaw:
		acc.raw = make([]byte, len(v.raw))
		copy(acc.raw, v.raw)
	case KindArray:
		acc.arr = make([]Node, len(v.arr))
		for i, n := range v.arr {
			acc.arr[i] = copyNode(n)
		}
	case KindObject:
		acc.keys = make([]string, len(v.keys))
		copy(acc.keys, v.keys)
		acc.obj = make(map[string]Node, len(v.obj))
		for k, n := range v.obj {
			acc.obj[k] = copyNode(n)
		}
	case KindError:
		acc.err = v.err.Copy()
	case KindFunctionRef:
		bound := make([]*Value, len(v.fn.Bound))
		for i, b := range v.fn.Bound {
			bound[i] = b.Copy()
		}
		acc.fn = &FuncRef{Name: v.fn.Name, Bound: bound}
	}
	return acc
}

func copyNode(n Node) Node {
	if x, is := n.(*Value); is {
		return x.Copy()
	}
	return n
}

// Evaluate implements Node.
//
// Normal-form values evaluate to a copy of themselves.  Deferred
// members of arrays and objects are evaluated against the same
// Statement, in order, and the result is a new Value.  The receiver
// is never modified.
func (v *Value) Evaluate(st *Statement) (*Value, error) {
	if v == nil {
		return Empty(), nil
	}
	switch v.Kind {
	case KindEmpty, KindString, KindNumber, KindTrue, KindFalse,
		KindRaw, KindError, KindFunctionRef, KindEnd:
		return v.Copy(), nil
	case KindStream:
		return v, nil
	case KindArray:
		if v.normal {
			return v.Copy(), nil
		}
		acc := ArrayOf()
		for _, n := range v.arr {
			x, err := n.Evaluate(st)
			if err != nil {
				return nil, err
			}
			acc.Append(x)
		}
		return acc, nil
	case KindObject:
		if v.normal {
			return v.Copy(), nil
		}
		acc := NewObject()
		for _, k := range v.keys {
			x, err := v.obj[k].Evaluate(st)
			if err != nil {
				return nil, err
			}
			acc.Put(k, x)
		}
		return acc, nil
	}
	return nil, NewEvaluationError("unknown-kind", "can't evaluate kind %d", int(v.Kind))
}

// Equal reports deep equality.  Numbers compare by value (not
// precision), and objects ignore key order.
func Equal(a, b *Value) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindEmpty, KindTrue, KindFalse, KindEnd:
		return true
	case KindNumber:
		return a.num.F == b.num.F
	case KindString:
		return a.str == b.str
	case KindRaw:
		return bytes.Equal(a.raw, b.raw)
	case KindArray:
		if len(a.arr) != len(b.arr) {
			return false
		}
		for i := range a.arr {
			x, xok := a.arr[i].(*Value)
			y, yok := b.arr[i].(*Value)
			if !xok || !yok || !Equal(x, y) {
				return false
			}
		}
		return true
	case KindObject:
		if len(a.keys) != len(b.keys) {
			return false
		}
		for k, n := range a.obj {
			x, xok := n.(*Value)
			y, yok := b.Get(k)
			if !xok || !yok || !Equal(x, y) {
				return false
			}
		}
		return true
	case KindError:
		return a.err.Type == b.err.Type && a.err.Code == b.err.Code && a.err.Message == b.err.Message
	case KindFunctionRef:
		return a.fn.Name == b.fn.Name && len(a.fn.Bound) == len(b.fn.Bound)
	case KindStream:
		return a.stream == b.stream
	}
	return false
}

// FromInterface makes a Value from the sort of data that
// encoding/json (or a YAML parser) produces.
func FromInterface(x interface{}) (*Value, error) {
	switch vv := x.(type) {
	case nil:
		return Empty(), nil
	case *Value:
		return vv.Copy(), nil
	case bool:
		return Bool(vv), nil
	case string:
		return String(vv), nil
	case json.Number:
		f, err := vv.Float64()
		if err != nil {
			return nil, err
		}
		return NumP(f, literalPrecision(vv.String())), nil
	case float64:
		return Num(vv), nil
	case float32:
		return Num(float64(vv)), nil
	case int:
		return NumP(float64(vv), 0), nil
	case int64:
		return NumP(float64(vv), 0), nil
	case int32:
		return NumP(float64(vv), 0), nil
	case uint64:
		return NumP(float64(vv), 0), nil
	case []byte:
		return Raw(vv), nil
	case []interface{}:
		acc := ArrayOf()
		for _, y := range vv {
			z, err := FromInterface(y)
			if err != nil {
				return nil, err
			}
			acc.Append(z)
		}
		return acc, nil
	case []string:
		acc := ArrayOf()
		for _, s := range vv {
			acc.Append(String(s))
		}
		return acc, nil
	case map[string]interface{}:
		ks := make([]string, 0, len(vv))
		for k := range vv {
			ks = append(ks, k)
		}
		sort.Strings(ks)
		acc := NewObject()
		for _, k := range ks {
			z, err := FromInterface(vv[k])
			if err != nil {
				return nil, err
			}
			acc.Put(k, z)
		}
		return acc, nil
	case map[interface{}]interface{}:
		m := make(map[string]interface{}, len(vv))
		for k, y := range vv {
			s, is := k.(string)
			if !is {
				return nil, fmt.Errorf("bad key (%T)", k)
			}
			m[s] = y
		}
		return FromInterface(m)
	}
	return nil, fmt.Errorf("can't make a Value from a %T", x)
}

// MustFromInterface panics if FromInterface returns an error.
func MustFromInterface(x interface{}) *Value {
	v, err := FromInterface(x)
	if err != nil {
		panic(err)
	}
	return v
}

// Interface renders the Value as plain Go data suitable for
// encoding/json.
//
// Deferred members render as null.
func (v *Value) Interface() interface{} {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case KindEmpty, KindEnd, KindStream:
		return nil
	case KindTrue:
		return true
	case KindFalse:
		return false
	case KindString:
		return v.str
	case KindNumber:
		return v.num.F
	case KindRaw:
		return string(v.raw)
	case KindArray:
		acc := make([]interface{}, len(v.arr))
		for i, n := range v.arr {
			if x, is := n.(*Value); is {
				acc[i] = x.Interface()
			}
		}
		return acc
	case KindObject:
		acc := make(map[string]interface{}, len(v.obj))
		for k, n := range v.obj {
			if x, is := n.(*Value); is {
				acc[k] = x.Interface()
			} else {
				acc[k] = nil
			}
		}
		return acc
	case KindError:
		return v.err.Interface()
	case KindFunctionRef:
		return map[string]interface{}{"function": v.fn.Name}
	}
	return nil
}

// MarshalJSON writes objects in key order and numbers in their
// shortest form.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) writeJSON(buf *bytes.Buffer) error {
	switch v.Kind {
	case KindNumber:
		if math.IsNaN(v.num.F) || math.IsInf(v.num.F, 0) {
			buf.WriteString("null")
			return nil
		}
		buf.WriteString(strconv.FormatFloat(v.num.F, 'g', -1, 64))
		return nil
	case KindArray:
		buf.WriteByte('[')
		for i, n := range v.arr {
			if 0 < i {
				buf.WriteByte(',')
			}
			x, is := n.(*Value)
			if !is {
				buf.WriteString("null")
				continue
			}
			if err := x.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	case KindObject:
		buf.WriteByte('{')
		for i, k := range v.keys {
			if 0 < i {
				buf.WriteByte(',')
			}
			js, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(js)
			buf.WriteByte(':')
			x, is := v.obj[k].(*Value)
			if !is {
				buf.WriteString("null")
				continue
			}
			if err := x.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil
	}
	js, err := json.Marshal(v.Interface())
	if err != nil {
		return err
	}
	buf.Write(js)
	return nil
}

// UnmarshalJSON keeps the precision of numeric literals.
func (v *Value) UnmarshalJSON(bs []byte) error {
	x, err := ParseJSON(bs)
	if err != nil {
		return err
	}
	*v = *x
	return nil
}

// ParseJSON parses JSON into a Value.  Numeric literals keep their
// written precision, so "2.50" has precision 2.
func ParseJSON(bs []byte) (*Value, error) {
	d := json.NewDecoder(bytes.NewReader(bs))
	d.UseNumber()
	var x interface{}
	if err := d.Decode(&x); err != nil {
		return nil, err
	}
	return FromInterface(x)
}

// MustParseJSON panics if ParseJSON returns an error.
func MustParseJSON(js string) *Value {
	v, err := ParseJSON([]byte(js))
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the Value as JSON.
func (v *Value) String() string {
	if v == nil {
		return "null"
	}
	js, err := v.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(js)
}
