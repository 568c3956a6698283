// Package goja is a core.Interpreter for ECMAScript functions.
package goja

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/match"

	"github.com/dop251/goja"
	"github.com/gorhill/cronexpr"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is the cause of the error returned when a
	// function is interrupted.
	Interrupted = errors.New(InterruptedMessage)
)

// init adds an Interpreter as one of the DefaultInterpreters.
func init() {
	i := NewInterpreter()
	core.DefaultInterpreters["goja"] = i
	core.DefaultInterpreters["ecmascript"] = i
}

// Interpreter implements core.Interpreter using Goja, which is a Go
// implementation of ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
//
// Source is either a string of code or an object with "code" and
// optional "requires" (library names).  The code is the body of a
// function.  The runtime offers:
//
//	args: the array of arguments.
//	$: the current value.
//	_.gensym(): generate a random string.
//	_.esc(s): URL query-escape the given string.
//	_.cronNext(expr): the next time for the cron expression.
//	_.match(pat, obj, bindings): run the pattern matcher.
//	_.get(key, initial) and _.set(key, value): the context's state.
//	_.log(x): log x as JSON.
//
// The Testing flag must be set to see sleep(ms).
type Interpreter struct {
	// Testing is used to expose or hide some runtime
	// capabilities.
	Testing bool

	// Timeout, if positive, bounds each call.
	Timeout time.Duration

	// Libraries resolves the names given in "requires".
	// Defaults to DefaultLibraries.
	Libraries LibraryProvider
}

// NewInterpreter makes a new Interpreter.
func NewInterpreter() *Interpreter {
	return &Interpreter{}
}

// LibraryProvider returns the code of a named library.
type LibraryProvider func(ctx context.Context, name string) (string, error)

// DefaultLibraries reads "file://" libraries from the working
// directory.
var DefaultLibraries = FileLibraries(afero.NewOsFs(), ".")

// FileLibraries resolves names like "file://lib.js" relative to dir
// in the given file system.  Names that escape dir are rejected.
func FileLibraries(fs afero.Fs, dir string) LibraryProvider {
	return func(ctx context.Context, name string) (string, error) {
		filename := strings.TrimPrefix(name, "file://")
		if filename == name {
			return "", fmt.Errorf("library %q isn't a file:// name", name)
		}
		filename = filepath.Clean(filename)
		if filepath.IsAbs(filename) || strings.HasPrefix(filename, "..") {
			return "", fmt.Errorf("library %q is outside %s", name, dir)
		}
		bs, err := afero.ReadFile(fs, filepath.Join(dir, filename))
		if err != nil {
			return "", errors.Wrapf(err, "library %s", name)
		}
		return string(bs), nil
	}
}

// MapLibraries serves libraries from memory.
func MapLibraries(srcs map[string]string) LibraryProvider {
	return func(ctx context.Context, name string) (string, error) {
		if src, have := srcs[name]; have {
			return src, nil
		}
		return "", fmt.Errorf("undefined library %q", name)
	}
}

// Source is the parsed form of a function's source.
type Source struct {
	// Code is the body of a function.
	Code string

	// Requires names libraries that are evaluated before Code.
	Requires []string
}

// ParseSource accepts a string of code or a map with "code" and
// optional "requires" (a name or a list of names).
func ParseSource(x interface{}) (*Source, error) {
	if code, is := x.(string); is {
		return &Source{Code: code}, nil
	}

	var m map[string]interface{}
	switch vv := x.(type) {
	case map[string]interface{}:
		m = vv
	case map[interface{}]interface{}:
		m = make(map[string]interface{}, len(vv))
		for k, v := range vv {
			m[fmt.Sprintf("%v", k)] = v
		}
	default:
		return nil, fmt.Errorf("can't use a %T as goja source", x)
	}

	code, is := m["code"].(string)
	if !is {
		return nil, errors.New("goja source needs a string \"code\"")
	}
	src := &Source{Code: code}

	switch vv := m["requires"].(type) {
	case nil:
	case string:
		src.Requires = []string{vv}
	case []string:
		src.Requires = vv
	case []interface{}:
		for _, x := range vv {
			name, is := x.(string)
			if !is {
				return nil, fmt.Errorf("library name %v isn't a string", x)
			}
			src.Requires = append(src.Requires, name)
		}
	default:
		return nil, fmt.Errorf("can't use a %T as requires", vv)
	}

	return src, nil
}

// program is the libraries followed by the code wrapped in an
// immediately invoked function.
func (i *Interpreter) program(ctx context.Context, src *Source) (string, error) {
	libs := i.Libraries
	if libs == nil {
		libs = DefaultLibraries
	}
	var b strings.Builder
	for _, name := range src.Requires {
		lib, err := libs(ctx, name)
		if err != nil {
			return "", err
		}
		b.WriteString(lib)
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "(function() {\n%s\n}());\n", src.Code)
	return b.String(), nil
}

// Compile compiles the source (with any required libraries) into a
// core.Func.
//
// This method can block if the interpreter's Libraries block.
func (i *Interpreter) Compile(ctx context.Context, x interface{}) (core.Func, error) {
	src, err := ParseSource(x)
	if err != nil {
		return nil, err
	}

	code, err := i.program(ctx, src)
	if err != nil {
		return nil, err
	}

	p, err := goja.Compile("", code, true)
	if err != nil {
		return nil, errors.Wrap(err, "goja compilation")
	}

	return func(st *core.Statement, args []*core.Value) (*core.Value, error) {
		return i.exec(st, p, args)
	}, nil
}

func protest(o *goja.Runtime, x interface{}) {
	panic(o.ToValue(x))
}

func export(x interface{}) interface{} {
	if v, is := x.(goja.Value); is {
		return v.Export()
	}
	return x
}

// fromJS converts an exported value by way of JSON, which takes care
// of the odd types an export can produce.
func fromJS(x interface{}) (*core.Value, error) {
	if x == nil {
		return core.Empty(), nil
	}
	if v, err := core.FromInterface(x); err == nil {
		return v, nil
	}
	js, err := json.Marshal(&x)
	if err != nil {
		return nil, err
	}
	return core.ParseJSON(js)
}

func (i *Interpreter) env(o *goja.Runtime, st *core.Statement) map[string]interface{} {
	env := map[string]interface{}{}

	env["gensym"] = func() interface{} {
		return core.Gensym()
	}

	env["cronNext"] = func(x interface{}) interface{} {
		cronExpr, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}
		c, err := cronexpr.Parse(cronExpr)
		if err != nil {
			protest(o, err.Error())
		}
		return c.Next(time.Now()).UTC().Format(time.RFC3339Nano)
	}

	env["esc"] = func(x interface{}) interface{} {
		s, is := export(x).(string)
		if !is {
			protest(o, "not a string")
		}
		return url.QueryEscape(s)
	}

	env["log"] = func(x interface{}) interface{} {
		x = export(x)
		js, err := json.Marshal(&x)
		if err != nil {
			log.Println("goja.log (can't marshal: " + err.Error() + ")")
		} else {
			log.Println(string(js))
		}
		return x
	}

	env["match"] = func(pat, fact, bs goja.Value) interface{} {
		p, err := fromJS(pat.Export())
		if err != nil {
			protest(o, err.Error())
		}
		f, err := fromJS(fact.Export())
		if err != nil {
			protest(o, err.Error())
		}
		bindings := match.NewBindings()
		if bs != nil && !goja.IsUndefined(bs) && !goja.IsNull(bs) {
			b, err := fromJS(bs.Export())
			if err != nil || b.Kind != core.KindObject {
				protest(o, "bad bindings")
			}
			for _, k := range b.Keys() {
				bindings[k], _ = b.Get(k)
			}
		}
		bss, err := match.Match(p, f, bindings)
		if err != nil {
			protest(o, err.Error())
		}
		acc := make([]interface{}, 0, len(bss))
		for _, bs := range bss {
			acc = append(acc, bs.Object().Interface())
		}
		return acc
	}

	if ec := st.Exec(); ec != nil {
		env["get"] = func(key string, initial goja.Value) interface{} {
			var init *core.Value
			if initial != nil && !goja.IsUndefined(initial) {
				v, err := fromJS(initial.Export())
				if err != nil {
					protest(o, err.Error())
				}
				init = v
			}
			return ec.GetStateValueByKey(key, init).Interface()
		}
		env["set"] = func(key string, value goja.Value) interface{} {
			v, err := fromJS(value.Export())
			if err != nil {
				protest(o, err.Error())
			}
			ec.SetStateKeyAndValue(key, v)
			return value
		}
	}

	return env
}

func (i *Interpreter) exec(st *core.Statement, p *goja.Program, args []*core.Value) (*core.Value, error) {
	o := goja.New()

	xs := make([]interface{}, len(args))
	for j, a := range args {
		xs[j] = a.Interface()
	}
	o.Set("args", xs)
	o.Set("$", st.CurrentValue().Interface())
	o.Set("_", i.env(o, st))

	if i.Testing {
		o.Set("sleep", func(ms int) {
			time.Sleep(time.Duration(ms) * time.Millisecond)
		})
	}

	ctx := st.Context()
	if 0 < i.Timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.Timeout)
		defer cancel()
	}

	// We want to make sure that the following goroutine is
	// terminated as soon as possible.
	ictx, cancel := context.WithCancel(ctx)
	go func() {
		<-ictx.Done()
		// If exec calls cancel() after RunProgram returns,
		// then the interrupt is harmless.
		o.Interrupt(InterruptedMessage)
	}()

	v, err := o.RunProgram(p)
	cancel()

	if err != nil {
		if _, is := err.(*goja.InterruptedError); is {
			e := core.NewFunctionError("goja", "interrupted", "%s", InterruptedMessage)
			e.Cause = Interrupted
			return nil, e
		}
		if ex, is := err.(*goja.Exception); is {
			e := core.NewFunctionError("goja", "exception", "%s", ex.Error())
			if x, err := fromJS(ex.Value().Export()); err == nil {
				e.JSON = x
			}
			e.Cause = err
			return nil, e
		}
		return nil, err
	}

	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return core.Empty(), nil
	}
	return fromJS(v.Export())
}
