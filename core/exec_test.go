package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStateGetWithDefault(t *testing.T) {
	ec := NewExecContext(nil, "state")

	v := ec.GetStateValueByKey("x", NumP(5, 0))
	require.Equal(t, float64(5), v.Float())

	v = ec.GetStateValueByKey("x", NumP(9, 0))
	require.Equal(t, float64(5), v.Float())

	v = ec.GetStateValueByKey("missing", nil)
	require.Equal(t, KindEmpty, v.Kind)
	require.Equal(t, 1, ec.State().Len())

	ec.SetStateKeyAndValue("x", String("y"))
	require.Equal(t, "y", ec.GetStateValueByKey("x", nil).Str())
}

func TestStateGetWithDefaultConcurrent(t *testing.T) {
	ec := NewExecContext(nil, "state")

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got = make(map[float64]int)
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v := ec.GetStateValueByKey("k", NumP(float64(i), 0))
			mu.Lock()
			got[v.Float()]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	// Every reader saw the same winner.
	require.Len(t, got, 1)
}

func TestErrorHandledRoundTrip(t *testing.T) {
	ec := NewExecContext(nil, "errors")
	ec.Program = &Chain{
		Steps: []Node{
			&Binary{Op: "/", LHS: &Current{}, RHS: NumP(0, 0)},
			&Binary{Op: "+", LHS: &Current{}, RHS: NumP(100, 0)},
			&Handled{},
			&Binary{Op: "+", LHS: &Current{}, RHS: NumP(1, 0)},
		},
	}

	v, err := ec.Evaluate(context.Background(), NumP(41, 0))
	require.NoError(t, err)
	require.Equal(t, float64(42), v.Float())
	require.Nil(t, ec.Error())
	require.Nil(t, ec.Exception())
}

func TestErrorHandledCondition(t *testing.T) {
	ec := NewExecContext(nil, "errors")
	code := &Access{Target: &Ref{Name: "error"}, Key: "code"}
	ec.Program = &Chain{
		Steps: []Node{
			&Binary{Op: "/", LHS: &Current{}, RHS: NumP(0, 0)},
			&Handled{Condition: &Binary{Op: "=", LHS: code, RHS: String("something-else")}},
			&Current{},
		},
	}

	_, err := ec.Evaluate(context.Background(), NumP(1, 0))
	require.Error(t, err)
	require.True(t, errors.Is(err, ErrEvaluation))
	require.NotNil(t, ec.Error())
	require.Equal(t, "division-by-zero", ec.Error().Code)

	ec.Program.(*Chain).Steps[1] = &Handled{Condition: &Binary{Op: "=", LHS: code, RHS: String("division-by-zero")}}
	v, err := ec.Evaluate(context.Background(), NumP(1, 0))
	require.NoError(t, err)
	require.Equal(t, float64(1), v.Float())
	require.Nil(t, ec.Error())
}

func TestUnhandledFunctionError(t *testing.T) {
	ec := NewExecContext(nil, "errors")
	ec.Program = &Call{Name: "core:error:raise", Args: []Node{String("nope"), String("bad input"), MustParseJSON(`{"x":1}`)}}

	_, err := ec.Evaluate(context.Background(), Empty())
	require.True(t, errors.Is(err, ErrFunction))

	e := ec.Error()
	require.NotNil(t, e)
	require.Equal(t, "user", e.Type)
	require.Equal(t, "nope", e.Code)
	require.Equal(t, `{"x":1}`, e.JSON.String())

	c := &Collector{}
	ec.Output = c
	require.NoError(t, ec.OutputError(context.Background()))
	require.Len(t, c.Values(), 1)
	require.Equal(t, KindError, c.Values()[0].Kind)
}

// Collector is a Component that remembers what it's given.
type Collector struct {
	sync.Mutex
	vs []*Value
}

func (c *Collector) Produce(ctx context.Context, v *Value) (*Value, error) {
	c.Lock()
	c.vs = append(c.vs, v.Copy())
	c.Unlock()
	return v, nil
}

func (c *Collector) Values() []*Value {
	c.Lock()
	defer c.Unlock()
	return append([]*Value(nil), c.vs...)
}

func TestSingletonFanOutIsolation(t *testing.T) {
	ec := NewExecContext(nil, "singleton")
	ec.Program = &Map{
		Parallel: true,
		Body: &Chain{
			Steps: []Node{
				&Let{Name: "x", Value: &Current{}},
				&Binary{
					Op:  "+",
					LHS: &Binary{Op: "*", LHS: &Ref{Name: "x"}, RHS: NumP(10, 0)},
					RHS: &Ref{Name: "index"},
				},
			},
		},
	}

	input := ArrayOf()
	want := make([]float64, 50)
	for i := 0; i < 50; i++ {
		input.Append(NumP(float64(i), 0))
		want[i] = float64(i*10 + i)
	}
	orig := input.Copy()

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := ec.Evaluate(context.Background(), input)
			if err != nil {
				errs <- err
				return
			}
			if v.Len() != len(want) {
				errs <- fmt.Errorf("got %d results", v.Len())
				return
			}
			for i, x := range v.Elements() {
				if x.Float() != want[i] {
					errs <- fmt.Errorf("element %d: got %v, want %v", i, x.Float(), want[i])
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	require.True(t, Equal(orig, input), "input was modified")
}

func TestMapObservesShutdown(t *testing.T) {
	ec := NewExecContext(nil, "shutdown")
	ec.Shutdown()
	st := ec.NewStatement(context.Background(), ArrayOf(Num(1)))
	_, err := (&Map{Body: &Current{}}).Evaluate(st)
	require.True(t, errors.Is(err, ErrShutdown))

	_, err = ec.Evaluate(context.Background(), Empty())
	require.True(t, errors.Is(err, ErrShutdown))
}

func TestOverridesBeforeDefault(t *testing.T) {
	ec := NewExecContext(nil, "overrides")

	ec.Program = &Binary{Op: "+", LHS: String("a"), RHS: NumP(1, 0)}
	_, err := ec.Evaluate(context.Background(), Empty())
	require.Error(t, err)
	require.Equal(t, "type-mismatch", AsError(err).Code)

	custom := func(st *Statement, args []*Value) (*Value, error) {
		return String(args[0].Str() + args[1].Number().String()), nil
	}
	require.NoError(t, ec.Overrides.Bind("+", custom, KindString, KindNumber))

	v, err := ec.Evaluate(context.Background(), Empty())
	require.NoError(t, err)
	require.Equal(t, "a1", v.Str())

	// An override applies even when a default exists.
	always := func(st *Statement, args []*Value) (*Value, error) {
		return String("custom"), nil
	}
	require.NoError(t, ec.Overrides.Bind("+", always, KindNumber, KindAny))
	ec.Program = &Binary{Op: "+", LHS: NumP(1, 0), RHS: NumP(2, 0)}
	v, err = ec.Evaluate(context.Background(), Empty())
	require.NoError(t, err)
	require.Equal(t, "custom", v.Str())

	// One boolean override covers both true and false.
	neg := func(st *Statement, args []*Value) (*Value, error) {
		return String("negated"), nil
	}
	require.NoError(t, ec.Overrides.Bind("not", neg, KindTrue))
	ec.Program = &Unary{Op: "not", Operand: False()}
	v, err = ec.Evaluate(context.Background(), Empty())
	require.NoError(t, err)
	require.Equal(t, "negated", v.Str())
}

func TestModulesAndList(t *testing.T) {
	arena := NewArena()
	ec := NewExecContext(arena, "main")
	mod := NewExecContext(arena, "lib")
	mod.Functions.MustRegister(&Function{
		Name: "user:text:shout",
		F: func(st *Statement, args []*Value) (*Value, error) {
			return String(strings.ToUpper(args[0].Str()) + "!"), nil
		},
	})
	ec.Import("lib", mod)

	names := ec.Functions.List()
	require.True(t, sort.StringsAreSorted(names))
	require.Contains(t, names, "lib:user:text:shout")
	require.Contains(t, names, "core:math:ceil")
	require.Contains(t, names, "lib:core:math:ceil")

	ec.Program = &Call{Name: "lib:user:text:shout", Args: []Node{&Current{}}}
	v, err := ec.Evaluate(context.Background(), String("hi"))
	require.NoError(t, err)
	require.Equal(t, "HI!", v.Str())

	ec.Program = &Call{Name: "user:text:whisper"}
	_, err = ec.Evaluate(context.Background(), Empty())
	require.True(t, errors.Is(err, &Error{Kind: FunctionError, Code: "function-not-found"}))

	require.Error(t, ec.Functions.Register(&Function{Name: "too:short", F: func(*Statement, []*Value) (*Value, error) { return nil, nil }}))

	ec.Shutdown()
	require.True(t, mod.IsShutdown())
}

func TestFunctionRefs(t *testing.T) {
	ec := NewExecContext(nil, "refs")
	ec.Program = &Chain{
		Steps: []Node{
			&Let{Name: "f", Value: &Fn{Name: "core:math:round", Bound: []Node{&Current{}}}},
			&Invoke{Ref: &Ref{Name: "f"}, Args: []Node{NumP(1, 0)}},
		},
	}
	v, err := ec.Evaluate(context.Background(), Num(3.14159))
	require.NoError(t, err)
	require.Equal(t, 3.1, v.Float())
	require.Equal(t, 1, v.Number().Precision)
}

func TestProduce(t *testing.T) {
	ec := NewExecContext(nil, "produce")
	c := &Collector{}
	ec.Components["sink"] = c
	ec.Program = &Chain{
		Steps: []Node{
			&Produce{Component: "sink", Value: &Access{Key: "msg"}},
			&Produce{Component: "missing"},
		},
	}
	_, err := ec.Evaluate(context.Background(), MustParseJSON(`{"msg":"hello"}`))
	require.True(t, errors.Is(err, ErrComponent))
	require.Len(t, c.Values(), 1)
	require.Equal(t, "hello", c.Values()[0].Str())
}

func TestSignalDrivesAggregates(t *testing.T) {
	ec := NewExecContext(nil, "signal")
	ec.Signal = &SignalService{Interval: 5 * time.Millisecond}
	a := ec.DefineAggregate("batch", &AggregateDef{Timeout: 20 * time.Millisecond})

	var (
		mu  sync.Mutex
		got []*Value
	)
	a.Subscribe(func(ctx context.Context, id, key string, v *Value) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, ec.Start(ctx))

	st := ec.NewStatement(ctx, Empty())
	require.NoError(t, a.Register(st, "k", Num(1)))
	require.NoError(t, a.Register(st, "k", Num(2)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 2*time.Second, 5*time.Millisecond)

	ec.Shutdown()

	mu.Lock()
	require.Equal(t, "[1,2]", got[0].String())
	mu.Unlock()
}
