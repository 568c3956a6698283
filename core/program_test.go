package core

import (
	"context"
	"testing"
	"time"

	. "github.com/Comcast/jsonpipe/util/testutil"
)

func compile(t *testing.T, src string) *ExecContext {
	p, err := ParseProgram([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	if err = p.Compile(context.Background(), nil, true); err != nil {
		t.Fatal(err)
	}
	ec, err := p.NewContext(NewArena(), "test")
	if err != nil {
		t.Fatal(err)
	}
	return ec
}

func TestProgramJSON(t *testing.T) {
	ec := compile(t, `{
  "name": "double",
  "steps": [
    {"get": "n"},
    {"op": "*", "args": [{"current": true}, 2.0]},
    {"object": {"doubled": {"current": true}, "input": {"ref": "input"}}}
  ]
}`)

	v, err := ec.Evaluate(context.Background(), MustParseJSON(`{"n":21}`))
	if err != nil {
		t.Fatal(err)
	}
	RequireSameJSON(t, v.String(), `{"doubled":42,"input":{"n":21}}`)
	d, _ := v.Get("doubled")
	if d.Number().Precision != 1 {
		t.Fatal(d.Number())
	}
}

func TestProgramYAML(t *testing.T) {
	ec := compile(t, `
name: safe
steps:
  - op: /
    args: [{current: true}, 0]
  - handled: true
  - call: core:math:floor
    args: [{current: true}]
  - let: x
  - array: [{ref: x}, {index: -1, of: [1, 2, 3]}]
`)

	v, err := ec.Evaluate(context.Background(), Num(2.5))
	if err != nil {
		t.Fatal(err)
	}
	if v.String() != "[2,3]" {
		t.Fatal(v)
	}
}

func TestProgramAggregates(t *testing.T) {
	ec := compile(t, `{
  "steps": [{"aggregate": "totals", "key": {"get": "user"}, "value": {"get": "amount"}}],
  "aggregates": {
    "totals": {
      "timeout": "1h",
      "combine": {"op": "+", "args": [{"ref": "acc"}, {"ref": "value"}]},
      "output": true
    }
  }
}`)
	c := &Collector{}
	ec.Output = c

	ctx := context.Background()
	for _, js := range []string{`{"user":"a","amount":1}`, `{"user":"a","amount":2}`, `{"user":"b","amount":5}`} {
		if _, err := ec.Evaluate(ctx, MustParseJSON(js)); err != nil {
			t.Fatal(err)
		}
	}

	if ec.Signal == nil || ec.Signal.Interval != DefaultHeartbeat {
		t.Fatal("expected a default signal service")
	}

	a, err := ec.Aggregate("totals")
	if err != nil {
		t.Fatal(err)
	}
	if a.Def.Timeout != time.Hour {
		t.Fatal(a.Def.Timeout)
	}

	if _, err := ec.FlushAggregate(ctx, "totals"); err != nil {
		t.Fatal(err)
	}
	vs := c.Values()
	if len(vs) != 2 {
		t.Fatal(vs)
	}
	if vs[0].String() != `{"aggregate":"totals","key":"a","result":3}` {
		t.Fatal(vs[0])
	}
}

func TestProgramOverrides(t *testing.T) {
	ec := compile(t, `{
  "steps": [{"op": "+", "args": [{"current": true}, "!"]}],
  "overrides": [{"op": "+", "kinds": ["number", "string"], "function": "core:math:floor"}]
}`)
	v, err := ec.Evaluate(context.Background(), Num(3.7))
	if err != nil {
		t.Fatal(err)
	}
	if v.Float() != 3 {
		t.Fatal(v)
	}
}

func TestDecodeNodeErrors(t *testing.T) {
	for _, x := range []interface{}{
		map[string]interface{}{"bogus": 1},
		map[string]interface{}{"ref": 1},
		map[string]interface{}{"op": "+", "args": []interface{}{}},
		map[string]interface{}{"index": "x"},
	} {
		if _, err := DecodeNode(x); err == nil {
			t.Fatalf("expected an error for %s", JS(x))
		}
	}
}

func TestProgramBadFunctionName(t *testing.T) {
	p, err := ParseProgram([]byte(`{"steps":[],"functions":{"bad":{"interpreter":"none","source":""}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if err = p.Compile(context.Background(), nil, true); err == nil {
		t.Fatal("expected an error")
	}
}
