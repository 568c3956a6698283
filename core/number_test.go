package core

import (
	"context"
	"errors"
	"math"
	"testing"
)

func TestLiteralPrecision(t *testing.T) {
	v := MustParseJSON(`2.50`)
	if p := v.Number().Precision; p != 2 {
		t.Fatal(p)
	}
	if p := MustParseJSON(`7`).Number().Precision; p != 0 {
		t.Fatal(p)
	}
	if p := MustParseJSON(`1e3`).Number().Precision; p != PrecisionUnset {
		t.Fatal(p)
	}
	if p := Num(0.125).Number().EffectivePrecision(); p != 3 {
		t.Fatal(p)
	}
}

func callBuiltin(t *testing.T, name string, args ...*Value) *Value {
	r := NewRegistry()
	r.MustRegister(Builtins()...)
	f, have := r.Lookup(name)
	if !have {
		t.Fatalf("no %s", name)
	}
	st := NewStatement(context.Background(), nil, 0, Empty())
	v, err := f.Call(st, args)
	if err != nil {
		t.Fatal(err)
	}
	return v
}

func TestPrecisionPropagation(t *testing.T) {
	tests := []struct {
		name      string
		fn        string
		arg       *Value
		want      float64
		precision int
	}{
		{"ceil fixes 0", "core:math:ceil", NumP(2.345, 3), 3, 0},
		{"floor fixes 0", "core:math:floor", Num(2.75), 2, 0},
		{"sqrt inherits", "core:math:sqrt", NumP(4, 2), 2, 2},
		{"sqrt derives", "core:math:sqrt", Num(2.25), 1.5, 2},
		{"arccos derives", "core:math:arccos", Num(0.5), math.Acos(0.5), 1},
		{"arccos inherits", "core:math:arccos", NumP(1, 4), 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := callBuiltin(t, tt.fn, tt.arg)
			if v.Float() != tt.want {
				t.Fatalf("got %v, want %v", v.Float(), tt.want)
			}
			if p := v.Number().Precision; p != tt.precision {
				t.Fatalf("got precision %d, want %d", p, tt.precision)
			}
		})
	}
}

func TestArithmeticPrecision(t *testing.T) {
	v, err := Apply("+", NumP(1.5, 1), NumP(2.25, 2))
	if err != nil {
		t.Fatal(err)
	}
	if v.Float() != 3.75 || v.Number().Precision != 2 {
		t.Fatal(v, v.Number())
	}

	// An unset precision is derived from the decimal string.
	if v, err = Apply("*", Num(1.125), NumP(2, 0)); err != nil {
		t.Fatal(err)
	}
	if v.Number().Precision != 3 {
		t.Fatal(v.Number())
	}
}

func TestRound(t *testing.T) {
	v := callBuiltin(t, "core:math:round", Num(2.345), NumP(2, 0))
	if v.Float() != 2.35 && v.Float() != 2.34 {
		t.Fatal(v)
	}
	if v.Number().Precision != 2 {
		t.Fatal(v.Number())
	}
}

func TestSqrtDomain(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(Builtins()...)
	f, _ := r.Lookup("core:math:sqrt")
	_, err := f.Call(NewStatement(context.Background(), nil, 0, nil), []*Value{Num(-1)})
	e := AsError(err)
	if e == nil || e.Kind != FunctionError || e.Type != "core:math" || e.Code != "domain" {
		t.Fatal(err)
	}
}

func TestRoundDigits(t *testing.T) {
	v := callBuiltin(t, "core:math:round", Num(1.25), NumP(1, 0))
	if v.Float() != 1.3 || v.Number().Precision != 1 {
		t.Fatal(v)
	}

	r := NewRegistry()
	r.MustRegister(Builtins()...)
	f, _ := r.Lookup("core:math:round")
	st := NewStatement(context.Background(), nil, 0, Empty())
	for _, digits := range []float64{-1, MaxRoundDigits + 1, 400} {
		v, err := f.Call(st, []*Value{Num(2.345), NumP(digits, 0)})
		if err == nil {
			t.Fatalf("digits %v gave %v", digits, v)
		}
		if !errors.Is(err, ErrFunction) {
			t.Fatal(err)
		}
	}
}
