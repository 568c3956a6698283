package core

import (
	"math"
)

// MaxRoundDigits is the most digits core:math:round accepts.
const MaxRoundDigits = 15

func numArg(group string, args []*Value, i int) (Number, error) {
	if len(args) <= i {
		return Number{}, NewFunctionError(group, "arity", "missing argument %d", i)
	}
	if args[i].Kind != KindNumber {
		return Number{}, NewFunctionError(group, "type", "argument %d is a %s, not a number", i, args[i].Kind)
	}
	return args[i].Number(), nil
}

func strArg(group string, args []*Value, i int) (string, error) {
	if len(args) <= i {
		return "", NewFunctionError(group, "arity", "missing argument %d", i)
	}
	if args[i].Kind != KindString {
		return "", NewFunctionError(group, "type", "argument %d is a %s, not a string", i, args[i].Kind)
	}
	return args[i].Str(), nil
}

func execOf(group string, st *Statement) (*ExecContext, error) {
	ec := st.Exec()
	if ec == nil {
		return nil, NewFunctionError(group, "detached", "no execution context")
	}
	return ec, nil
}

// mathFunc makes a one-argument math function.  A negative precision
// means the result inherits the operand's effective precision.
func mathFunc(name, doc string, precision int, f func(float64) (float64, error)) *Function {
	group := "core:math"
	return &Function{
		Name: group + ":" + name,
		Doc:  doc,
		F: func(st *Statement, args []*Value) (*Value, error) {
			n, err := numArg(group, args, 0)
			if err != nil {
				return nil, err
			}
			x, err := f(n.F)
			if err != nil {
				return nil, err
			}
			p := precision
			if p < 0 {
				p = n.EffectivePrecision()
			}
			return NumP(x, p), nil
		},
	}
}

// Builtins returns the built-in functions.
func Builtins() []*Function {
	return []*Function{
		mathFunc("ceil", "`ceil(x)` is the least integer not less than `x`.  The precision is 0.", 0,
			func(x float64) (float64, error) { return math.Ceil(x), nil }),

		mathFunc("floor", "`floor(x)` is the greatest integer not greater than `x`.  The precision is 0.", 0,
			func(x float64) (float64, error) { return math.Floor(x), nil }),

		mathFunc("sqrt", "`sqrt(x)` keeps the precision of `x`.", -1,
			func(x float64) (float64, error) {
				if x < 0 {
					return 0, NewFunctionError("core:math", "domain", "sqrt of negative %v", x)
				}
				return math.Sqrt(x), nil
			}),

		mathFunc("arccos", "`arccos(x)` keeps the precision of `x`.", -1,
			func(x float64) (float64, error) {
				if x < -1 || 1 < x {
					return 0, NewFunctionError("core:math", "domain", "arccos of %v", x)
				}
				return math.Acos(x), nil
			}),

		{
			Name: "core:math:round",
			Doc:  "`round(x, digits)` rounds half away from zero.  `digits` (0 to 15) defaults to 0 and is the precision of the result.",
			F: func(st *Statement, args []*Value) (*Value, error) {
				n, err := numArg("core:math", args, 0)
				if err != nil {
					return nil, err
				}
				digits := 0
				if 1 < len(args) {
					d, err := numArg("core:math", args, 1)
					if err != nil {
						return nil, err
					}
					digits = int(d.F)
				}
				if digits < 0 || MaxRoundDigits < digits {
					return nil, NewFunctionError("core:math", "domain", "round to %d digits; want 0 to %d", digits, MaxRoundDigits)
				}
				scale := math.Pow(10, float64(digits))
				return NumP(math.Round(n.F*scale)/scale, digits), nil
			},
		},

		{
			Name: "core:state:get",
			Doc:  "`get(key, initial)` reads the state.  When `key` is absent and `initial` is given, `initial` is stored and returned.",
			F: func(st *Statement, args []*Value) (*Value, error) {
				key, err := strArg("core:state", args, 0)
				if err != nil {
					return nil, err
				}
				ec, err := execOf("core:state", st)
				if err != nil {
					return nil, err
				}
				var initial *Value
				if 1 < len(args) {
					initial = args[1]
				}
				return ec.GetStateValueByKey(key, initial), nil
			},
		},

		{
			Name: "core:state:set",
			Doc:  "`set(key, value)` writes the state and returns `value`.",
			F: func(st *Statement, args []*Value) (*Value, error) {
				key, err := strArg("core:state", args, 0)
				if err != nil {
					return nil, err
				}
				if len(args) < 2 {
					return nil, NewFunctionError("core:state", "arity", "set needs a value")
				}
				ec, err := execOf("core:state", st)
				if err != nil {
					return nil, err
				}
				ec.SetStateKeyAndValue(key, args[1])
				return args[1].Copy(), nil
			},
		},

		{
			Name: "core:error:raise",
			Doc:  "`raise(code, message, payload)` raises a FunctionError of type `user`.",
			F: func(st *Statement, args []*Value) (*Value, error) {
				code, err := strArg("core:error", args, 0)
				if err != nil {
					return nil, err
				}
				msg := ""
				if 1 < len(args) {
					msg = args[1].Str()
				}
				e := NewFunctionError("user", code, "%s", msg)
				if 2 < len(args) {
					e.JSON = args[2].Copy()
				}
				return nil, e
			},
		},

		{
			Name: "core:aggregate:flush",
			Doc:  "`flush(id)` flushes the aggregate now and returns the results.",
			F: func(st *Statement, args []*Value) (*Value, error) {
				id, err := strArg("core:aggregate", args, 0)
				if err != nil {
					return nil, err
				}
				ec, err := execOf("core:aggregate", st)
				if err != nil {
					return nil, err
				}
				vs, err := ec.FlushAggregate(st.Context(), id)
				if err != nil {
					return nil, err
				}
				acc := ArrayOf()
				for _, v := range vs {
					acc.Append(v)
				}
				return acc, nil
			},
		},
	}
}
