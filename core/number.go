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
	"math"
	"strconv"
	"strings"
)

// PrecisionUnset indicates that a Number's precision hasn't been
// determined.
const PrecisionUnset = -1

// Number is a float64 along with the number of significant
// fractional digits.
//
// The precision travels with the number through arithmetic.  It does
// not change how a Number is rendered.
type Number struct {
	F         float64
	Precision int
}

// DecimalPrecision counts the fractional digits in the shortest
// decimal representation of f.
func DecimalPrecision(f float64) int {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(s) - i - 1
}

// literalPrecision counts the fractional digits of a numeric literal
// as written, so "2.50" has precision 2.  Exponent forms fall back to
// PrecisionUnset.
func literalPrecision(s string) int {
	if strings.ContainsAny(s, "eE") {
		return PrecisionUnset
	}
	i := strings.IndexByte(s, '.')
	if i < 0 {
		return 0
	}
	return len(s) - i - 1
}

// EffectivePrecision returns the precision if set, otherwise the
// precision derived from the decimal representation.
func (n Number) EffectivePrecision() int {
	if n.Precision != PrecisionUnset {
		return n.Precision
	}
	return DecimalPrecision(n.F)
}

// CombinePrecision gives the precision for the result of an
// operation that doesn't fix its own precision: the greatest
// effective precision of the operands.
func CombinePrecision(ns ...Number) int {
	p := 0
	for _, n := range ns {
		if q := n.EffectivePrecision(); p < q {
			p = q
		}
	}
	return p
}

func (n Number) String() string {
	return strconv.FormatFloat(n.F, 'f', -1, 64)
}

// IsInt reports whether the number has no fractional part.
func (n Number) IsInt() bool {
	return n.F == math.Trunc(n.F) && !math.IsInf(n.F, 0)
}
