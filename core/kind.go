package core

import (
	"errors"
	"strings"
)

// Kind is the tag for a Value.
type Kind int

const (
	KindEmpty Kind = iota
	KindObject
	KindArray
	KindString
	KindNumber
	KindTrue
	KindFalse
	KindRaw
	KindError
	KindFunctionRef
	KindStream
	KindEnd

	// KindAny only appears in operator override keys.  It
	// matches any operand kind.
	KindAny Kind = -1
)

var kindNames = map[Kind]string{
	KindEmpty:       "empty",
	KindObject:      "object",
	KindArray:       "array",
	KindString:      "string",
	KindNumber:      "number",
	KindTrue:        "true",
	KindFalse:       "false",
	KindRaw:         "raw",
	KindError:       "error",
	KindFunctionRef: "function",
	KindStream:      "stream",
	KindEnd:         "end",
	KindAny:         "any",
}

func (k Kind) String() string {
	if s, have := kindNames[k]; have {
		return s
	}
	return "unknown"
}

// ParseKind is the inverse of Kind.String.
//
// "boolean" is accepted as a synonym for "true".
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "boolean" || s == "bool" {
		return KindTrue, nil
	}
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindEmpty, errors.New("unknown kind '" + s + "'")
}
