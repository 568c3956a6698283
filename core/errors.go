package core

// These errors are user errors, not internal errors.  Each one is
// also a Value (see ErrorValue), so a program can inspect them.

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is the error taxonomy.
type ErrorKind int

const (
	// EvaluationError is an operator or type mismatch.
	EvaluationError ErrorKind = iota

	// FunctionError is raised inside a function and is
	// namespace-qualified by the function's group.
	FunctionError

	// ComponentError is raised by an integration component.
	ComponentError

	// ConfigurationError is an unrecognized or invalid
	// configuration key (or strategy).
	ConfigurationError

	// BindingNotFound occurs when a Statement lookup fails.
	BindingNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case EvaluationError:
		return "EvaluationError"
	case FunctionError:
		return "FunctionError"
	case ComponentError:
		return "ComponentError"
	case ConfigurationError:
		return "ConfigurationError"
	case BindingNotFound:
		return "BindingNotFound"
	}
	return "UnknownError"
}

// Error is a typed error that's also a value.
type Error struct {
	Kind ErrorKind

	// Type is a namespace-like tag ("core:math").
	Type string

	// Code is a short, stable identifier ("domain").
	Code string

	Message string

	// JSON is an optional payload.
	JSON *Value

	// Cause is the underlying exception (if any).
	Cause error
}

var (
	// ErrEvaluation and friends can be used with errors.Is to
	// test the Kind of an error.
	ErrEvaluation     = &Error{Kind: EvaluationError}
	ErrFunction       = &Error{Kind: FunctionError}
	ErrComponent      = &Error{Kind: ComponentError}
	ErrConfiguration  = &Error{Kind: ConfigurationError}
	ErrBindingMissing = &Error{Kind: BindingNotFound}

	// InterpreterNotFound occurs when you try to Compile a
	// FunctionSource, and the required interpreter isn't in the
	// given map of interpreters.
	InterpreterNotFound = errors.New("interpreter not found")
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Type != "" {
		b.WriteString(" " + e.Type)
	}
	if e.Code != "" {
		b.WriteString(" (" + e.Code + ")")
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches a sentinel (an Error with only a Kind) of the same Kind.
func (e *Error) Is(target error) bool {
	t, is := target.(*Error)
	if !is {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return (t.Code == "" || t.Code == e.Code) && (t.Type == "" || t.Type == e.Type)
}

// Copy makes a copy of the error.  The payload is deep-copied.
func (e *Error) Copy() *Error {
	if e == nil {
		return nil
	}
	acc := *e
	if e.JSON != nil {
		acc.JSON = e.JSON.Copy()
	}
	return &acc
}

// Value wraps the error in a Value.
func (e *Error) Value() *Value {
	return ErrorValue(e)
}

// Interface renders the error as plain data.
func (e *Error) Interface() interface{} {
	m := map[string]interface{}{
		"kind":    e.Kind.String(),
		"type":    e.Type,
		"code":    e.Code,
		"message": e.Message,
	}
	if e.JSON != nil {
		m["json"] = e.JSON.Interface()
	}
	return map[string]interface{}{
		"error": m,
	}
}

// Object renders the error as an object with properties kind, type,
// code, message, and json (if any).
func (e *Error) Object() *Value {
	acc := NewObject().
		Put("kind", String(e.Kind.String())).
		Put("type", String(e.Type)).
		Put("code", String(e.Code)).
		Put("message", String(e.Message))
	if e.JSON != nil {
		acc.Put("json", e.JSON.Copy())
	}
	return acc
}

// WithJSON attaches a payload.
func (e *Error) WithJSON(v *Value) *Error {
	e.JSON = v
	return e
}

// NewEvaluationError makes an EvaluationError.
func NewEvaluationError(code, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    EvaluationError,
		Type:    "core:eval",
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewFunctionError makes a FunctionError for the given function group
// (for example "core:math").
func NewFunctionError(group, code, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    FunctionError,
		Type:    group,
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewComponentError makes a ComponentError with an optional payload.
func NewComponentError(component, code, msg string, payload *Value) *Error {
	return &Error{
		Kind:    ComponentError,
		Type:    "component:" + component,
		Code:    code,
		Message: msg,
		JSON:    payload,
	}
}

// NewConfigurationError makes a ConfigurationError for the given key.
func NewConfigurationError(key, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    ConfigurationError,
		Type:    "config",
		Code:    key,
		Message: fmt.Sprintf(format, args...),
	}
}

// NewBindingNotFound makes a BindingNotFound error.
func NewBindingNotFound(name string) *Error {
	return &Error{
		Kind:    BindingNotFound,
		Type:    "core:binding",
		Code:    "not-found",
		Message: `no binding for "` + name + `"`,
	}
}

// AsError returns the *Error in err's chain or makes a new
// EvaluationError with err as its Cause.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Kind:    EvaluationError,
		Type:    "core:eval",
		Code:    "exception",
		Message: err.Error(),
		Cause:   err,
	}
}

// asGroupError is like AsError, but a foreign error becomes a
// FunctionError for the given group.
func asGroupError(group string, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{
		Kind:    FunctionError,
		Type:    group,
		Code:    "exception",
		Message: err.Error(),
		Cause:   err,
	}
}
