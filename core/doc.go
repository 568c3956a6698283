/* Copyright 2018-2019 Comcast Cable Communications Management, LLC
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

// Package core provides the evaluation gear for JSON-native
// expression programs.
//
// The primary types are Value, Statement, and ExecContext.  A Value
// is a tagged union over the JSON-ish kinds (plus a few kinds that
// only make sense at runtime, such as Error, FunctionRef, and
// Stream).  Anything that can be evaluated is a Node, and a *Value
// is itself a Node: evaluating a literal gives back a copy of that
// literal.  Deferred computations (accessors, operators, function
// calls, chains) are other Node implementations.
//
// Evaluation is threaded through Statements.  A Statement holds the
// "current value", a set of bindings, and a Handle for the
// ExecContext that owns it.  Statements form a tree that mirrors the
// program structure, and a lookup that fails locally falls back to
// the parent Statement.
//
// An ExecContext is one logical evaluation session.  It owns the
// function Registry, a state store that persists across evaluations,
// the aggregation table, and the most recently raised error.  An
// ExecContext can run a SignalService, which periodically checks
// aggregation timeouts.
//
// Programs are usually given as documents (JSON or YAML) that are
// Compile()ed into a Node tree.  See Program.
//
// Errors are values.  Any evaluation failure is represented by an
// *Error, which is attached to the ExecContext as its current error.
// A Chain step that fails interrupts the rest of the chain unless a
// later Handled step marks the error as handled.
package core
