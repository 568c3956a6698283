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
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Comcast/jsonpipe/metrics"
	"github.com/Comcast/jsonpipe/util"

	"github.com/hashicorp/go-multierror"
)

// ErrShutdown is returned when work is requested from an ExecContext
// that has been shut down.
var ErrShutdown = errors.New("execution context is shut down")

// Component is an integration or output component.
//
// Produce is called synchronously from within evaluation.  A
// component should report its own failures as ComponentErrors.
type Component interface {
	Produce(ctx context.Context, v *Value) (*Value, error)
}

// ExecContext is one logical evaluation session.
//
// An ExecContext is safe for concurrent evaluations.  The state store,
// the aggregation table and the error slot are shared by those
// evaluations and are guarded.
type ExecContext struct {
	// Id is a unique id for this context.
	Id string

	// CorrelationId is the correlation id that this context
	// serves (if any).
	CorrelationId string

	// Program is the statement chain to evaluate.
	Program Node

	Functions *Registry

	// Overrides are the custom operator bindings.
	Overrides *Overrides

	// Components are the named integration components that
	// Produce nodes invoke.
	Components map[string]Component

	// Output receives results via OutputResult.
	Output Component

	// ErrorOutput receives errors via OutputError.  When nil,
	// Output is used.
	ErrorOutput Component

	// Signal, when not nil, is run by Start.
	Signal *SignalService

	// Logf, if not nil, is used for logging.  Otherwise
	// util.Logf.
	Logf func(format string, args ...interface{})

	handle Handle
	arena  *Arena
	state  *StateStore

	aggMu      sync.Mutex
	aggregates map[string]*AggregateState

	mu        sync.Mutex
	initial   *Value
	modules   map[string]*ExecContext
	lastErr   *Error
	exception error
	cancel    context.CancelFunc
	done      chan struct{}
	flights   int
	idle      *sync.Cond

	shutdown int32
}

// NewExecContext makes an ExecContext owned by the given Arena.
func NewExecContext(arena *Arena, id string) *ExecContext {
	if arena == nil {
		arena = NewArena()
	}
	ec := &ExecContext{
		Id:         id,
		Functions:  NewRegistry(),
		Overrides:  NewOverrides(),
		Components: make(map[string]Component),
		arena:      arena,
		state:      NewStateStore(),
		aggregates: make(map[string]*AggregateState),
		modules:    make(map[string]*ExecContext),
		initial:    Empty(),
	}
	ec.Functions.MustRegister(Builtins()...)
	ec.idle = sync.NewCond(&ec.mu)
	ec.handle = arena.add(ec)
	return ec
}

func (ec *ExecContext) logf(format string, args ...interface{}) {
	if ec.Logf != nil {
		ec.Logf(format, args...)
		return
	}
	util.Logf(format, args...)
}

// Handle returns this context's handle in its Arena.
func (ec *ExecContext) Handle() Handle {
	return ec.handle
}

// Arena returns the Arena that owns this context.
func (ec *ExecContext) Arena() *Arena {
	return ec.arena
}

// NewStatement makes a root Statement for this context.
func (ec *ExecContext) NewStatement(ctx context.Context, current *Value) *Statement {
	return NewStatement(ctx, ec.arena, ec.handle, current)
}

// SetInitialValue sets the input for EvaluateSelectStatement.
func (ec *ExecContext) SetInitialValue(v *Value) {
	ec.mu.Lock()
	ec.initial = v.Copy()
	ec.mu.Unlock()
}

// InitialValue returns a copy of the initial value.
func (ec *ExecContext) InitialValue() *Value {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.initial.Copy()
}

// EvaluateSelectStatement evaluates the program against the initial
// value.
func (ec *ExecContext) EvaluateSelectStatement(ctx context.Context) (*Value, error) {
	return ec.Evaluate(ctx, ec.InitialValue())
}

// Evaluate evaluates the program against the given input.
//
// Unlike EvaluateSelectStatement, the initial value isn't stored, so
// concurrent calls don't interfere.  An unhandled error is raised on
// the context and returned.
func (ec *ExecContext) Evaluate(ctx context.Context, initial *Value) (*Value, error) {
	if ec.IsShutdown() {
		return nil, ErrShutdown
	}
	metrics.Evaluations.Inc()

	if initial == nil {
		initial = Empty()
	}
	st := ec.NewStatement(ctx, initial.Copy())
	st.Bind("input", initial.Copy())

	if ec.Program == nil {
		return st.CurrentValue(), nil
	}

	v, err := ec.Program.Evaluate(st)
	if err != nil {
		return nil, st.raise(err)
	}
	return v, nil
}

// Raise attaches the error to this context as the current error.
//
// Raising the current error again does nothing.
func (ec *ExecContext) Raise(e *Error) {
	if e == nil {
		return
	}
	ec.mu.Lock()
	same := ec.lastErr == e
	if !same {
		ec.lastErr = e
		ec.exception = e.Cause
	}
	ec.mu.Unlock()
	if !same {
		metrics.EvaluationErrors.WithLabelValues(e.Kind.String()).Inc()
		ec.logf("ExecContext %s raised %s", ec.Id, e)
	}
}

// MarkHandled clears the current error and exception.
func (ec *ExecContext) MarkHandled() {
	ec.mu.Lock()
	ec.lastErr = nil
	ec.exception = nil
	ec.mu.Unlock()
}

// Error returns the current error, if any.
func (ec *ExecContext) Error() *Error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.lastErr
}

// Exception returns the Go error underlying the current error, if
// any.
func (ec *ExecContext) Exception() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	return ec.exception
}

// State returns the state store.
func (ec *ExecContext) State() *StateStore {
	return ec.state
}

// GetStateValueByKey reads the state store.  When the key is absent
// and initial isn't nil, initial is stored and returned.
func (ec *ExecContext) GetStateValueByKey(key string, initial *Value) *Value {
	v, _ := ec.state.Get(key, initial)
	return v
}

func (ec *ExecContext) SetStateKeyAndValue(key string, v *Value) {
	ec.state.Set(key, v)
}

// DefineAggregate installs an aggregation site.  An existing site with
// the same id is replaced.
func (ec *ExecContext) DefineAggregate(id string, def *AggregateDef) *AggregateState {
	a := NewAggregateState(id, def)
	ec.aggMu.Lock()
	ec.aggregates[id] = a
	ec.aggMu.Unlock()
	return a
}

// Aggregate returns the aggregation site with the given id.
func (ec *ExecContext) Aggregate(id string) (*AggregateState, error) {
	ec.aggMu.Lock()
	a, have := ec.aggregates[id]
	ec.aggMu.Unlock()
	if !have {
		return nil, NewEvaluationError("aggregate-not-found", "no aggregate %q", id)
	}
	return a, nil
}

// Aggregates returns the aggregation sites ordered by id.
func (ec *ExecContext) Aggregates() []*AggregateState {
	ec.aggMu.Lock()
	acc := make([]*AggregateState, 0, len(ec.aggregates))
	for _, a := range ec.aggregates {
		acc = append(acc, a)
	}
	ec.aggMu.Unlock()
	sort.Slice(acc, func(i, j int) bool { return acc[i].Id < acc[j].Id })
	return acc
}

// CheckAggregates flushes every aggregation site whose window has
// expired.
func (ec *ExecContext) CheckAggregates(ctx context.Context) error {
	var err error
	for _, a := range ec.Aggregates() {
		if _, e := a.CheckTimeout(ctx, ec); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// FlushAggregates flushes every aggregation site now, including
// windows that haven't expired.  Call it before Shutdown to deliver
// pending results instead of dropping them.
func (ec *ExecContext) FlushAggregates(ctx context.Context) error {
	var errs *multierror.Error
	for _, a := range ec.Aggregates() {
		if _, err := a.Flush(ctx, ec); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs.ErrorOrNil()
}

// FlushAggregate flushes the given aggregation site now.
func (ec *ExecContext) FlushAggregate(ctx context.Context, id string) ([]*Value, error) {
	a, err := ec.Aggregate(id)
	if err != nil {
		return nil, err
	}
	return a.Flush(ctx, ec)
}

func (ec *ExecContext) beginFlight() {
	ec.mu.Lock()
	ec.flights++
	ec.mu.Unlock()
}

func (ec *ExecContext) endFlight() {
	ec.mu.Lock()
	ec.flights--
	if ec.flights == 0 {
		ec.idle.Broadcast()
	}
	ec.mu.Unlock()
}

func (ec *ExecContext) waitFlights() {
	ec.mu.Lock()
	for 0 < ec.flights {
		ec.idle.Wait()
	}
	ec.mu.Unlock()
}

// Component returns the named integration component.
func (ec *ExecContext) Component(name string) (Component, bool) {
	c, have := ec.Components[name]
	return c, have
}

// Import adds a module.  The module's functions become callable with
// the module's name as a prefix.
func (ec *ExecContext) Import(name string, module *ExecContext) {
	ec.mu.Lock()
	ec.modules[name] = module
	ec.mu.Unlock()
	ec.Functions.Import(name, module.Functions)
}

// Module returns the named imported module.
func (ec *ExecContext) Module(name string) (*ExecContext, bool) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	m, have := ec.modules[name]
	return m, have
}

// OutputResult hands the value to the Output component.
func (ec *ExecContext) OutputResult(ctx context.Context, v *Value) error {
	if ec.Output == nil {
		ec.logf("ExecContext %s result %s", ec.Id, v)
		return nil
	}
	_, err := ec.Output.Produce(ctx, v)
	return err
}

// OutputError reports the current error (if any).
func (ec *ExecContext) OutputError(ctx context.Context) error {
	e := ec.Error()
	if e == nil {
		return nil
	}
	return ec.ReportError(ctx, e)
}

// ReportError reports the given error to ErrorOutput (or Output).
func (ec *ExecContext) ReportError(ctx context.Context, err error) error {
	e := AsError(err)
	out := ec.ErrorOutput
	if out == nil {
		out = ec.Output
	}
	if out == nil {
		ec.logf("ExecContext %s error %s", ec.Id, e)
		return nil
	}
	_, err = out.Produce(ctx, e.Value())
	return err
}

// Start runs the SignalService (if any) in a goroutine.
//
// The service stops when ctx is done or at Shutdown.
func (ec *ExecContext) Start(ctx context.Context) error {
	if ec.IsShutdown() {
		return ErrShutdown
	}
	if ec.Signal == nil {
		return nil
	}

	ec.mu.Lock()
	if ec.cancel != nil {
		ec.mu.Unlock()
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ec.cancel = cancel
	ec.done = done
	ec.mu.Unlock()

	svc := *ec.Signal
	svc.Heartbeat = ec.heartbeat
	svc.IsShutdown = ec.IsShutdown
	if svc.Logf == nil {
		svc.Logf = ec.logf
	}

	go func() {
		defer close(done)
		svc.Run(ctx)
	}()

	return nil
}

func (ec *ExecContext) heartbeat(ctx context.Context, s Signal) error {
	return ec.CheckAggregates(ctx)
}

// Shutdown stops the SignalService, waits for aggregation flushes
// already underway, and shuts down imported modules.
//
// Calling Shutdown more than once is harmless.
func (ec *ExecContext) Shutdown() {
	if !atomic.CompareAndSwapInt32(&ec.shutdown, 0, 1) {
		return
	}

	ec.mu.Lock()
	cancel, done := ec.cancel, ec.done
	modules := make([]*ExecContext, 0, len(ec.modules))
	for _, m := range ec.modules {
		modules = append(modules, m)
	}
	ec.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	ec.waitFlights()

	for _, m := range modules {
		m.Shutdown()
	}

	ec.logf("ExecContext %s shut down", ec.Id)
}

func (ec *ExecContext) IsShutdown() bool {
	return atomic.LoadInt32(&ec.shutdown) == 1
}
