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
	"fmt"
	"sync"
	"time"

	"github.com/Comcast/jsonpipe/metrics"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

var (
	// DefaultAggregateTimeout is the window used when an
	// AggregateDef doesn't give one.
	DefaultAggregateTimeout = time.Second

	// Workers bounds the concurrency of a flush (and of a
	// parallel Map).
	Workers = 3
)

// AggregateDef describes an aggregation site.
type AggregateDef struct {
	// Timeout is the length of a window, which starts at the
	// first registration.
	Timeout time.Duration

	// Initial, if not nil, is the starting accumulator for each
	// key when Combine is given.  Otherwise the first value is
	// the starting accumulator.
	Initial *Value

	// Combine, if not nil, folds a new value into the
	// accumulator.  It's evaluated with bindings "acc", "value"
	// and "key", and the new value as the current value.
	//
	// Without Combine, values accumulate in an array.
	Combine Node

	// Result, if not nil, is evaluated per key at flush time in a
	// fresh Statement with the accumulator as the current value
	// and bindings "key" and "count".  Without Result, the
	// accumulator is the result.
	Result Node

	// Output, if true, sends each flushed result to the owning
	// context's Output.
	Output bool
}

// Consumer receives flushed results.
type Consumer func(ctx context.Context, id, key string, result *Value)

type accumulator struct {
	v *Value
	n int
}

// AggregateState accumulates values by correlation key and flushes
// them once per window.
type AggregateState struct {
	Id  string
	Def *AggregateDef

	// Now is the clock.  Defaults to time.Now.
	Now func() time.Time

	mu        sync.Mutex
	entries   map[string]*accumulator
	order     []string
	started   time.Time
	timeout   time.Duration
	armed     bool
	windows   uint64
	consumers []Consumer
}

// NewAggregateState makes an AggregateState with no entries.
func NewAggregateState(id string, def *AggregateDef) *AggregateState {
	if def == nil {
		def = &AggregateDef{}
	}
	return &AggregateState{
		Id:      id,
		Def:     def,
		Now:     time.Now,
		entries: make(map[string]*accumulator),
	}
}

func (a *AggregateState) now() time.Time {
	if a.Now == nil {
		return time.Now()
	}
	return a.Now()
}

// Subscribe adds a consumer for flushed results.
func (a *AggregateState) Subscribe(c Consumer) {
	a.mu.Lock()
	a.consumers = append(a.consumers, c)
	a.mu.Unlock()
}

// Register adds the value under the given correlation key.
//
// Registration and draining are serialized, so a value is either in
// the window being drained or in the next one.  Combine is evaluated
// while the site is locked, so a Combine expression must not register
// with the same site.
func (a *AggregateState) Register(st *Statement, key string, v *Value) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acc, have := a.entries[key]
	if !have {
		acc = &accumulator{}
	}

	if a.Def.Combine == nil {
		if acc.v == nil {
			acc.v = ArrayOf()
		}
		acc.v.Append(v.Copy())
	} else {
		prev := acc.v
		if prev == nil && a.Def.Initial != nil {
			prev = a.Def.Initial.Copy()
		}
		if prev == nil {
			acc.v = v.Copy()
		} else {
			cst := st.Fresh(v.Copy())
			cst.Bind("acc", prev)
			cst.Bind("value", v.Copy())
			cst.Bind("key", String(key))
			x, err := a.Def.Combine.Evaluate(cst)
			if err != nil {
				return err
			}
			acc.v = x
		}
	}
	acc.n++

	if !have {
		a.entries[key] = acc
		a.order = append(a.order, key)
	}

	a.startTimeoutIfAbsent(a.Def.Timeout)

	return nil
}

// StartTimeoutIfAbsent arms the window timer unless it's already
// armed.  Returns true if this call armed it.
func (a *AggregateState) StartTimeoutIfAbsent(d time.Duration) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.startTimeoutIfAbsent(d)
}

func (a *AggregateState) startTimeoutIfAbsent(d time.Duration) bool {
	if a.armed {
		return false
	}
	if d <= 0 {
		d = DefaultAggregateTimeout
	}
	a.armed = true
	a.started = a.now()
	a.timeout = d
	return true
}

// Armed reports whether a window is open.
func (a *AggregateState) Armed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.armed
}

// Pending returns the number of keys in the current window.
func (a *AggregateState) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.order)
}

// Windows returns the number of windows drained so far.
func (a *AggregateState) Windows() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.windows
}

// drain takes and clears the entries and disarms the timer.  Must be
// called with the lock held.
func (a *AggregateState) drain() (map[string]*accumulator, []string) {
	entries, order := a.entries, a.order
	a.entries = make(map[string]*accumulator)
	a.order = nil
	a.armed = false
	if 0 < len(order) {
		a.windows++
	}
	return entries, order
}

// Flush drains the current window now and produces one result per
// key.
func (a *AggregateState) Flush(ctx context.Context, ec *ExecContext) ([]*Value, error) {
	ec.beginFlight()
	defer ec.endFlight()

	a.mu.Lock()
	entries, order := a.drain()
	consumers := a.consumers
	a.mu.Unlock()

	return a.flush(ctx, ec, entries, order, consumers)
}

// CheckTimeout flushes the window if it has expired.  The check and
// the drain are atomic, so at most one caller flushes a given window.
func (a *AggregateState) CheckTimeout(ctx context.Context, ec *ExecContext) ([]*Value, error) {
	ec.beginFlight()
	defer ec.endFlight()

	a.mu.Lock()
	if !a.armed || a.now().Sub(a.started) < a.timeout {
		a.mu.Unlock()
		return nil, nil
	}
	entries, order := a.drain()
	consumers := a.consumers
	a.mu.Unlock()

	return a.flush(ctx, ec, entries, order, consumers)
}

func (a *AggregateState) flush(ctx context.Context, ec *ExecContext, entries map[string]*accumulator, order []string, consumers []Consumer) ([]*Value, error) {
	if len(order) == 0 {
		return nil, nil
	}

	metrics.AggregateFlushes.WithLabelValues(a.Id).Inc()
	ec.logf("Aggregate %s flushing %d keys", a.Id, len(order))

	var (
		results = make([]*Value, len(order))
		errs    *multierror.Error
		errsMu  sync.Mutex
		g       errgroup.Group
	)
	g.SetLimit(Workers)

	for i, key := range order {
		i, key := i, key
		acc := entries[key]
		g.Go(func() error {
			st := ec.NewStatement(ctx, acc.v.Copy())
			st.Bind("key", String(key))
			st.Bind("count", NumP(float64(acc.n), 0))

			var (
				v   = acc.v
				err error
			)
			if a.Def.Result != nil {
				v, err = a.Def.Result.Evaluate(st)
			}
			if err != nil {
				errsMu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("aggregate %s key %s: %w", a.Id, key, err))
				errsMu.Unlock()
				return nil
			}
			results[i] = v
			return nil
		})
	}
	g.Wait()

	acc := make([]*Value, 0, len(results))
	for i, v := range results {
		if v == nil {
			continue
		}
		acc = append(acc, v)
		for _, c := range consumers {
			c(ctx, a.Id, order[i], v.Copy())
		}
	}

	return acc, errs.ErrorOrNil()
}

// Aggregate is the registration node.
//
// It registers Value (or the current value) under the key given by
// Key (or the context's correlation id, or its id) and yields the
// current value.
type Aggregate struct {
	ID    string
	Key   Node
	Value Node
}

func (n *Aggregate) Evaluate(st *Statement) (*Value, error) {
	ec := st.Exec()
	if ec == nil {
		return nil, NewEvaluationError("detached", "aggregate %s outside of a context", n.ID)
	}
	a, err := ec.Aggregate(n.ID)
	if err != nil {
		return nil, err
	}

	var key string
	if n.Key == nil {
		if key = ec.CorrelationId; key == "" {
			key = ec.Id
		}
	} else {
		k, err := n.Key.Evaluate(st.Child())
		if err != nil {
			return nil, err
		}
		if key, err = keyString(k); err != nil {
			return nil, err
		}
	}

	v := st.CurrentValue()
	if n.Value != nil {
		if v, err = n.Value.Evaluate(st.Child()); err != nil {
			return nil, err
		}
	}

	if err := a.Register(st, key, v); err != nil {
		return nil, err
	}

	return st.CurrentValue().Copy(), nil
}

func keyString(k *Value) (string, error) {
	switch k.Kind {
	case KindString:
		return k.Str(), nil
	case KindNumber:
		return k.Number().String(), nil
	case KindTrue, KindFalse:
		return k.String(), nil
	}
	return "", NewEvaluationError("bad-key", "can't use a %s as a key", k.Kind)
}
