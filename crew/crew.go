/* Copyright 2018 Comcast Cable Communications Management, LLC
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

// Package crew manages the execution contexts that drivers evaluate
// inputs in.
package crew

import (
	"context"
	"log"
	"sort"
	"sync"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/metrics"
	"github.com/Comcast/jsonpipe/storage"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/iancoleman/strcase"
)

// Strategy determines how a Manager maps inputs to execution
// contexts.
type Strategy int

const (
	// Singleton uses one context for everything.
	Singleton Strategy = iota

	// AlwaysCreateNew makes a new context for every input.
	AlwaysCreateNew

	// ReuseByCorrelationID keeps one context per correlation id.
	ReuseByCorrelationID
)

func (s Strategy) String() string {
	switch s {
	case Singleton:
		return "singleton"
	case AlwaysCreateNew:
		return "always_create_new"
	case ReuseByCorrelationID:
		return "reuse_by_correlation_id"
	}
	return "unknown"
}

// ParseStrategy accepts a Strategy's name in any case convention, so
// "reuse_by_correlation_id", "reuseByCorrelationId" and
// "ReuseByCorrelationID" are all the same.
func ParseStrategy(s string) (Strategy, error) {
	switch strcase.ToSnake(s) {
	case "singleton", "":
		return Singleton, nil
	case "always_create_new", "always_new", "new":
		return AlwaysCreateNew, nil
	case "reuse_by_correlation_id", "correlation", "by_correlation_id":
		return ReuseByCorrelationID, nil
	}
	return Singleton, core.NewConfigurationError("strategy", "unknown strategy %q", s)
}

// Factory makes a new execution context in the given Arena.
type Factory func(arena *core.Arena, id string) (*core.ExecContext, error)

// Manager resolves execution contexts according to its Strategy.
//
// A Manager is safe for concurrent use.  Resolution for a given
// correlation id is linearizable: concurrent callers with the same id
// get the same context.
type Manager struct {
	sync.Mutex

	// Namespace qualifies state in the Store.  Typically the
	// program name.
	Namespace string

	// Store, if not nil, persists the state of correlation-scoped
	// contexts across Release.
	Store storage.Store

	Arena *core.Arena

	Verbose bool

	strategy  Strategy
	factory   Factory
	ctx       context.Context
	singleton *core.ExecContext
	contexts  map[string]*core.ExecContext

	// releasing holds a channel per correlation id whose context is
	// being retired.  The channel is closed once the state is saved.
	releasing map[string]chan struct{}
}

// NewManager makes a Manager.  The given ctx bounds the lifetime of
// the contexts' signal services.
func NewManager(ctx context.Context, strategy Strategy, factory Factory) *Manager {
	return &Manager{
		Arena:     core.NewArena(),
		strategy:  strategy,
		factory:   factory,
		ctx:       ctx,
		contexts:  make(map[string]*core.ExecContext),
		releasing: make(map[string]chan struct{}),
	}
}

func (m *Manager) logf(format string, args ...interface{}) {
	if m.Verbose {
		log.Printf("crew.Manager "+format, args...)
	}
}

// Strategy returns the Manager's fixed Strategy.
func (m *Manager) Strategy() Strategy {
	return m.strategy
}

func (m *Manager) create(ctx context.Context, correlationID string) (*core.ExecContext, error) {
	id := uuid.New().String()
	ec, err := m.factory(m.Arena, id)
	if err != nil {
		return nil, err
	}
	ec.CorrelationId = correlationID

	if m.Store != nil && correlationID != "" {
		state, err := m.Store.Load(ctx, m.Namespace, correlationID)
		if err != nil {
			m.Arena.Remove(ec.Handle())
			return nil, err
		}
		if state != nil {
			ec.State().Load(state)
		}
	}

	if err := ec.Start(m.ctx); err != nil {
		m.Arena.Remove(ec.Handle())
		return nil, err
	}

	metrics.ContextsCreated.WithLabelValues(m.strategy.String()).Inc()
	m.logf("created %s (correlation %q)", id, correlationID)

	return ec, nil
}

// Resolve returns the context for the given correlation id according
// to the Strategy.
//
// With ReuseByCorrelationID, an empty correlation id is a
// ConfigurationError.  The other strategies ignore the id except to
// record it on new contexts.
func (m *Manager) Resolve(ctx context.Context, correlationID string) (*core.ExecContext, error) {
	switch m.strategy {
	case Singleton:
		m.Lock()
		defer m.Unlock()
		if m.singleton == nil {
			ec, err := m.create(ctx, "")
			if err != nil {
				return nil, err
			}
			m.singleton = ec
		}
		return m.singleton, nil

	case AlwaysCreateNew:
		return m.create(ctx, correlationID)

	case ReuseByCorrelationID:
		if correlationID == "" {
			return nil, core.NewConfigurationError("correlationId",
				"strategy %s requires a correlation id", m.strategy)
		}
		for {
			m.Lock()
			if ec, have := m.contexts[correlationID]; have {
				m.Unlock()
				return ec, nil
			}
			if done, releasing := m.releasing[correlationID]; releasing {
				m.Unlock()
				// The new context has to see the saved state.
				select {
				case <-done:
					continue
				case <-ctx.Done():
					return nil, ctx.Err()
				}
			}
			ec, err := m.create(ctx, correlationID)
			if err == nil {
				m.contexts[correlationID] = ec
			}
			m.Unlock()
			return ec, err
		}
	}

	return nil, core.NewConfigurationError("strategy", "unknown strategy %d", m.strategy)
}

// Done is called when a driver is finished with a resolved context.
// Contexts from AlwaysCreateNew are shut down and forgotten.
func (m *Manager) Done(ctx context.Context, ec *core.ExecContext) {
	if m.strategy != AlwaysCreateNew {
		return
	}
	m.retire(ctx, ec, false)
}

// retire flushes the context's pending aggregates, shuts it down,
// optionally saves its state, and removes it from the Arena.
func (m *Manager) retire(ctx context.Context, ec *core.ExecContext, save bool) error {
	if err := ec.FlushAggregates(ctx); err != nil {
		m.logf("%s flush error %s", ec.Id, err)
	}
	ec.Shutdown()
	defer m.Arena.Remove(ec.Handle())
	if save && m.Store != nil && ec.CorrelationId != "" {
		return m.Store.Save(ctx, m.Namespace, ec.CorrelationId, ec.State().Snapshot())
	}
	return nil
}

// Release shuts down and forgets the context for the correlation id.
// Its state is saved to the Store first.  Releasing an unknown id does
// nothing.
func (m *Manager) Release(ctx context.Context, correlationID string) error {
	m.Lock()
	ec, have := m.contexts[correlationID]
	if !have {
		m.Unlock()
		return nil
	}
	delete(m.contexts, correlationID)
	done := m.beginRelease(correlationID)
	m.Unlock()

	defer m.endRelease(correlationID, done)

	m.logf("releasing %s (correlation %q)", ec.Id, correlationID)
	return m.retire(ctx, ec, true)
}

// beginRelease marks the id as releasing.  Must be called with the
// lock held.
func (m *Manager) beginRelease(correlationID string) chan struct{} {
	done := make(chan struct{})
	m.releasing[correlationID] = done
	return done
}

func (m *Manager) endRelease(correlationID string, done chan struct{}) {
	m.Lock()
	if m.releasing[correlationID] == done {
		delete(m.releasing, correlationID)
	}
	m.Unlock()
	close(done)
}

// Contexts returns the current correlation-scoped contexts' ids,
// sorted.
func (m *Manager) Contexts() []string {
	m.Lock()
	acc := make([]string, 0, len(m.contexts))
	for id := range m.contexts {
		acc = append(acc, id)
	}
	m.Unlock()
	sort.Strings(acc)
	return acc
}

// Len returns the number of contexts the Manager is holding.
func (m *Manager) Len() int {
	m.Lock()
	defer m.Unlock()
	n := len(m.contexts)
	if m.singleton != nil {
		n++
	}
	return n
}

// Shutdown shuts down every held context, saving state to the Store.
// All errors are reported together.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.Lock()
	ecs := make([]*core.ExecContext, 0, len(m.contexts)+1)
	dones := make([]chan struct{}, 0, len(m.contexts)+1)
	for id, ec := range m.contexts {
		ecs = append(ecs, ec)
		dones = append(dones, m.beginRelease(id))
	}
	if m.singleton != nil {
		ecs = append(ecs, m.singleton)
		dones = append(dones, nil)
	}
	m.contexts = make(map[string]*core.ExecContext)
	m.singleton = nil
	m.Unlock()

	var errs *multierror.Error
	for i, ec := range ecs {
		if err := m.retire(ctx, ec, true); err != nil {
			errs = multierror.Append(errs, err)
		}
		if dones[i] != nil {
			m.endRelease(ec.CorrelationId, dones[i])
		}
	}
	m.logf("shut down %d contexts", len(ecs))
	return errs.ErrorOrNil()
}
