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

// Package sio has input drivers and output components that couple
// execution contexts to the outside world.
package sio

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/crew"
)

// ErrRunning is returned by Start when a Driver is already running.
var ErrRunning = errors.New("driver is already running")

// Driver produces inputs and hands them to execution contexts
// resolved by a crew.Manager.
type Driver interface {
	// Start begins producing inputs.  Start does not block.
	Start(ctx context.Context, m *crew.Manager) error

	// Stop stops producing inputs and waits for work underway.
	Stop(ctx context.Context) error

	IsRunning() bool
}

// Process resolves a context for the correlation id, evaluates the
// input in it, and sends the result to the context's Output.
//
// An evaluation error is reported to the context's error output and
// returned.  A driver should log that error and keep running.
func Process(ctx context.Context, m *crew.Manager, correlationID string, input *core.Value) (*core.Value, error) {
	ec, err := m.Resolve(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	defer m.Done(ctx, ec)

	v, err := ec.Evaluate(ctx, input)
	if err != nil {
		if rerr := ec.ReportError(ctx, err); rerr != nil {
			log.Printf("sio.Process error output failed: %s", rerr)
		}
		return nil, err
	}

	if err = ec.OutputResult(ctx, v); err != nil {
		return v, err
	}
	return v, nil
}

// CorrelationID extracts the correlation id from the given property
// of an object input.  Strings and numbers qualify.
func CorrelationID(field string, input *core.Value) string {
	if field == "" || input.Kind != core.KindObject {
		return ""
	}
	x, have := input.Get(field)
	if !have {
		return ""
	}
	switch x.Kind {
	case core.KindString:
		return x.Str()
	case core.KindNumber:
		return x.Number().String()
	}
	return ""
}

// lifecycle is the running state that Drivers share.
type lifecycle struct {
	sync.Mutex

	Verbose bool

	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func (l *lifecycle) logf(format string, args ...interface{}) {
	if l.Verbose {
		log.Printf(format, args...)
	}
}

// begin marks the Driver running and returns a context that end
// cancels.
func (l *lifecycle) begin(ctx context.Context) (context.Context, error) {
	l.Lock()
	defer l.Unlock()
	if l.running {
		return nil, ErrRunning
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	return ctx, nil
}

// goDo runs f in a goroutine that end waits for.
func (l *lifecycle) goDo(f func()) {
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		f()
	}()
}

// end cancels and waits.  Calling end when not running is harmless.
func (l *lifecycle) end() {
	l.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.running = false
	l.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

// stopped marks the Driver not running without waiting (for use by a
// Driver's own goroutines).
func (l *lifecycle) stopped() {
	l.Lock()
	l.running = false
	l.Unlock()
}

// fresh returns c unless it's nil or already closed by an earlier run.
func fresh(c chan bool) chan bool {
	if c == nil {
		return make(chan bool)
	}
	select {
	case <-c:
		return make(chan bool)
	default:
		return c
	}
}

func (l *lifecycle) IsRunning() bool {
	l.Lock()
	defer l.Unlock()
	return l.running
}

func (l *lifecycle) process(ctx context.Context, m *crew.Manager, cid string, input *core.Value) {
	l.logf("sio processing %s (correlation %q)", JShort(input), cid)
	if _, err := Process(ctx, m, cid, input); err != nil {
		l.logf("sio process error: %s", err)
	}
}

// NewDriver makes the named Driver ("stdio", "file", "ticker",
// "mqtt", or "websocket") from the Conf.
func NewDriver(name string, c Conf) (Driver, error) {
	switch name {
	case "stdio":
		return NewStdio(c)
	case "file":
		return NewFile(c)
	case "ticker":
		return NewTicker(c)
	case "mqtt":
		return NewMQTT(c)
	case "websocket", "ws":
		return NewWebSocket(c)
	}
	return nil, core.NewConfigurationError("driver", "unknown driver %q", name)
}
