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

package sio

import (
	"context"
	"time"

	"github.com/Comcast/jsonpipe/core"
	"github.com/Comcast/jsonpipe/crew"
)

// Ticker is a Driver that produces an input at every interval or at
// every instant of a cron schedule.
//
// Each input is {"tick":N,"at":TIMESTAMP} with Payload (if any) under
// "payload".
type Ticker struct {
	lifecycle

	Interval time.Duration

	// Schedule, if not nil, overrides Interval.
	Schedule string

	// CorrelationID is given to every input.
	CorrelationID string

	Payload *core.Value

	// Limit, if positive, stops the Ticker after that many ticks.
	Limit int

	// Done will be closed when the Ticker stops on its own.
	Done chan bool
}

// NewTicker makes a Ticker from the Conf.
func NewTicker(c Conf) (*Ticker, error) {
	if err := c.Check("interval", "cron", "correlationId", "payload", "limit", "verbose"); err != nil {
		return nil, err
	}
	t := &Ticker{
		Done: make(chan bool),
	}
	var err error
	if t.Interval, err = c.Duration("interval", core.DefaultHeartbeat); err != nil {
		return nil, err
	}
	if t.Schedule, err = c.String("cron", ""); err != nil {
		return nil, err
	}
	if t.Schedule != "" {
		if _, err := core.ParseSchedule(t.Schedule); err != nil {
			return nil, core.NewConfigurationError("cron", "%s", err.Error())
		}
	}
	if t.CorrelationID, err = c.String("correlationId", ""); err != nil {
		return nil, err
	}
	if t.Limit, err = c.Int("limit", 0); err != nil {
		return nil, err
	}
	if t.Verbose, err = c.Bool("verbose", false); err != nil {
		return nil, err
	}
	if x, have := c["payload"]; have {
		if t.Payload, err = core.FromInterface(x); err != nil {
			return nil, core.NewConfigurationError("payload", "%s", err.Error())
		}
	}
	return t, nil
}

// Start runs a core.SignalService whose heartbeat processes a tick.
func (t *Ticker) Start(ctx context.Context, m *crew.Manager) error {
	svc := &core.SignalService{
		Interval: t.Interval,
	}
	if t.Schedule != "" {
		s, err := core.ParseSchedule(t.Schedule)
		if err != nil {
			return core.NewConfigurationError("cron", "%s", err.Error())
		}
		svc.Schedule = s
	}

	ctx, err := t.begin(ctx)
	if err != nil {
		return err
	}
	t.Lock()
	t.Done = fresh(t.Done)
	done := t.Done
	t.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	n := 0
	svc.Heartbeat = func(ctx context.Context, s core.Signal) error {
		n++
		in := core.NewObject()
		in.Put("tick", core.NumP(float64(n), 0))
		in.Put("at", core.String(core.Timestamp(s.At)))
		if t.Payload != nil {
			in.Put("payload", t.Payload.Copy())
		}
		_, err := Process(ctx, m, t.CorrelationID, in)
		if 0 < t.Limit && t.Limit <= n {
			cancel()
		}
		return err
	}
	svc.Logf = t.logf

	t.goDo(func() {
		defer close(done)
		defer t.stopped()
		defer cancel()
		svc.Run(ctx)
	})

	return nil
}

func (t *Ticker) Stop(ctx context.Context) error {
	t.end()
	return nil
}
