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
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Comcast/jsonpipe/core"
)

// Writer is a component that writes each value as a line of JSON.
type Writer struct {
	sync.Mutex

	W io.Writer

	// Timestamps prepends a timestamp to each line.
	Timestamps bool

	// Tag, if not empty, prefixes each line.
	Tag string
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{
		W: w,
	}
}

func (w *Writer) Produce(ctx context.Context, v *core.Value) (*core.Value, error) {
	line := v.String()
	if w.Tag != "" {
		line = w.Tag + " " + line
	}
	if w.Timestamps {
		line = fmt.Sprintf("%-31s %s", core.Timestamp(time.Time{}), line)
	}

	w.Lock()
	defer w.Unlock()
	if _, err := fmt.Fprintln(w.W, line); err != nil {
		return nil, core.NewComponentError("writer", "write", err.Error(), nil)
	}
	return nil, nil
}

// Collector is a component that remembers what it's given.
type Collector struct {
	sync.Mutex

	vs []*core.Value
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Produce(ctx context.Context, v *core.Value) (*core.Value, error) {
	c.Lock()
	c.vs = append(c.vs, v.Copy())
	c.Unlock()
	return nil, nil
}

// Values returns copies of everything collected so far.
func (c *Collector) Values() []*core.Value {
	c.Lock()
	defer c.Unlock()
	acc := make([]*core.Value, len(c.vs))
	for i, v := range c.vs {
		acc[i] = v.Copy()
	}
	return acc
}

// Len returns the number of values collected.
func (c *Collector) Len() int {
	c.Lock()
	defer c.Unlock()
	return len(c.vs)
}

// Strings renders the collected values as JSON.
func (c *Collector) Strings() []string {
	vs := c.Values()
	acc := make([]string, len(vs))
	for i, v := range vs {
		acc[i] = v.String()
	}
	return acc
}
