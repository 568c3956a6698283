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

// Package storage persists the state of correlation-scoped execution
// contexts.
//
// State is kept per namespace (typically a program name) and id
// (typically a correlation id) as a JSON object.
package storage

import (
	"context"

	"github.com/Comcast/jsonpipe/core"
)

// Store is a persistence interface that's suitable for a
// crew.Manager.
type Store interface {
	// Load returns the stored state, or nil if there isn't any.
	Load(ctx context.Context, ns, id string) (*core.Value, error)

	// Save writes the state, replacing whatever was there.
	Save(ctx context.Context, ns, id string, state *core.Value) error

	// Remove forgets the state.  Removing something that isn't
	// there isn't an error.
	Remove(ctx context.Context, ns, id string) error

	Close(ctx context.Context) error
}

// Noop stores nothing.
type Noop struct {
}

func (s *Noop) Load(ctx context.Context, ns, id string) (*core.Value, error) {
	return nil, nil
}

func (s *Noop) Save(ctx context.Context, ns, id string, state *core.Value) error {
	return nil
}

func (s *Noop) Remove(ctx context.Context, ns, id string) error {
	return nil
}

func (s *Noop) Close(ctx context.Context) error {
	return nil
}
