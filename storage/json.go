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

package storage

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/Comcast/jsonpipe/core"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// JSONStore is a Store that keeps everything in one JSON file.
//
// The whole file is rewritten on every change, so this Store is only
// for modest amounts of state.
type JSONStore struct {
	sync.Mutex

	Filename string
	Fs       afero.Fs
	Debug    bool

	// state is namespace to id to state.
	state map[string]map[string]*core.Value
}

// NewJSONStore makes a JSONStore for the given file.  A nil Fs means
// the OS file system.
func NewJSONStore(fs afero.Fs, filename string) *JSONStore {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &JSONStore{
		Filename: filename,
		Fs:       fs,
	}
}

func (s *JSONStore) logf(format string, args ...interface{}) {
	if s.Debug {
		log.Printf("JSONStore."+format, args...)
	}
}

// Open reads the file if it exists.
func (s *JSONStore) Open(ctx context.Context) error {
	s.Lock()
	defer s.Unlock()

	s.state = make(map[string]map[string]*core.Value)

	bs, err := afero.ReadFile(s.Fs, s.Filename)
	if os.IsNotExist(err) {
		s.logf("Open %s (new)", s.Filename)
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading %s", s.Filename)
	}
	if len(bs) == 0 {
		return nil
	}

	v, err := core.ParseJSON(bs)
	if err != nil {
		return errors.Wrapf(err, "parsing %s", s.Filename)
	}
	for _, ns := range v.Keys() {
		ids, _ := v.Get(ns)
		m := make(map[string]*core.Value, ids.Len())
		for _, id := range ids.Keys() {
			m[id], _ = ids.Get(id)
		}
		s.state[ns] = m
	}
	s.logf("Open %s with %d namespaces", s.Filename, len(s.state))
	return nil
}

// write must be called with the lock held.
func (s *JSONStore) write() error {
	doc := core.NewObject()
	for ns, ids := range s.state {
		o := core.NewObject()
		for id, v := range ids {
			o.Put(id, v)
		}
		doc.Put(ns, o)
	}
	bs, err := doc.MarshalJSON()
	if err != nil {
		return err
	}
	tmp := s.Filename + ".tmp"
	if err := afero.WriteFile(s.Fs, tmp, bs, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", tmp)
	}
	if err := s.Fs.Rename(tmp, s.Filename); err != nil {
		return errors.Wrapf(err, "renaming %s", tmp)
	}
	return nil
}

func (s *JSONStore) Load(ctx context.Context, ns, id string) (*core.Value, error) {
	s.Lock()
	defer s.Unlock()
	if s.state == nil {
		return nil, errors.New("JSONStore not open")
	}
	v, have := s.state[ns][id]
	if !have {
		return nil, nil
	}
	return v.Copy(), nil
}

func (s *JSONStore) Save(ctx context.Context, ns, id string, state *core.Value) error {
	s.logf("Save %s %s", ns, id)
	s.Lock()
	defer s.Unlock()
	if s.state == nil {
		return errors.New("JSONStore not open")
	}
	ids, have := s.state[ns]
	if !have {
		ids = make(map[string]*core.Value)
		s.state[ns] = ids
	}
	ids[id] = state.Copy()
	return s.write()
}

func (s *JSONStore) Remove(ctx context.Context, ns, id string) error {
	s.logf("Remove %s %s", ns, id)
	s.Lock()
	defer s.Unlock()
	if s.state == nil {
		return errors.New("JSONStore not open")
	}
	ids, have := s.state[ns]
	if !have {
		return nil
	}
	if _, have = ids[id]; !have {
		return nil
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(s.state, ns)
	}
	return s.write()
}

func (s *JSONStore) Close(ctx context.Context) error {
	s.Lock()
	s.state = nil
	s.Unlock()
	return nil
}
