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

// Package bolt is a storage.Store backed by a BoltDB file.
//
// Each namespace is a bucket, and each id is a key in that bucket.
package bolt

import (
	"context"
	"log"
	"time"

	"github.com/Comcast/jsonpipe/core"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

type Storage struct {
	Debug    bool
	filename string
	db       *bolt.DB
}

func NewStorage(filename string) (*Storage, error) {
	if filename == "" {
		return nil, errors.New("no filename given")
	}
	return &Storage{
		filename: filename,
	}, nil
}

func (s *Storage) Open(ctx context.Context) error {
	opts := &bolt.Options{
		Timeout: time.Second,
	}

	db, err := bolt.Open(s.filename, 0644, opts)
	if err != nil {
		return errors.Wrapf(err, "opening %s", s.filename)
	}
	s.db = db
	return nil
}

func (s *Storage) Close(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Storage) logf(format string, args ...interface{}) {
	if s.Debug {
		log.Printf("BoltDB Storage."+format, args...)
	}
}

func (s *Storage) Load(ctx context.Context, ns, id string) (*core.Value, error) {
	s.logf("Load %s %s", ns, id)
	var v *core.Value
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		bs := b.Get([]byte(id))
		if bs == nil {
			return nil
		}
		x, err := core.ParseJSON(bs)
		if err != nil {
			return errors.Wrapf(err, "parsing state for %s %s", ns, id)
		}
		v = x
		return nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (s *Storage) Save(ctx context.Context, ns, id string, state *core.Value) error {
	s.logf("Save %s %s %s", ns, id, state)

	js, err := state.MarshalJSON()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(ns))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), js)
	})
}

func (s *Storage) Remove(ctx context.Context, ns, id string) error {
	s.logf("Remove %s %s", ns, id)
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(id)); err != nil {
			return err
		}
		if k, _ := b.Cursor().First(); k == nil {
			return tx.DeleteBucket([]byte(ns))
		}
		return nil
	})
}

// Namespaces lists the buckets.
func (s *Storage) Namespaces(ctx context.Context) ([]string, error) {
	var acc []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			acc = append(acc, string(name))
			return nil
		})
	})
	return acc, err
}
