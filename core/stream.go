package core

import (
	"context"
	"sync"
)

// Stream is a lazy, single-consumer sequence of Values.
//
// A Stream ends when its channel is closed or when it yields a
// KindEnd Value.
type Stream struct {
	sync.Mutex
	c    <-chan *Value
	done bool
}

// NewStream wraps the given channel.
func NewStream(c <-chan *Value) *Stream {
	return &Stream{c: c}
}

// StreamOf makes a Stream that yields the given values.
func StreamOf(vs ...*Value) *Stream {
	c := make(chan *Value, len(vs))
	for _, v := range vs {
		c <- v
	}
	close(c)
	return NewStream(c)
}

// Next returns the next value, or End() when the stream is
// exhausted.  A cancelled ctx also ends the stream.
func (s *Stream) Next(ctx context.Context) *Value {
	s.Lock()
	defer s.Unlock()
	if s.done {
		return End()
	}
	select {
	case <-ctx.Done():
		s.done = true
		return End()
	case v, ok := <-s.c:
		if !ok || v == nil || v.Kind == KindEnd {
			s.done = true
			return End()
		}
		return v
	}
}

// Drain reads everything left in the stream.
func (s *Stream) Drain(ctx context.Context) []*Value {
	acc := make([]*Value, 0, 8)
	for {
		v := s.Next(ctx)
		if v.Kind == KindEnd {
			return acc
		}
		acc = append(acc, v)
	}
}
