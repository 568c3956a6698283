package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func waitFor(t *testing.T, d time.Duration, f func() bool) {
	deadline := time.Now().Add(d)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatal("timed out")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestSignalServiceSurvivesErrors(t *testing.T) {
	var beats int32
	s := &SignalService{
		Interval: 2 * time.Millisecond,
		Heartbeat: func(ctx context.Context, sig Signal) error {
			if atomic.AddInt32(&beats, 1) == 2 {
				panic("bad heartbeat")
			}
			return errors.New("always fails")
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return 5 <= atomic.LoadInt32(&beats) })

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service didn't stop")
	}
}

func TestSignalServiceShutdown(t *testing.T) {
	var (
		beats    int32
		shutdown int32
	)
	s := &SignalService{
		Interval: 2 * time.Millisecond,
		Heartbeat: func(ctx context.Context, sig Signal) error {
			atomic.AddInt32(&beats, 1)
			return nil
		},
		IsShutdown: func() bool {
			return atomic.LoadInt32(&shutdown) == 1
		},
	}

	done := make(chan struct{})
	go func() {
		s.Run(context.Background())
		close(done)
	}()

	waitFor(t, 2*time.Second, func() bool { return 1 <= atomic.LoadInt32(&beats) })
	atomic.StoreInt32(&shutdown, 1)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("service didn't stop")
	}

	n := atomic.LoadInt32(&beats)
	time.Sleep(10 * time.Millisecond)
	if atomic.LoadInt32(&beats) != n {
		t.Fatal("heartbeat after shutdown")
	}
}

func TestSignalServiceSchedule(t *testing.T) {
	c, err := ParseSchedule("* * * * * * *")
	if err != nil {
		t.Fatal(err)
	}
	s := &SignalService{Schedule: c}
	now := time.Now()
	if d := s.next(now); d <= 0 || time.Second < d {
		t.Fatal(d)
	}
}
