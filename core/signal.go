package core

import (
	"context"
	"fmt"
	"time"

	"github.com/Comcast/jsonpipe/metrics"

	"github.com/gorhill/cronexpr"
)

// DefaultHeartbeat is the interval a SignalService uses when it has
// neither an Interval nor a Schedule.
var DefaultHeartbeat = time.Second

// Signal is a heartbeat.
type Signal struct {
	At time.Time
}

// SignalService periodically invokes a heartbeat callback until the
// context is done or IsShutdown returns true.
type SignalService struct {
	// Interval between heartbeats.
	Interval time.Duration

	// Schedule, if not nil, determines the next heartbeat
	// instead of Interval.
	Schedule *cronexpr.Expression

	// Heartbeat is called for each Signal.  Errors are logged
	// and don't stop the service.
	Heartbeat func(ctx context.Context, s Signal) error

	IsShutdown func() bool

	Logf func(format string, args ...interface{})
}

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (*cronexpr.Expression, error) {
	return cronexpr.Parse(expr)
}

func (s *SignalService) logf(format string, args ...interface{}) {
	if s.Logf != nil {
		s.Logf(format, args...)
	}
}

func (s *SignalService) next(now time.Time) time.Duration {
	if s.Schedule != nil {
		if t := s.Schedule.Next(now); !t.IsZero() {
			return t.Sub(now)
		}
	}
	if 0 < s.Interval {
		return s.Interval
	}
	return DefaultHeartbeat
}

func (s *SignalService) shutdown() bool {
	return s.IsShutdown != nil && s.IsShutdown()
}

// Run blocks until ctx is done or shutdown is observed.
func (s *SignalService) Run(ctx context.Context) {
	s.logf("SignalService starting")
	defer s.logf("SignalService stopped")

	timer := time.NewTimer(s.next(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-timer.C:
			if s.shutdown() || ctx.Err() != nil {
				return
			}
			if err := s.beat(ctx, Signal{At: t}); err != nil {
				s.logf("SignalService heartbeat error %s", err)
			}
			timer.Reset(s.next(time.Now()))
		}
	}
}

func (s *SignalService) beat(ctx context.Context, sig Signal) (err error) {
	metrics.Heartbeats.Inc()
	if s.Heartbeat == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat panic: %v", r)
		}
	}()
	return s.Heartbeat(ctx, sig)
}
