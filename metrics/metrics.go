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

// Package metrics holds the Prometheus counters for the runtime.
//
// The counters are always live.  They are only visible after Register
// (or a Server) hands them to a Prometheus registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultListen is where a Server listens if not told otherwise.
const DefaultListen = "127.0.0.1:9234"

var (
	// ContextsCreated counts execution contexts by the strategy
	// that created them.
	ContextsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsonpipe",
			Name:      "contexts_created_total",
			Help:      "Number of execution contexts created.",
		},
		[]string{"strategy"},
	)

	Evaluations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jsonpipe",
			Name:      "evaluations_total",
			Help:      "Number of top-level evaluations.",
		},
	)

	// EvaluationErrors counts raised errors by kind
	// (EvaluationError, FunctionError, ...).
	EvaluationErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsonpipe",
			Name:      "errors_total",
			Help:      "Number of raised errors.",
		},
		[]string{"kind"},
	)

	AggregateFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jsonpipe",
			Name:      "aggregate_flushes_total",
			Help:      "Number of aggregation windows flushed.",
		},
		[]string{"aggregate"},
	)

	Heartbeats = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jsonpipe",
			Name:      "heartbeats_total",
			Help:      "Number of signal service heartbeats.",
		},
	)

	all = []prometheus.Collector{
		ContextsCreated,
		Evaluations,
		EvaluationErrors,
		AggregateFlushes,
		Heartbeats,
	}
)

// Register hands every counter to the given registry.
func Register(r prometheus.Registerer) error {
	for _, c := range all {
		if err := r.Register(c); err != nil {
			if _, is := err.(prometheus.AlreadyRegisteredError); is {
				continue
			}
			return err
		}
	}
	return nil
}

// Server serves /metrics.
type Server struct {
	Listen string

	srv *http.Server
}

// Start registers the counters with a fresh registry and starts
// serving in a goroutine.
func (s *Server) Start() error {
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	s.srv = &http.Server{
		Addr:    s.Listen,
		Handler: mux,
	}
	go s.srv.ListenAndServe()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
