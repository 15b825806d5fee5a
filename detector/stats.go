/*
 * SPDX-License-Identifier: Unlicense
 *
 * This is free and unencumbered software released into the public domain.
 *
 * Anyone is free to copy, modify, publish, use, compile, sell, or distribute this
 * software, either in source code form or as a compiled binary, for any purpose,
 * commercial or non-commercial, and by any means.
 *
 * For more information, please refer to <http://unlicense.org/>
 */

package detector

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/montanaflynn/stats"
	"go.uber.org/atomic"
)

const statsWindow = 32

// Snapshot is a point in time view of detector throughput.
type Snapshot struct {
	Submitted int64
	Dropped   int64
	Processed int64
	Failed    int64

	FPS           float64
	MeanInference time.Duration
	P95Inference  time.Duration
}

// Stats accumulates counters and a sliding window of recent detections.
type Stats struct {
	clock clock.Clock

	submitted atomic.Int64
	dropped   atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64

	mu        sync.Mutex
	completed []time.Time
	latencies []float64
}

func newStats(c clock.Clock) *Stats {
	return &Stats{clock: c}
}

func (s *Stats) submit(replaced bool) {
	s.submitted.Inc()
	if replaced {
		s.dropped.Inc()
	}
}

func (s *Stats) fail() {
	s.failed.Inc()
}

func (s *Stats) observe(inference time.Duration) {
	s.processed.Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed = appendWindow(s.completed, s.clock.Now())
	s.latencies = appendWindow(s.latencies, float64(inference))
}

func appendWindow[T any](w []T, v T) []T {
	w = append(w, v)
	if len(w) > statsWindow {
		w = w[len(w)-statsWindow:]
	}
	return w
}

// Snapshot returns the current counters, the rate of recent detections and
// their inference latency.
func (s *Stats) Snapshot() Snapshot {
	snap := Snapshot{
		Submitted: s.submitted.Load(),
		Dropped:   s.dropped.Load(),
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if n := len(s.completed); n >= 2 {
		if span := s.completed[n-1].Sub(s.completed[0]); span > 0 {
			snap.FPS = float64(n-1) / span.Seconds()
		}
	}
	if len(s.latencies) > 0 {
		data := stats.Float64Data(s.latencies)
		if mean, err := stats.Mean(data); err == nil {
			snap.MeanInference = time.Duration(mean)
		}
		if p95, err := stats.Percentile(data, 95); err == nil {
			snap.P95Inference = time.Duration(p95)
		}
	}
	return snap
}
