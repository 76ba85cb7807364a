// Copyright 2025 FaaSFlow
// SPDX-License-Identifier: Apache-2.0

package routing

import (
	"sync"
	"time"
)

// DefaultEWMAAlpha is the smoothing factor applied to new observations.
// Higher values react faster to recent attempts.
const DefaultEWMAAlpha = 0.2

// HealthTracker maintains rolling per-backend latency and failure
// statistics. Writes are serialized per backend; reads take a copy so the
// ranking hot path never blocks writers.
type HealthTracker struct {
	mu       sync.RWMutex
	backends map[string]*backendHealth
	alpha    float64
}

type backendHealth struct {
	mu          sync.Mutex
	avgLatency  float64 // milliseconds
	failureRate float64
	samples     int64
	lastUpdated time.Time
}

// NewHealthTracker creates a tracker with the given EWMA smoothing factor.
// Alpha outside (0, 1] falls back to DefaultEWMAAlpha.
func NewHealthTracker(alpha float64) *HealthTracker {
	if alpha <= 0 || alpha > 1 {
		alpha = DefaultEWMAAlpha
	}
	return &HealthTracker{
		backends: make(map[string]*backendHealth),
		alpha:    alpha,
	}
}

// Observe folds one completed attempt into the backend's moving averages.
// Only attempts that actually executed are observed, never unranked
// candidates.
func (t *HealthTracker) Observe(backendID string, latency time.Duration, failed bool) {
	h := t.get(backendID)

	failure := 0.0
	if failed {
		failure = 1.0
	}
	latencyMs := float64(latency) / float64(time.Millisecond)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.samples == 0 {
		h.avgLatency = latencyMs
		h.failureRate = failure
	} else {
		h.avgLatency = t.alpha*latencyMs + (1-t.alpha)*h.avgLatency
		h.failureRate = t.alpha*failure + (1-t.alpha)*h.failureRate
	}
	h.samples++
	h.lastUpdated = time.Now()
}

// Seed installs an initial latency estimate for a backend that has no
// observations yet, so a fresh backend is ranked on something better than
// zero. Seeding never overwrites real observations.
func (t *HealthTracker) Seed(backendID string, latency time.Duration) {
	h := t.get(backendID)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.samples == 0 {
		h.avgLatency = float64(latency.Milliseconds())
	}
}

// Stat returns a copy of one backend's health snapshot. Unknown backends
// report zero values.
func (t *HealthTracker) Stat(backendID string) HealthStat {
	t.mu.RLock()
	h, ok := t.backends[backendID]
	t.mu.RUnlock()
	if !ok {
		return HealthStat{}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return HealthStat{
		AvgLatency:  time.Duration(h.avgLatency * float64(time.Millisecond)),
		FailureRate: h.failureRate,
		Samples:     h.samples,
		LastUpdated: h.lastUpdated,
	}
}

// Snapshot returns copies of every tracked backend's health stats.
func (t *HealthTracker) Snapshot() map[string]HealthStat {
	t.mu.RLock()
	ids := make([]string, 0, len(t.backends))
	for id := range t.backends {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	out := make(map[string]HealthStat, len(ids))
	for _, id := range ids {
		out[id] = t.Stat(id)
	}
	return out
}

func (t *HealthTracker) get(backendID string) *backendHealth {
	t.mu.RLock()
	h, ok := t.backends[backendID]
	t.mu.RUnlock()
	if ok {
		return h
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.backends[backendID]; ok {
		return h
	}
	h = &backendHealth{}
	t.backends[backendID] = h
	return h
}
