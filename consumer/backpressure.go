package consumer

import "sync/atomic"

// BackpressureController tracks in-flight event count against a capacity and
// exposes High/Low watermark crossings so the ingress loop can pause and
// resume the Source instead of unboundedly buffering.
type BackpressureController struct {
	capacity       int64
	high, low      int64
	inflight       int64
	pausedAtomic   int32
	inflightMetric *EvalMetrics
}

// NewBackpressureController builds a controller for capacity in-flight
// events, with fixed watermark ratios of 0.8 (pause) and 0.6 (resume).
func NewBackpressureController(capacity int, m *EvalMetrics) *BackpressureController {
	if capacity <= 0 {
		capacity = 10000
	}
	return &BackpressureController{
		capacity:       int64(capacity),
		high:           int64(float64(capacity) * 0.8),
		low:            int64(float64(capacity) * 0.6),
		inflightMetric: m,
	}
}

// Acquire marks one event as in-flight. Returns true if the caller should
// now pause ingestion (the high watermark has been crossed).
func (b *BackpressureController) Acquire() (shouldPause bool) {
	n := atomic.AddInt64(&b.inflight, 1)
	if b.inflightMetric != nil {
		b.inflightMetric.SetInflight(n)
	}
	return n >= b.high
}

// Release marks one event as completed. Returns true whenever the in-flight
// count is at or below the low watermark after the release, whether or not
// ingestion is currently paused.
func (b *BackpressureController) Release() (shouldResume bool) {
	n := atomic.AddInt64(&b.inflight, -1)
	if n < 0 {
		atomic.StoreInt64(&b.inflight, 0)
		n = 0
	}
	if b.inflightMetric != nil {
		b.inflightMetric.SetInflight(n)
	}
	return n <= b.low
}

// Paused reports whether the controller currently believes ingestion is
// paused, letting the ingress loop avoid redundant Pause/Resume calls.
func (b *BackpressureController) Paused() bool {
	return atomic.LoadInt32(&b.pausedAtomic) != 0
}

// SetPaused records the ingress loop's pause state.
func (b *BackpressureController) SetPaused(v bool) {
	if v {
		atomic.StoreInt32(&b.pausedAtomic, 1)
	} else {
		atomic.StoreInt32(&b.pausedAtomic, 0)
	}
}

// Inflight returns the current in-flight event count.
func (b *BackpressureController) Inflight() int64 {
	return atomic.LoadInt64(&b.inflight)
}
