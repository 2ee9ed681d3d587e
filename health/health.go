// Package health derives a connection quality score from periodic heartbeat
// measurements. History is bounded so memory stays flat no matter how long
// the connection lives.
package health

import (
	"sync"
	"time"

	"github.com/c360/camlink/pkg/buffer"
)

// Sample is one heartbeat measurement.
type Sample struct {
	RTT    time.Duration `json:"rtt"`
	Missed bool          `json:"missed"`
	At     time.Time     `json:"at"`
}

// Status is a point-in-time view of connection health.
type Status struct {
	Healthy   bool          `json:"healthy"`
	Status    string        `json:"status"` // "healthy", "degraded", "unhealthy"
	Score     float64       `json:"score"`  // 0-100
	AvgRTT    time.Duration `json:"avg_rtt"`
	LastRTT   time.Duration `json:"last_rtt"` // zero when the latest beat was missed
	Missed    int           `json:"missed"`
	Samples   int           `json:"samples"`
	Evicted   uint64        `json:"evicted"` // samples aged out of the window
	Timestamp time.Time     `json:"timestamp"`
}

// Window holds a bounded heartbeat history and computes the derived score.
type Window struct {
	mu        sync.Mutex
	samples   *buffer.Ring[Sample]
	targetRTT time.Duration
}

// NewWindow creates a window keeping the last capacity samples. targetRTT is
// the round-trip latency considered fully healthy.
func NewWindow(capacity int, targetRTT time.Duration) *Window {
	if targetRTT <= 0 {
		targetRTT = 100 * time.Millisecond
	}
	return &Window{
		samples:   buffer.NewRing[Sample](capacity),
		targetRTT: targetRTT,
	}
}

// Record adds one measurement.
func (w *Window) Record(s Sample) {
	if s.At.IsZero() {
		s.At = time.Now()
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples.Push(s)
}

// Reset clears the history, used when a new transport comes up.
func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples.Clear()
}

// Last returns the most recent heartbeat sample.
func (w *Window) Last() (Sample, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples.Last()
}

// Score computes the 0-100 health score. An empty window scores 100: no
// evidence of trouble is treated as healthy.
func (w *Window) Score() float64 {
	return w.Snapshot().Score
}

// Snapshot computes the current status from the recorded window.
func (w *Window) Snapshot() Status {
	w.mu.Lock()
	items := w.samples.Items()
	last, _ := w.samples.Last()
	evicted := w.samples.Evicted()
	target := w.targetRTT
	w.mu.Unlock()

	now := time.Now()
	if len(items) == 0 {
		return Status{Healthy: true, Status: "healthy", Score: 100, Evicted: evicted, Timestamp: now}
	}

	var missed int
	var rttSum time.Duration
	var rttCount int
	for _, s := range items {
		if s.Missed {
			missed++
			continue
		}
		rttSum += s.RTT
		rttCount++
	}

	var avgRTT time.Duration
	if rttCount > 0 {
		avgRTT = rttSum / time.Duration(rttCount)
	}

	// Missed heartbeats dominate the score; latency degrades it gradually
	// once the average exceeds the target.
	missedRatio := float64(missed) / float64(len(items))
	score := 100 * (1 - missedRatio)
	if avgRTT > target {
		score *= float64(target) / float64(avgRTT)
	}
	if score < 0 {
		score = 0
	}

	st := Status{
		Score:     score,
		AvgRTT:    avgRTT,
		Missed:    missed,
		Samples:   len(items),
		Evicted:   evicted,
		Timestamp: now,
	}
	if !last.Missed {
		st.LastRTT = last.RTT
	}
	switch {
	case score >= 80:
		st.Healthy = true
		st.Status = "healthy"
	case score >= 50:
		st.Status = "degraded"
	default:
		st.Status = "unhealthy"
	}
	return st
}
