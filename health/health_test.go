package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSnapshot_EmptyWindowIsHealthy(t *testing.T) {
	w := NewWindow(10, 100*time.Millisecond)

	st := w.Snapshot()
	assert.True(t, st.Healthy)
	assert.Equal(t, "healthy", st.Status)
	assert.Equal(t, float64(100), st.Score)
	assert.Zero(t, st.Samples)
}

func TestSnapshot_AllGoodSamples(t *testing.T) {
	w := NewWindow(10, 100*time.Millisecond)
	for i := 0; i < 5; i++ {
		w.Record(Sample{RTT: 20 * time.Millisecond})
	}

	st := w.Snapshot()
	assert.True(t, st.Healthy)
	assert.Equal(t, float64(100), st.Score)
	assert.Equal(t, 20*time.Millisecond, st.AvgRTT)
	assert.Equal(t, 5, st.Samples)
}

func TestSnapshot_MissedHeartbeatsDegrade(t *testing.T) {
	w := NewWindow(10, 100*time.Millisecond)
	w.Record(Sample{RTT: 10 * time.Millisecond})
	w.Record(Sample{Missed: true})
	w.Record(Sample{RTT: 10 * time.Millisecond})
	w.Record(Sample{Missed: true})

	st := w.Snapshot()
	assert.Equal(t, 2, st.Missed)
	assert.InDelta(t, 50, st.Score, 0.01)
	assert.Equal(t, "degraded", st.Status)
	assert.False(t, st.Healthy)
}

func TestSnapshot_AllMissedIsUnhealthy(t *testing.T) {
	w := NewWindow(5, 100*time.Millisecond)
	for i := 0; i < 5; i++ {
		w.Record(Sample{Missed: true})
	}

	st := w.Snapshot()
	assert.Equal(t, float64(0), st.Score)
	assert.Equal(t, "unhealthy", st.Status)
}

func TestSnapshot_HighLatencyDegrades(t *testing.T) {
	w := NewWindow(10, 50*time.Millisecond)
	for i := 0; i < 4; i++ {
		w.Record(Sample{RTT: 200 * time.Millisecond})
	}

	st := w.Snapshot()
	// 100 * (50/200) = 25
	assert.InDelta(t, 25, st.Score, 0.01)
	assert.Equal(t, "unhealthy", st.Status)
}

func TestWindow_BoundedHistory(t *testing.T) {
	w := NewWindow(3, 100*time.Millisecond)
	// Three misses then three good samples: only the good ones remain.
	for i := 0; i < 3; i++ {
		w.Record(Sample{Missed: true})
	}
	for i := 0; i < 3; i++ {
		w.Record(Sample{RTT: 10 * time.Millisecond})
	}

	st := w.Snapshot()
	assert.Equal(t, 3, st.Samples)
	assert.Zero(t, st.Missed)
	assert.Equal(t, float64(100), st.Score)
}

func TestWindow_LastSample(t *testing.T) {
	w := NewWindow(3, 100*time.Millisecond)

	_, ok := w.Last()
	assert.False(t, ok)

	w.Record(Sample{RTT: 10 * time.Millisecond})
	w.Record(Sample{RTT: 30 * time.Millisecond})

	last, ok := w.Last()
	assert.True(t, ok)
	assert.Equal(t, 30*time.Millisecond, last.RTT)
	assert.Equal(t, 30*time.Millisecond, w.Snapshot().LastRTT)

	// A missed beat has no latency to report.
	w.Record(Sample{Missed: true})
	assert.Zero(t, w.Snapshot().LastRTT)
}

func TestSnapshot_CountsEvictedSamples(t *testing.T) {
	w := NewWindow(3, 100*time.Millisecond)
	for i := 0; i < 5; i++ {
		w.Record(Sample{RTT: 10 * time.Millisecond})
	}

	st := w.Snapshot()
	assert.Equal(t, 3, st.Samples)
	assert.Equal(t, uint64(2), st.Evicted)
}

func TestWindow_Reset(t *testing.T) {
	w := NewWindow(5, 100*time.Millisecond)
	w.Record(Sample{Missed: true})

	w.Reset()
	st := w.Snapshot()
	assert.Zero(t, st.Samples)
	assert.True(t, st.Healthy)
}
