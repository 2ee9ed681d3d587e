package router

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/camlink/protocol"
)

// recorder collects delivered sequence numbers per category.
type recorder struct {
	mu   sync.Mutex
	seqs []uint64
}

func (rec *recorder) handler() Handler {
	return func(n *protocol.Notification) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.seqs = append(rec.seqs, n.Seq)
	}
}

func (rec *recorder) delivered() []uint64 {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]uint64, len(rec.seqs))
	copy(out, rec.seqs)
	return out
}

func note(category string, seq uint64) *protocol.Notification {
	return &protocol.Notification{Category: category, Seq: seq, Payload: json.RawMessage(`{}`)}
}

func TestRoute_InOrderDelivery(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	for seq := uint64(1); seq <= 3; seq++ {
		r.Route(note("camera.status", seq))
	}

	assert.Equal(t, []uint64{1, 2, 3}, rec.delivered())
	assert.Equal(t, uint64(3), r.Stats().Routed)
}

func TestRoute_DuplicateDropped(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	// Sequence 1,2,2,3: exactly three distinct state updates.
	for _, seq := range []uint64{1, 2, 2, 3} {
		r.Route(note("camera.status", seq))
	}

	assert.Equal(t, []uint64{1, 2, 3}, rec.delivered())
	assert.Equal(t, uint64(1), r.Stats().Duplicates)
}

func TestRoute_OutOfOrderRepairedWithinWindow(t *testing.T) {
	r := NewRouter(WithFlushTimeout(time.Second))
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	r.Route(note("camera.status", 1))
	r.Route(note("camera.status", 3)) // held for 2
	assert.Equal(t, []uint64{1}, rec.delivered())

	r.Route(note("camera.status", 2)) // releases 2 then 3
	assert.Equal(t, []uint64{1, 2, 3}, rec.delivered())
	assert.Equal(t, uint64(1), r.Stats().Reordered)
}

func TestRoute_FlushTimeoutPreservesLiveness(t *testing.T) {
	r := NewRouter(WithFlushTimeout(30 * time.Millisecond))
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	r.Route(note("camera.status", 1))
	r.Route(note("camera.status", 4)) // gap: 2 and 3 never arrive
	r.Route(note("camera.status", 5))

	require.Eventually(t, func() bool {
		return len(rec.delivered()) == 3
	}, time.Second, 5*time.Millisecond, "flush must deliver despite the gap")

	assert.Equal(t, []uint64{1, 4, 5}, rec.delivered())
	assert.Equal(t, uint64(2), r.Stats().Flushed)

	// Later arrivals for the skipped gap are now stale duplicates.
	r.Route(note("camera.status", 3))
	assert.Equal(t, []uint64{1, 4, 5}, rec.delivered())
}

func TestRoute_FirstSeqEstablishesBase(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	// Server counters need not start at 1 from the client's perspective.
	r.Route(note("camera.status", 100))
	r.Route(note("camera.status", 101))

	assert.Equal(t, []uint64{100, 101}, rec.delivered())
}

func TestRoute_UnregisteredCategoryDropped(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	r.Route(note("file.index", 1))

	assert.Empty(t, rec.delivered())
	assert.Equal(t, uint64(1), r.Stats().Unregistered)
}

func TestRoute_NoCrossCategoryInterference(t *testing.T) {
	r := NewRouter()
	cam := &recorder{}
	recStatus := &recorder{}
	r.Register("camera.status", cam.handler())
	r.Register("recording.status", recStatus.handler())

	r.Route(note("camera.status", 1))
	r.Route(note("recording.status", 1))
	r.Route(note("camera.status", 2))
	r.Route(note("recording.status", 2))

	assert.Equal(t, []uint64{1, 2}, cam.delivered())
	assert.Equal(t, []uint64{1, 2}, recStatus.delivered())
}

func TestRouteFrame_BatchUnpackedIndividually(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	r.RouteFrame(&protocol.Frame{Notifications: []*protocol.Notification{
		note("camera.status", 1),
		note("camera.status", 2),
		note("camera.status", 2), // duplicate inside the batch
		note("camera.status", 3),
	}})

	assert.Equal(t, []uint64{1, 2, 3}, rec.delivered())
}

func TestRoute_FullReorderBufferFlushes(t *testing.T) {
	r := NewRouter(WithReorderCap(3), WithFlushTimeout(time.Hour))
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	r.Route(note("camera.status", 1))
	r.Route(note("camera.status", 5))
	r.Route(note("camera.status", 7))
	r.Route(note("camera.status", 9)) // cap reached, flush now

	assert.Equal(t, []uint64{1, 5, 7, 9}, rec.delivered())
}

func TestReset_ClearsBuffersKeepsCursor(t *testing.T) {
	r := NewRouter(WithFlushTimeout(time.Hour))
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	r.Route(note("camera.status", 1))
	r.Route(note("camera.status", 3)) // buffered

	r.Reset()

	// Buffered 3 is gone; a replayed duplicate of 1 is still dropped.
	r.Route(note("camera.status", 1))
	assert.Equal(t, []uint64{1}, rec.delivered())

	// Fresh in-order traffic resumes from the kept cursor.
	r.Route(note("camera.status", 2))
	assert.Equal(t, []uint64{1, 2}, rec.delivered())
}

func TestResetSequences_ForgetsCursor(t *testing.T) {
	r := NewRouter()
	rec := &recorder{}
	r.Register("camera.status", rec.handler())

	r.Route(note("camera.status", 50))
	r.ResetSequences()

	// Server counters restarted; seq 1 must be accepted again.
	r.Route(note("camera.status", 1))
	assert.Equal(t, []uint64{50, 1}, rec.delivered())
}

func TestRoute_HandlerPanicContained(t *testing.T) {
	r := NewRouter()
	r.Register("camera.status", func(*protocol.Notification) {
		panic("bad container")
	})

	assert.NotPanics(t, func() {
		r.Route(note("camera.status", 1))
	})
	assert.Equal(t, uint64(1), r.Stats().Routed)
}
