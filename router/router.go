// Package router fans server-pushed notifications out to per-category
// handlers. It deduplicates by sequence number, repairs short out-of-order
// windows with a bounded reorder buffer, and never blocks indefinitely
// waiting for a missing sequence: a flush timeout trades strict ordering for
// liveness.
package router

import (
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/camlink/protocol"
)

// Defaults for the reorder policy. Sequence indicators are monotonically
// increasing per-category counters assigned by the camera service.
const (
	DefaultFlushTimeout = 250 * time.Millisecond
	DefaultReorderCap   = 32
)

// Handler consumes one notification for its registered category.
type Handler func(n *protocol.Notification)

// Stats are the router's delivery counters.
type Stats struct {
	Routed       uint64
	Duplicates   uint64
	Reordered    uint64
	Flushed      uint64
	Unregistered uint64
}

// stream is the per-category ordering state.
type stream struct {
	started bool
	lastSeq uint64
	pending map[uint64]*protocol.Notification
	timer   *time.Timer
}

// Router dispatches notifications to domain state containers.
type Router struct {
	logger       *slog.Logger
	flushTimeout time.Duration
	reorderCap   int

	mu       sync.Mutex
	handlers map[string]Handler
	streams  map[string]*stream

	routed       atomic.Uint64
	duplicates   atomic.Uint64
	reordered    atomic.Uint64
	flushed      atomic.Uint64
	unregistered atomic.Uint64
}

// Option configures the router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithFlushTimeout sets how long an out-of-order notification may wait for
// its predecessors before being delivered anyway.
func WithFlushTimeout(d time.Duration) Option {
	return func(r *Router) {
		if d > 0 {
			r.flushTimeout = d
		}
	}
}

// WithReorderCap bounds the per-category reorder buffer. A full buffer
// flushes immediately.
func WithReorderCap(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.reorderCap = n
		}
	}
}

// NewRouter creates a router with no registered handlers.
func NewRouter(opts ...Option) *Router {
	r := &Router{
		logger:       slog.Default(),
		flushTimeout: DefaultFlushTimeout,
		reorderCap:   DefaultReorderCap,
		handlers:     make(map[string]Handler),
		streams:      make(map[string]*stream),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register installs the handler for a category, replacing any previous one.
// Handlers run on the router's dispatch path and must not call back into
// the router.
func (r *Router) Register(category string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[category] = h
}

// Unregister removes the handler for a category.
func (r *Router) Unregister(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.handlers, category)
}

// Stats returns the delivery counters.
func (r *Router) Stats() Stats {
	return Stats{
		Routed:       r.routed.Load(),
		Duplicates:   r.duplicates.Load(),
		Reordered:    r.reordered.Load(),
		Flushed:      r.flushed.Load(),
		Unregistered: r.unregistered.Load(),
	}
}

// RouteFrame unpacks a frame's notifications and routes each individually.
func (r *Router) RouteFrame(frame *protocol.Frame) {
	for _, n := range frame.Notifications {
		r.Route(n)
	}
}

// Route delivers one notification, enforcing per-category dedup and
// ordering. Notifications whose sequence is not greater than the last one
// routed for the category are dropped; at-least-once delivery from the
// server never causes a duplicate domain-state mutation.
func (r *Router) Route(n *protocol.Notification) {
	if n == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h, ok := r.handlers[n.Category]
	if !ok {
		r.unregistered.Add(1)
		r.logger.Warn("dropping notification for unregistered category",
			"category", n.Category, "seq", n.Seq)
		return
	}

	s := r.streams[n.Category]
	if s == nil {
		s = &stream{pending: make(map[uint64]*protocol.Notification)}
		r.streams[n.Category] = s
	}

	// Duplicate or stale: already routed this sequence or a later one.
	if s.started && n.Seq <= s.lastSeq {
		r.duplicates.Add(1)
		r.logger.Debug("dropping duplicate notification",
			"category", n.Category, "seq", n.Seq, "last", s.lastSeq)
		return
	}
	if _, buffered := s.pending[n.Seq]; buffered {
		r.duplicates.Add(1)
		return
	}

	// In order: the first notification for a category establishes the
	// sequence base; afterwards only lastSeq+1 is immediately deliverable.
	if !s.started || n.Seq == s.lastSeq+1 {
		r.deliverLocked(s, h, n)
		r.drainLocked(s, h)
		return
	}

	// Gap: hold the notification for its predecessors, bounded.
	s.pending[n.Seq] = n
	r.reordered.Add(1)
	if len(s.pending) >= r.reorderCap {
		r.flushLocked(n.Category, s, h)
		return
	}
	if s.timer == nil {
		category := n.Category
		s.timer = time.AfterFunc(r.flushTimeout, func() { r.flushTimerFired(category) })
	}
}

// deliverLocked hands one notification to its handler and advances the
// sequence cursor. Handler panics are contained so a bad domain container
// never crashes the router.
func (r *Router) deliverLocked(s *stream, h Handler, n *protocol.Notification) {
	s.started = true
	s.lastSeq = n.Seq
	r.routed.Add(1)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("notification handler panicked",
				"category", n.Category, "seq", n.Seq, "panic", rec)
		}
	}()
	h(n)
}

// drainLocked delivers consecutively-sequenced buffered notifications and
// stops the flush timer once the buffer empties.
func (r *Router) drainLocked(s *stream, h Handler) {
	for {
		next, ok := s.pending[s.lastSeq+1]
		if !ok {
			break
		}
		delete(s.pending, next.Seq)
		r.deliverLocked(s, h, next)
	}
	if len(s.pending) == 0 && s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// flushLocked delivers everything buffered in ascending sequence order,
// accepting the gap. Liveness beats strict ordering.
func (r *Router) flushLocked(category string, s *stream, h Handler) {
	if len(s.pending) == 0 {
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
		return
	}

	seqs := make([]uint64, 0, len(s.pending))
	for seq := range s.pending {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })

	r.logger.Debug("flushing reorder buffer", "category", category,
		"count", len(seqs), "last", s.lastSeq)
	for _, seq := range seqs {
		n := s.pending[seq]
		delete(s.pending, seq)
		r.deliverLocked(s, h, n)
		r.flushed.Add(1)
	}
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (r *Router) flushTimerFired(category string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.streams[category]
	h := r.handlers[category]
	if s == nil || h == nil {
		return
	}
	s.timer = nil
	r.flushLocked(category, s, h)
}

// Reset clears every reorder buffer and stops pending flush timers. Sequence
// cursors persist so duplicates replayed by the server after a reconnect are
// still dropped. Called by the connection manager on disconnect.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.streams {
		s.pending = make(map[uint64]*protocol.Notification)
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	}
}

// ResetSequences additionally forgets sequence cursors, for use when the
// server's counters restart (e.g. service redeploy).
func (r *Router) ResetSequences() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, s := range r.streams {
		s.pending = make(map[uint64]*protocol.Notification)
		s.started = false
		s.lastSeq = 0
		if s.timer != nil {
			s.timer.Stop()
			s.timer = nil
		}
	}
}
