// Package rpc implements request/response correlation over a transport.
// The correlator assigns unique ids, matches responses to pending calls,
// enforces per-call deadlines, and guarantees every call resolves exactly
// once even when the transport drops mid-flight.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/camlink/errors"
	"github.com/c360/camlink/protocol"
	"github.com/c360/camlink/transport"
)

// DefaultCallTimeout applies when neither the context nor the caller supply
// a deadline.
const DefaultCallTimeout = 10 * time.Second

type outcome struct {
	result json.RawMessage
	err    error
}

type pendingRequest struct {
	id        uint64
	method    string
	submitted time.Time
	ch        chan outcome // buffered; receives exactly one outcome
}

// Correlator owns the pending-request table for the current transport.
type Correlator struct {
	logger         *slog.Logger
	defaultTimeout time.Duration
	limiter        *rate.Limiter

	mu        sync.Mutex
	transport transport.Transport
	pending   map[uint64]*pendingRequest
	// nextID never resets across transport generations, so a response from a
	// dead transport can never match a request issued on a new one.
	nextID uint64
}

// Option configures the correlator.
type Option func(*Correlator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDefaultTimeout sets the per-call timeout used when the caller supplies
// none.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Correlator) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithRateLimit caps the outbound request rate. Zero disables limiting.
func WithRateLimit(callsPerSecond float64, burst int) Option {
	return func(c *Correlator) {
		if callsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(callsPerSecond), max(burst, 1))
		}
	}
}

// NewCorrelator creates a correlator. It is inert until Bind attaches a
// transport.
func NewCorrelator(opts ...Option) *Correlator {
	c := &Correlator{
		logger:         slog.Default(),
		defaultTimeout: DefaultCallTimeout,
		pending:        make(map[uint64]*pendingRequest),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bind attaches a fresh transport. The pending table must already be empty:
// FailAll runs before every rebind so no request from a prior transport
// generation survives.
func (c *Correlator) Bind(t transport.Transport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = t
}

// Unbind detaches the current transport. Subsequent calls fail fast with
// ConnectionLost.
func (c *Correlator) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transport = nil
}

// Pending returns the number of in-flight requests.
func (c *Correlator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Call issues method with params and waits for the matching response, the
// default timeout, or context cancellation.
func (c *Correlator) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	return c.CallTimeout(ctx, method, params, 0)
}

// CallTimeout is Call with an explicit per-call timeout. A zero timeout uses
// the configured default.
func (c *Correlator) CallTimeout(
	ctx context.Context,
	method string,
	params any,
	timeout time.Duration,
) (json.RawMessage, error) {
	if method == "" {
		return nil, errors.New(errors.KindProtocolError,
			fmt.Errorf("empty method"), "Correlator", "Call")
	}
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "Correlator", "Call", "rate limit wait")
		}
	}

	// Register the pending request and capture the transport under one lock
	// so a concurrent FailAll either sees this request or runs before it.
	c.mu.Lock()
	t := c.transport
	if t == nil {
		c.mu.Unlock()
		return nil, errors.New(errors.KindConnectionLost,
			errors.ErrNotConnected, "Correlator", "Call")
	}
	c.nextID++
	p := &pendingRequest{
		id:        c.nextID,
		method:    method,
		submitted: time.Now(),
		ch:        make(chan outcome, 1),
	}
	c.pending[p.id] = p
	c.mu.Unlock()

	data, err := protocol.NewRequest(p.id, method, params).Encode()
	if err != nil {
		c.take(p.id)
		return nil, err
	}
	if err := t.Send(ctx, data); err != nil {
		// The send failure may race FailAll; whichever removes the entry
		// first owns the resolution.
		if c.take(p.id) != nil {
			return nil, err
		}
		o := <-p.ch
		return o.result, o.err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case o := <-p.ch:
		return o.result, o.err
	case <-timer.C:
		if c.take(p.id) != nil {
			return nil, errors.New(errors.KindTimeout, errors.ErrTimeout, "Correlator", method)
		}
		// A response or FailAll won the race; honor that resolution.
		o := <-p.ch
		return o.result, o.err
	case <-ctx.Done():
		if c.take(p.id) != nil {
			return nil, errors.Wrap(ctx.Err(), "Correlator", method, "await response")
		}
		o := <-p.ch
		return o.result, o.err
	}
}

// take removes and returns the pending entry for id. Whoever takes the entry
// owns its single resolution; everyone else must wait on the channel.
func (c *Correlator) take(id uint64) *pendingRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	return p
}

// HandleResponse resolves the pending call matching resp. Unmatched
// responses (already timed out or from a cleared generation) are dropped.
func (c *Correlator) HandleResponse(resp *protocol.Response) {
	p := c.take(resp.ID)
	if p == nil {
		c.logger.Debug("dropping unmatched response", "id", resp.ID)
		return
	}
	if resp.Error != nil {
		p.ch <- outcome{err: protocol.RemoteError(resp.Error, "Correlator", p.method)}
		return
	}
	p.ch <- outcome{result: resp.Result}
}

// FailAll resolves every in-flight request with cause and clears the table.
// Runs when the transport drops so no request is ever silently orphaned.
func (c *Correlator) FailAll(cause error) {
	if cause == nil {
		cause = errors.ErrConnectionLost
	}

	c.mu.Lock()
	taken := make([]*pendingRequest, 0, len(c.pending))
	for _, p := range c.pending {
		taken = append(taken, p)
	}
	c.pending = make(map[uint64]*pendingRequest)
	c.transport = nil
	c.mu.Unlock()

	if len(taken) > 0 {
		c.logger.Debug("failing in-flight requests", "count", len(taken), "cause", cause)
	}
	for _, p := range taken {
		p.ch <- outcome{err: errors.New(errors.KindConnectionLost, cause, "Correlator", p.method)}
	}
}
