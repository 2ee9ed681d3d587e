// Package client is the camlink facade: one WebSocket to the camera
// service, request/response calls with correlation, subscription replay
// across reconnects, heartbeat liveness probing, and automatic
// re-establishment with bounded exponential backoff.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/camlink/auth"
	"github.com/c360/camlink/errors"
	"github.com/c360/camlink/health"
	"github.com/c360/camlink/metric"
	"github.com/c360/camlink/pkg/retry"
	"github.com/c360/camlink/protocol"
	"github.com/c360/camlink/router"
	"github.com/c360/camlink/rpc"
	"github.com/c360/camlink/subscription"
	"github.com/c360/camlink/transport"
)

// Client manages the connection lifecycle to one camera service.
type Client struct {
	url    string
	logger *slog.Logger

	// Tunables, fixed at construction.
	reconnectPolicy   retry.Config
	autoReconnect     bool
	heartbeatInterval time.Duration
	missThreshold     int
	healthWindowSize  int
	targetRTT         time.Duration
	callTimeout       time.Duration
	transportOpts     transport.Options
	rateLimit         float64
	rateBurst         int
	refreshFunc       auth.RefreshFunc
	routerOpts        []router.Option

	session    *auth.Session
	correlator *rpc.Correlator
	subs       *subscription.Manager
	router     *router.Router
	health     *health.Window
	metrics    *metric.Metrics

	state   atomic.Int32
	closed  atomic.Bool
	lastErr atomic.Value // stores error

	// mu guards the lifecycle fields below.
	mu          sync.Mutex
	transport   transport.Transport
	runCtx      context.Context
	runCancel   context.CancelFunc
	intentional bool

	// authMu collapses concurrent mid-session re-authentication attempts.
	authMu sync.Mutex

	stateMu       sync.Mutex
	stateHandlers []func(State)
}

// New creates a client for the camera service at url authenticating with
// cred. The client is inert until Connect.
func New(url string, cred auth.Credential, opts ...Option) (*Client, error) {
	if url == "" {
		return nil, errors.New(errors.KindProtocolError,
			errors.ErrNotConnected, "Client", "New")
	}

	c := &Client{
		url:               url,
		logger:            slog.Default(),
		reconnectPolicy:   retry.Reconnect(),
		autoReconnect:     true,
		heartbeatInterval: 15 * time.Second,
		missThreshold:     3,
		healthWindowSize:  20,
		targetRTT:         100 * time.Millisecond,
		callTimeout:       rpc.DefaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.session = auth.NewSession(cred,
		auth.WithLogger(c.logger),
		auth.WithRefreshFunc(c.refreshFunc),
	)
	c.correlator = rpc.NewCorrelator(
		rpc.WithLogger(c.logger),
		rpc.WithDefaultTimeout(c.callTimeout),
		rpc.WithRateLimit(c.rateLimit, c.rateBurst),
	)
	c.subs = subscription.NewManager(c.logger)
	c.router = router.NewRouter(append([]router.Option{router.WithLogger(c.logger)}, c.routerOpts...)...)
	c.health = health.NewWindow(c.healthWindowSize, c.targetRTT)

	c.state.Store(int32(StateDisconnected))
	return c, nil
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// LastError returns the most recent terminal error, nil if none occurred.
func (c *Client) LastError() error {
	if v := c.lastErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Health returns the derived connection health.
func (c *Client) Health() health.Status {
	st := c.health.Snapshot()
	if c.metrics != nil {
		c.metrics.RecordHealthScore(st.Score)
	}
	return st
}

// Session returns the auth session, exposing the client identity and
// credential accessors.
func (c *Client) Session() *auth.Session {
	return c.session
}

// Router returns the notification router for advanced registration.
func (c *Client) Router() *router.Router {
	return c.router
}

// OnStateChange registers a callback invoked on every state transition.
// Callbacks run synchronously on the transitioning goroutine and must not
// block.
func (c *Client) OnStateChange(fn func(State)) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.stateHandlers = append(c.stateHandlers, fn)
}

func (c *Client) setState(s State) {
	prev := State(c.state.Swap(int32(s)))
	if prev == s {
		return
	}
	c.announceState(prev, s)
}

// announceState logs, records, and fans a committed transition out to the
// registered handlers.
func (c *Client) announceState(prev, s State) {
	c.logger.Debug("connection state changed", "from", prev, "to", s)
	if c.metrics != nil {
		c.metrics.RecordConnectionState(int(s))
	}

	c.stateMu.Lock()
	handlers := make([]func(State), len(c.stateHandlers))
	copy(handlers, c.stateHandlers)
	c.stateMu.Unlock()
	for _, fn := range handlers {
		fn(s)
	}
}

// Connect dials the service, authenticates, and replays subscriptions,
// driving the backoff schedule until Ready or terminal failure. Auth
// rejection is terminal after one refresh attempt; everything else retries
// up to the schedule's ceiling.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return errors.New(errors.KindConnectionLost, errors.ErrClosed, "Client", "Connect")
	}

	// The swap to Connecting happens inside the critical section, so two
	// concurrent Connect callers can never both pass the guard and dial.
	c.mu.Lock()
	if c.transport != nil ||
		!c.state.CompareAndSwap(int32(StateDisconnected), int32(StateConnecting)) {
		c.mu.Unlock()
		return errors.New(errors.KindConnectionLost, errors.ErrAlreadyConnected, "Client", "Connect")
	}
	c.intentional = false
	c.runCtx, c.runCancel = context.WithCancel(context.Background())
	c.mu.Unlock()
	c.announceState(StateDisconnected, StateConnecting)

	err := c.establish(ctx)
	if err == nil {
		return nil
	}
	if errors.IsAuthError(err) || ctx.Err() != nil || !c.autoReconnect {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateReconnecting)
	if rerr := c.runBackoff(ctx); rerr != nil {
		c.setState(StateDisconnected)
		return c.exhausted(rerr)
	}
	return nil
}

// exhausted classifies a spent backoff schedule.
func (c *Client) exhausted(err error) error {
	if errors.IsAuthError(err) {
		return err
	}
	return errors.New(errors.KindConnectionLost,
		fmt.Errorf("%w: %v", errors.ErrReconnectExceeded, err), "Client", "Connect")
}

// establish performs one full connection attempt: dial, start the frame
// pump, authenticate, replay subscriptions, then install the transport and
// start its watchers.
func (c *Client) establish(ctx context.Context) error {
	c.setState(StateConnecting)

	t, err := transport.Dial(ctx, c.url, nil, c.transportOpts)
	if err != nil {
		return err
	}
	c.correlator.Bind(t)
	c.health.Reset()
	c.router.Reset()

	// The pump must run before the handshake: the login and replay
	// responses arrive on the same channel as everything else.
	go c.readLoop(t)

	c.setState(StateAuthenticating)
	if err := c.login(ctx); err != nil {
		c.correlator.FailAll(err)
		_ = t.Close()
		return err
	}

	if err := c.subs.Replay(ctx, c.correlator); err != nil {
		c.correlator.FailAll(err)
		_ = t.Close()
		return err
	}

	c.mu.Lock()
	if c.intentional || c.closed.Load() {
		// Disconnect raced the establishment; never leave an orphan socket.
		c.mu.Unlock()
		c.correlator.FailAll(errors.ErrClosed)
		_ = t.Close()
		return errors.New(errors.KindConnectionLost, errors.ErrClosed, "Client", "Connect")
	}
	c.transport = t
	c.mu.Unlock()

	c.setState(StateReady)

	go c.watchTransport(t)
	go c.heartbeatLoop(t)
	return nil
}

// watchTransport waits for the transport to die and tears its generation
// down. It starts only after the transport is installed; a socket that dies
// mid-handshake is resolved by the handshake's own error paths instead.
func (c *Client) watchTransport(t transport.Transport) {
	<-t.Done()
	c.transportDown(t, t.Err())
}

// login runs the handshake, refreshing the credential once when the server
// rejects it as lapsed and a refresher is configured.
func (c *Client) login(ctx context.Context) error {
	err := c.session.Login(ctx, c.correlator)
	if err == nil || c.refreshFunc == nil || !errors.IsAuthError(err) {
		return err
	}

	c.logger.Info("credential rejected, refreshing", "error", err)
	if _, rerr := c.session.Refresh(ctx); rerr != nil {
		return rerr
	}
	return c.session.Login(ctx, c.correlator)
}

// readLoop pumps frames off one transport for its whole life, handshake
// included, dispatching responses to the correlator and notifications to
// the router.
func (c *Client) readLoop(t transport.Transport) {
	for data := range t.Receive() {
		frame, err := protocol.ParseFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			if c.metrics != nil {
				c.metrics.RecordNotificationDropped("malformed")
			}
			continue
		}
		for _, resp := range frame.Responses {
			c.correlator.HandleResponse(resp)
		}
		for _, n := range frame.Notifications {
			c.router.Route(n)
		}
	}
}

// transportDown handles the death of one transport generation exactly once:
// fail in-flight calls, clear transient buffers, then either stop or start
// the reconnect loop.
func (c *Client) transportDown(t transport.Transport, cause error) {
	c.mu.Lock()
	if c.transport != t {
		c.mu.Unlock()
		return
	}
	c.transport = nil
	intentional := c.intentional || c.closed.Load()
	c.mu.Unlock()

	c.correlator.FailAll(cause)
	c.router.Reset()
	c.health.Reset()

	if intentional || !c.autoReconnect {
		c.setState(StateDisconnected)
		return
	}

	if cause != nil {
		c.logger.Warn("connection lost", "error", cause)
	} else {
		c.logger.Warn("connection lost")
	}
	c.setState(StateReconnecting)
	go c.reconnectLoop()
}

// runBackoff drives establishment attempts under the backoff schedule until
// one succeeds. Auth failures are terminal; everything else retries until
// the schedule is exhausted.
func (c *Client) runBackoff(ctx context.Context) error {
	attempt := 0
	return retry.Do(ctx, c.reconnectPolicy, func() error {
		c.mu.Lock()
		stopped := c.intentional || c.closed.Load()
		c.mu.Unlock()
		if stopped {
			return retry.NonRetryable(errors.ErrClosed)
		}

		attempt++
		if c.metrics != nil {
			c.metrics.RecordReconnect()
		}
		c.logger.Info("reconnecting", "attempt", attempt)

		err := c.establish(ctx)
		if err == nil {
			c.logger.Info("reconnected", "attempt", attempt)
			return nil
		}
		c.setState(StateReconnecting)
		if errors.IsAuthError(err) {
			return retry.NonRetryable(err)
		}
		return err
	})
}

// reconnectLoop re-establishes a dropped connection in the background.
func (c *Client) reconnectLoop() {
	c.mu.Lock()
	ctx := c.runCtx
	c.mu.Unlock()

	err := c.runBackoff(ctx)
	if err == nil {
		return
	}

	c.mu.Lock()
	intentional := c.intentional || c.closed.Load()
	c.mu.Unlock()
	if !intentional {
		c.lastErr.Store(c.exhausted(err))
		c.logger.Error("giving up on reconnection", "error", err)
	}
	c.setState(StateDisconnected)
}

// heartbeatLoop probes liveness over one transport. Consecutive misses at
// the threshold tear the transport down so the reconnect path takes over;
// a half-open socket never lingers as Ready.
func (c *Client) heartbeatLoop(t transport.Transport) {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	misses := 0
	for {
		select {
		case <-t.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		ctx, cancel := context.WithTimeout(context.Background(), c.heartbeatInterval)
		_, err := c.correlator.Call(ctx, protocol.MethodPing, nil)
		cancel()

		if err != nil {
			if errors.IsConnectionLost(err) {
				return
			}
			misses++
			c.health.Record(health.Sample{Missed: true})
			c.logger.Warn("heartbeat missed", "consecutive", misses)
			if misses >= c.missThreshold {
				c.logger.Warn("heartbeat threshold exceeded, dropping connection",
					"misses", misses)
				_ = t.Close()
				return
			}
			continue
		}

		misses = 0
		rtt := time.Since(start)
		c.health.Record(health.Sample{RTT: rtt})
		if c.metrics != nil {
			c.metrics.RecordHeartbeatRTT(rtt)
			c.metrics.RecordHealthScore(c.health.Score())
		}
	}
}

// Call issues an RPC and waits for its response. A response reporting a
// lapsed session triggers one transparent refresh-and-retry when a
// refresher is configured.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, errors.New(errors.KindConnectionLost, errors.ErrClosed, "Client", "Call")
	}

	start := time.Now()
	result, err := c.correlator.Call(ctx, method, params)
	if err != nil && errors.IsAuthExpired(err) && c.refreshFunc != nil {
		if rerr := c.reauthenticate(ctx); rerr == nil {
			result, err = c.correlator.Call(ctx, method, params)
		}
	}

	if c.metrics != nil {
		outcome := "ok"
		if err != nil {
			if kind, ok := errors.KindOf(err); ok {
				outcome = kind.String()
			} else {
				outcome = "error"
			}
		}
		c.metrics.RecordCall(method, outcome, time.Since(start))
	}
	return result, err
}

// reauthenticate refreshes the credential and re-runs login on the live
// transport. Concurrent callers collapse onto one attempt at a time.
func (c *Client) reauthenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if _, err := c.session.Refresh(ctx); err != nil {
		c.lastErr.Store(err)
		return err
	}
	return c.session.Login(ctx, c.correlator)
}

// Subscribe adds categories to the desired set and, when Ready, pushes the
// updated set to the server. The set is replayed on every reconnect.
func (c *Client) Subscribe(ctx context.Context, categories ...string) error {
	c.subs.Subscribe(categories...)
	if c.State() != StateReady {
		return nil
	}
	return c.subs.Replay(ctx, c.correlator)
}

// SubscribeFiltered subscribes one category with server-side filter
// criteria.
func (c *Client) SubscribeFiltered(ctx context.Context, category string, filter subscription.Filter) error {
	c.subs.SubscribeFiltered(category, filter)
	if c.State() != StateReady {
		return nil
	}
	return c.subs.Replay(ctx, c.correlator)
}

// Unsubscribe removes categories from the desired set. While disconnected
// the change is purely local.
func (c *Client) Unsubscribe(ctx context.Context, categories ...string) error {
	c.subs.Unsubscribe(categories...)
	if c.State() != StateReady {
		return nil
	}
	return c.subs.PushUnsubscribe(ctx, c.correlator, categories...)
}

// Subscriptions returns the desired category set.
func (c *Client) Subscriptions() []string {
	return c.subs.Current()
}

// OnNotification registers a handler for one event category. The handler
// runs on the dispatch path and must not block.
func (c *Client) OnNotification(category string, h router.Handler) {
	c.router.Register(category, func(n *protocol.Notification) {
		if c.metrics != nil {
			c.metrics.RecordNotificationRouted(category)
		}
		h(n)
	})
}

// Disconnect tears the connection down without reconnecting. The desired
// subscription set and sequence cursors survive for a later Connect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.runCancel != nil {
		c.runCancel()
	}
	t := c.transport
	c.mu.Unlock()

	if t != nil {
		_ = t.Close()
		<-t.Done()
		return
	}
	c.setState(StateDisconnected)
}

// Close disconnects and permanently disables the client.
func (c *Client) Close() {
	c.closed.Store(true)
	c.Disconnect()
}
