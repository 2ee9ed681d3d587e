// Package testutil provides an in-process fake camera service speaking
// JSON-RPC 2.0 over WebSocket, used by the client test suites in place of
// the real external service.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/camlink/errors"
	"github.com/c360/camlink/protocol"
)

// Handler serves a custom RPC method on the fake service.
type Handler func(params json.RawMessage) (any, *protocol.Error)

// conn wraps one accepted WebSocket with its session state.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex

	loggedIn  bool
	expiresAt time.Time
}

func (c *conn) write(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// Server is a fake camera service for tests.
type Server struct {
	httpServer *httptest.Server
	upgrader   websocket.Upgrader

	mu          sync.Mutex
	conns       map[*conn]struct{}
	validTokens map[string]struct{}
	tokenTTL    time.Duration
	dropPings   bool
	handlers    map[string]Handler

	subscribeCalls atomic.Int64
	lastSubscribe  []string

	loginCalls atomic.Int64
	dialCount  atomic.Int64
}

// NewServer starts a fake camera service accepting the given token.
func NewServer(token string) *Server {
	s := &Server{
		conns:       make(map[*conn]struct{}),
		validTokens: map[string]struct{}{token: {}},
		handlers:    make(map[string]Handler),
	}
	s.httpServer = httptest.NewServer(http.HandlerFunc(s.serveWS))
	return s
}

// URL returns the ws:// address clients dial.
func (s *Server) URL() string {
	return "ws" + strings.TrimPrefix(s.httpServer.URL, "http") + "/ws"
}

// Close shuts the fake service down.
func (s *Server) Close() {
	s.DropConnections()
	s.httpServer.Close()
}

// AddToken marks another credential as valid (e.g. after a refresh).
func (s *Server) AddToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validTokens[token] = struct{}{}
}

// RevokeToken invalidates a credential.
func (s *Server) RevokeToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.validTokens, token)
}

// SetTokenTTL makes sessions lapse the given duration after login.
func (s *Server) SetTokenTTL(ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = ttl
}

// SetDropPings makes the service swallow ping calls, simulating a half-open
// connection.
func (s *Server) SetDropPings(drop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropPings = drop
}

// Handle registers a custom RPC method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[method] = h
}

// SubscribeCalls reports how many events.subscribe calls were received.
func (s *Server) SubscribeCalls() int {
	return int(s.subscribeCalls.Load())
}

// LastSubscribe returns the category set of the most recent subscribe call.
func (s *Server) LastSubscribe() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.lastSubscribe))
	copy(out, s.lastSubscribe)
	return out
}

// LoginCalls reports how many auth.login calls were received.
func (s *Server) LoginCalls() int {
	return int(s.loginCalls.Load())
}

// DialCount reports how many WebSocket connections were accepted.
func (s *Server) DialCount() int {
	return int(s.dialCount.Load())
}

// ConnCount reports how many connections are currently open.
func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// DropConnections forcibly closes every live connection without a close
// handshake, as a crashing service would.
func (s *Server) DropConnections() {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.conns = make(map[*conn]struct{})
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close()
	}
}

// Push sends one notification to every live connection.
func (s *Server) Push(category string, seq uint64, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	data, err := protocol.EncodeNotification(&protocol.Notification{
		Category: category,
		Seq:      seq,
		Payload:  raw,
	})
	if err != nil {
		return err
	}
	return s.broadcast(data)
}

// PushBatch sends several notifications in a single frame.
func (s *Server) PushBatch(ns []*protocol.Notification) error {
	parts := make([]json.RawMessage, 0, len(ns))
	for _, n := range ns {
		data, err := protocol.EncodeNotification(n)
		if err != nil {
			return err
		}
		parts = append(parts, data)
	}
	data, err := json.Marshal(parts)
	if err != nil {
		return err
	}
	return s.broadcast(data)
}

func (s *Server) broadcast(data []byte) error {
	s.mu.Lock()
	conns := make([]*conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.writeMu.Lock()
		err := c.ws.WriteMessage(websocket.TextMessage, data)
		c.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.dialCount.Add(1)

	c := &conn{ws: ws}
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, c)
		s.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		s.dispatch(c, data)
	}
}

type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *protocol.Error `json:"error,omitempty"`
}

func (s *Server) dispatch(c *conn, data []byte) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}

	reply := func(result any, rpcErr *protocol.Error) {
		_ = c.write(response{JSONRPC: protocol.Version, ID: req.ID, Result: result, Error: rpcErr})
	}

	switch req.Method {
	case protocol.MethodLogin:
		s.loginCalls.Add(1)
		var params struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(req.Params, &params)

		s.mu.Lock()
		_, valid := s.validTokens[params.Token]
		ttl := s.tokenTTL
		s.mu.Unlock()

		if !valid {
			reply(nil, &protocol.Error{Code: errors.CodeAuthRequired, Message: "invalid credential"})
			return
		}
		c.loggedIn = true
		if ttl > 0 {
			c.expiresAt = time.Now().Add(ttl)
		} else {
			c.expiresAt = time.Time{}
		}
		reply(map[string]any{"expires_in": ttl.Seconds()}, nil)
		return
	}

	// Every other method needs a live session.
	if !c.loggedIn {
		reply(nil, &protocol.Error{Code: errors.CodeAuthRequired, Message: "login first"})
		return
	}
	if !c.expiresAt.IsZero() && time.Now().After(c.expiresAt) {
		reply(nil, &protocol.Error{Code: errors.CodeSessionExpired, Message: "session expired"})
		return
	}

	switch req.Method {
	case protocol.MethodSubscribe:
		var params struct {
			Categories []string `json:"categories"`
		}
		_ = json.Unmarshal(req.Params, &params)
		s.subscribeCalls.Add(1)
		s.mu.Lock()
		s.lastSubscribe = params.Categories
		s.mu.Unlock()
		reply("ok", nil)

	case protocol.MethodUnsubscribe:
		reply("ok", nil)

	case protocol.MethodPing:
		s.mu.Lock()
		drop := s.dropPings
		s.mu.Unlock()
		if drop {
			return // simulate half-open connection
		}
		reply("pong", nil)

	default:
		s.mu.Lock()
		h, ok := s.handlers[req.Method]
		s.mu.Unlock()
		if !ok {
			reply(nil, &protocol.Error{Code: protocol.CodeMethodNotFound, Message: "method not found"})
			return
		}
		result, rpcErr := h(req.Params)
		reply(result, rpcErr)
	}
}
