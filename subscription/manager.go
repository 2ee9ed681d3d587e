// Package subscription tracks the set of event categories the application
// wants, independent of what the server has acknowledged. The desired set
// survives reconnects and is replayed on every transition into Ready.
package subscription

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/camlink/protocol"
)

// Filter carries optional server-side filter criteria for one category.
type Filter map[string]string

// Caller issues one RPC.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// Manager owns the desired subscription state.
type Manager struct {
	logger *slog.Logger

	mu      sync.Mutex
	desired map[string]Filter
}

// NewManager creates an empty subscription manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:  logger,
		desired: make(map[string]Filter),
	}
}

// Subscribe adds categories to the desired set. No network call happens
// here; the connection manager replays the set when Ready.
func (m *Manager) Subscribe(categories ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range categories {
		if c == "" {
			continue
		}
		if _, ok := m.desired[c]; !ok {
			m.desired[c] = nil
		}
	}
}

// SubscribeFiltered adds one category with filter criteria, replacing any
// previous filter for that category.
func (m *Manager) SubscribeFiltered(category string, filter Filter) {
	if category == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.desired[category] = filter
}

// Unsubscribe removes categories from the desired set. While disconnected
// this is purely local; no network call is attempted.
func (m *Manager) Unsubscribe(categories ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range categories {
		delete(m.desired, c)
	}
}

// Current returns the sorted desired category set.
func (m *Manager) Current() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.desired))
	for c := range m.desired {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Len returns the desired set size.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.desired)
}

type subscribeParams struct {
	Categories []string          `json:"categories"`
	Filters    map[string]Filter `json:"filters,omitempty"`
}

// Replay issues a single subscribe call carrying the full desired set.
// Subscribing to an already-subscribed category is a no-op server-side, so
// replay after reconnect is idempotent. An empty set replays nothing.
func (m *Manager) Replay(ctx context.Context, caller Caller) error {
	m.mu.Lock()
	params := subscribeParams{Categories: make([]string, 0, len(m.desired))}
	for c, f := range m.desired {
		params.Categories = append(params.Categories, c)
		if f != nil {
			if params.Filters == nil {
				params.Filters = make(map[string]Filter)
			}
			params.Filters[c] = f
		}
	}
	m.mu.Unlock()

	if len(params.Categories) == 0 {
		return nil
	}
	sort.Strings(params.Categories)

	if _, err := caller.Call(ctx, protocol.MethodSubscribe, params); err != nil {
		return err
	}
	m.logger.Debug("subscriptions replayed", "categories", params.Categories)
	return nil
}

// PushUnsubscribe tells the server to stop a category immediately. Used only
// while connected; the desired set must be updated separately via
// Unsubscribe.
func (m *Manager) PushUnsubscribe(ctx context.Context, caller Caller, categories ...string) error {
	if len(categories) == 0 {
		return nil
	}
	_, err := caller.Call(ctx, protocol.MethodUnsubscribe, subscribeParams{Categories: categories})
	return err
}
