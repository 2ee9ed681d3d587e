// Package auth holds the session credential and performs the login
// handshake after every successful (re)connection.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/c360/camlink/errors"
	"github.com/c360/camlink/pkg/retry"
	"github.com/c360/camlink/protocol"
)

// Credential holds token material plus an expiry hint. It is replaced
// wholesale on refresh, never mutated in place, so concurrent readers never
// observe a half-updated value.
type Credential struct {
	Token     string
	ExpiresAt time.Time
}

// Expired reports whether the credential's expiry hint has passed. A zero
// ExpiresAt means the server gave no hint.
func (c Credential) Expired() bool {
	return !c.ExpiresAt.IsZero() && time.Now().After(c.ExpiresAt)
}

// Caller issues one RPC. Satisfied by rpc.Correlator and the client facade.
type Caller interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
}

// RefreshFunc obtains a fresh credential when the current one lapses.
type RefreshFunc func(ctx context.Context) (Credential, error)

// Session owns the credential lifecycle for one client.
type Session struct {
	logger        *slog.Logger
	clientID      string
	refresh       RefreshFunc
	refreshPolicy retry.Config

	mu   sync.RWMutex
	cred Credential
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRefreshFunc installs the credential refresher.
func WithRefreshFunc(fn RefreshFunc) Option {
	return func(s *Session) { s.refresh = fn }
}

// WithRefreshPolicy overrides the bounded refresh retry policy.
func WithRefreshPolicy(cfg retry.Config) Option {
	return func(s *Session) { s.refreshPolicy = cfg }
}

// NewSession creates a session holding the initial credential.
func NewSession(cred Credential, opts ...Option) *Session {
	s := &Session{
		logger:        slog.Default(),
		clientID:      uuid.NewString(),
		refreshPolicy: retry.AuthRefresh(),
		cred:          cred,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ClientID returns the stable client instance identity sent at login.
func (s *Session) ClientID() string {
	return s.clientID
}

// Credential returns a copy of the current credential.
func (s *Session) Credential() Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cred
}

// SetCredential replaces the credential wholesale.
func (s *Session) SetCredential(cred Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = cred
}

type loginParams struct {
	Token    string `json:"token"`
	ClientID string `json:"client_id"`
}

type loginResult struct {
	ExpiresIn float64 `json:"expires_in"`
}

// Login performs the auth.login handshake with the current credential.
// Invoked by the connection manager on every transition into Authenticating.
func (s *Session) Login(ctx context.Context, caller Caller) error {
	cred := s.Credential()
	if cred.Token == "" {
		return errors.New(errors.KindAuthRequired, errors.ErrAuthRequired, "Session", "Login")
	}

	result, err := caller.Call(ctx, protocol.MethodLogin, loginParams{
		Token:    cred.Token,
		ClientID: s.clientID,
	})
	if err != nil {
		return err
	}

	// Update the expiry hint the server returned, if any.
	var lr loginResult
	if len(result) > 0 && json.Unmarshal(result, &lr) == nil && lr.ExpiresIn > 0 {
		s.mu.Lock()
		s.cred.ExpiresAt = time.Now().Add(time.Duration(lr.ExpiresIn * float64(time.Second)))
		s.mu.Unlock()
	}

	s.logger.Debug("session established", "client_id", s.clientID)
	return nil
}

// Refresh obtains a new credential under the bounded refresh policy and
// replaces the stored one. Refresh never loops indefinitely: exhausting the
// policy surfaces a terminal authentication failure.
func (s *Session) Refresh(ctx context.Context) (Credential, error) {
	if s.refresh == nil {
		return Credential{}, errors.New(errors.KindAuthExpired,
			fmt.Errorf("no refresh func configured: %w", errors.ErrAuthExpired),
			"Session", "Refresh")
	}

	cred, err := retry.DoWithResult(ctx, s.refreshPolicy, func() (Credential, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return Credential{}, errors.New(errors.KindAuthExpired,
			fmt.Errorf("credential refresh failed: %w", err), "Session", "Refresh")
	}

	s.SetCredential(cred)
	s.logger.Info("credential refreshed", "expires_at", cred.ExpiresAt)
	return cred, nil
}
