package auth

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/camlink/errors"
	"github.com/c360/camlink/pkg/retry"
	"github.com/c360/camlink/protocol"
)

type fakeCaller struct {
	calls  []string
	params []any
	result json.RawMessage
	err    error
}

func (f *fakeCaller) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	f.calls = append(f.calls, method)
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func TestLogin_SendsTokenAndClientID(t *testing.T) {
	s := NewSession(Credential{Token: "tok-1"})
	caller := &fakeCaller{result: json.RawMessage(`{"expires_in":60}`)}

	require.NoError(t, s.Login(context.Background(), caller))

	require.Equal(t, []string{protocol.MethodLogin}, caller.calls)
	lp, ok := caller.params[0].(loginParams)
	require.True(t, ok)
	assert.Equal(t, "tok-1", lp.Token)
	assert.Equal(t, s.ClientID(), lp.ClientID)

	// Expiry hint from the server is recorded.
	cred := s.Credential()
	assert.False(t, cred.ExpiresAt.IsZero())
	assert.False(t, cred.Expired())
}

func TestLogin_EmptyCredential(t *testing.T) {
	s := NewSession(Credential{})
	err := s.Login(context.Background(), &fakeCaller{})
	require.Error(t, err)
	assert.True(t, errors.IsAuthError(err))
}

func TestLogin_ServerRejection(t *testing.T) {
	s := NewSession(Credential{Token: "bad"})
	caller := &fakeCaller{err: errors.Remote(errors.CodeAuthRequired, "invalid credential", "Correlator", "Call")}

	err := s.Login(context.Background(), caller)
	require.Error(t, err)
	assert.True(t, errors.IsAuthError(err))
}

func TestRefresh_ReplacesCredentialWholesale(t *testing.T) {
	calls := 0
	s := NewSession(Credential{Token: "old"},
		WithRefreshFunc(func(context.Context) (Credential, error) {
			calls++
			if calls == 1 {
				return Credential{}, stderrors.New("transient")
			}
			return Credential{Token: "new", ExpiresAt: time.Now().Add(time.Hour)}, nil
		}),
		WithRefreshPolicy(retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond}),
	)

	cred, err := s.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "new", cred.Token)
	assert.Equal(t, "new", s.Credential().Token)
	assert.Equal(t, 2, calls)
}

func TestRefresh_BoundedRetry(t *testing.T) {
	calls := 0
	s := NewSession(Credential{Token: "old"},
		WithRefreshFunc(func(context.Context) (Credential, error) {
			calls++
			return Credential{}, stderrors.New("idp unreachable")
		}),
		WithRefreshPolicy(retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond}),
	)

	_, err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsAuthExpired(err), "exhausted refresh is a terminal auth failure")
	assert.Equal(t, 3, calls, "refresh is bounded, never retried forever")
	assert.Equal(t, "old", s.Credential().Token, "failed refresh leaves credential untouched")
}

func TestRefresh_NoRefreshFunc(t *testing.T) {
	s := NewSession(Credential{Token: "tok"})
	_, err := s.Refresh(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsAuthExpired(err))
}

func TestCredential_Expired(t *testing.T) {
	assert.False(t, Credential{Token: "t"}.Expired(), "zero expiry means no hint")
	assert.True(t, Credential{Token: "t", ExpiresAt: time.Now().Add(-time.Second)}.Expired())
	assert.False(t, Credential{Token: "t", ExpiresAt: time.Now().Add(time.Hour)}.Expired())
}
