package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/camlink/errors"
	"github.com/c360/camlink/testutil"
)

func dialTest(t *testing.T, url string) *WSTransport {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	tr, err := Dial(ctx, url, nil, Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestDial_BadAddress(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Dial(ctx, "ws://127.0.0.1:1/ws", nil, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnectionLost))
}

func TestSendReceive_RoundTrip(t *testing.T) {
	srv := testutil.NewServer("secret")
	defer srv.Close()

	tr := dialTest(t, srv.URL())

	// An unauthenticated login request gets an auth error response back,
	// which is enough to prove the duplex path works.
	req := map[string]any{"jsonrpc": "2.0", "id": 1, "method": "auth.login",
		"params": map[string]string{"token": "secret"}}
	data, err := json.Marshal(req)
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), data))

	select {
	case frame, ok := <-tr.Receive():
		require.True(t, ok)
		assert.Contains(t, string(frame), `"id":1`)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
	}
}

func TestClose_IsIdempotentAndClean(t *testing.T) {
	srv := testutil.NewServer("secret")
	defer srv.Close()

	tr := dialTest(t, srv.URL())

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not signalled after Close")
	}
	assert.NoError(t, tr.Err())

	err := tr.Send(context.Background(), []byte("{}"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.KindConnectionLost))
}

func TestRemoteDrop_SignalsConnectionLost(t *testing.T) {
	srv := testutil.NewServer("secret")
	defer srv.Close()

	tr := dialTest(t, srv.URL())
	srv.DropConnections()

	select {
	case <-tr.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Done not signalled after remote drop")
	}
	require.Error(t, tr.Err())
	assert.True(t, errors.Is(tr.Err(), errors.KindConnectionLost))
}

func TestOpenCount_TracksLifecycle(t *testing.T) {
	srv := testutil.NewServer("secret")
	defer srv.Close()

	before := OpenCount()
	tr := dialTest(t, srv.URL())
	assert.Equal(t, before+1, OpenCount())

	require.NoError(t, tr.Close())
	// Counter drops synchronously in terminate.
	assert.Equal(t, before, OpenCount())
}
