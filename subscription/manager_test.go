package subscription

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/camlink/protocol"
)

type recordingCaller struct {
	methods []string
	params  []any
}

func (r *recordingCaller) Call(_ context.Context, method string, params any) (json.RawMessage, error) {
	r.methods = append(r.methods, method)
	r.params = append(r.params, params)
	return json.RawMessage(`"ok"`), nil
}

func TestSubscribe_MaintainsDesiredSet(t *testing.T) {
	m := NewManager(nil)

	m.Subscribe("camera.status", "recording.status")
	m.Subscribe("camera.status") // duplicate is a no-op
	m.Subscribe("")              // empty ignored

	assert.Equal(t, []string{"camera.status", "recording.status"}, m.Current())
	assert.Equal(t, 2, m.Len())
}

func TestUnsubscribe_WhileDisconnectedIsLocal(t *testing.T) {
	m := NewManager(nil)
	m.Subscribe("camera.status", "recording.status", "file.index")

	m.Unsubscribe("recording.status")

	assert.Equal(t, []string{"camera.status", "file.index"}, m.Current())
}

func TestReplay_SingleCallWithFullSet(t *testing.T) {
	m := NewManager(nil)
	m.Subscribe("camera.status", "recording.status")

	caller := &recordingCaller{}
	require.NoError(t, m.Replay(context.Background(), caller))

	require.Equal(t, []string{protocol.MethodSubscribe}, caller.methods)
	sp, ok := caller.params[0].(subscribeParams)
	require.True(t, ok)
	assert.Equal(t, []string{"camera.status", "recording.status"}, sp.Categories)
}

func TestReplay_IdempotentAcrossReconnects(t *testing.T) {
	m := NewManager(nil)
	m.Subscribe("camera.status", "recording.status")

	caller := &recordingCaller{}

	// First connect.
	require.NoError(t, m.Replay(context.Background(), caller))
	// Reconnect: desired set unchanged, one more replay with the same set.
	require.NoError(t, m.Replay(context.Background(), caller))

	require.Len(t, caller.methods, 2)
	first := caller.params[0].(subscribeParams)
	second := caller.params[1].(subscribeParams)
	assert.Equal(t, first.Categories, second.Categories)
}

func TestReplay_EmptySetSendsNothing(t *testing.T) {
	m := NewManager(nil)
	caller := &recordingCaller{}

	require.NoError(t, m.Replay(context.Background(), caller))
	assert.Empty(t, caller.methods)
}

func TestReplay_CarriesFilters(t *testing.T) {
	m := NewManager(nil)
	m.SubscribeFiltered("camera.status", Filter{"device": "/dev/video0"})
	m.Subscribe("system.health")

	caller := &recordingCaller{}
	require.NoError(t, m.Replay(context.Background(), caller))

	sp := caller.params[0].(subscribeParams)
	assert.Equal(t, []string{"camera.status", "system.health"}, sp.Categories)
	require.Contains(t, sp.Filters, "camera.status")
	assert.Equal(t, "/dev/video0", sp.Filters["camera.status"]["device"])
}

func TestPushUnsubscribe(t *testing.T) {
	m := NewManager(nil)
	caller := &recordingCaller{}

	require.NoError(t, m.PushUnsubscribe(context.Background(), caller, "camera.status"))
	require.Equal(t, []string{protocol.MethodUnsubscribe}, caller.methods)

	require.NoError(t, m.PushUnsubscribe(context.Background(), caller))
	assert.Len(t, caller.methods, 1, "empty unsubscribe sends nothing")
}
