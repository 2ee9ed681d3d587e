package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/camlink/errors"
)

func TestRequest_Encode(t *testing.T) {
	req := NewRequest(7, "camera.list", map[string]string{"filter": "online"})

	data, err := req.Encode()
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.0", decoded["jsonrpc"])
	assert.Equal(t, float64(7), decoded["id"])
	assert.Equal(t, "camera.list", decoded["method"])
}

func TestParseFrame_Response(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"jsonrpc":"2.0","id":42,"result":{"ok":true}}`))
	require.NoError(t, err)

	require.Len(t, frame.Responses, 1)
	assert.Empty(t, frame.Notifications)
	assert.Equal(t, uint64(42), frame.Responses[0].ID)
	assert.JSONEq(t, `{"ok":true}`, string(frame.Responses[0].Result))
}

func TestParseFrame_ErrorResponse(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"jsonrpc":"2.0","id":3,"error":{"code":-32601,"message":"method not found"}}`))
	require.NoError(t, err)

	require.Len(t, frame.Responses, 1)
	resp := frame.Responses[0]
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)
	assert.Equal(t, "method not found", resp.Error.Message)
}

func TestParseFrame_Notification(t *testing.T) {
	frame, err := ParseFrame([]byte(
		`{"jsonrpc":"2.0","method":"camera.status","params":{"seq":9,"payload":{"device":"/dev/video0","status":"CONNECTED"}}}`))
	require.NoError(t, err)

	require.Len(t, frame.Notifications, 1)
	n := frame.Notifications[0]
	assert.Equal(t, "camera.status", n.Category)
	assert.Equal(t, uint64(9), n.Seq)
	assert.JSONEq(t, `{"device":"/dev/video0","status":"CONNECTED"}`, string(n.Payload))
}

func TestParseFrame_Batch(t *testing.T) {
	frame, err := ParseFrame([]byte(`[
		{"jsonrpc":"2.0","method":"camera.status","params":{"seq":1}},
		{"jsonrpc":"2.0","method":"recording.status","params":{"seq":4}},
		{"jsonrpc":"2.0","id":11,"result":"pong"}
	]`))
	require.NoError(t, err)

	assert.Len(t, frame.Notifications, 2)
	assert.Len(t, frame.Responses, 1)
	assert.Equal(t, "camera.status", frame.Notifications[0].Category)
	assert.Equal(t, uint64(4), frame.Notifications[1].Seq)
}

func TestParseFrame_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "not json at all"},
		{"empty frame", "   "},
		{"empty batch", "[]"},
		{"no id no method", `{"jsonrpc":"2.0","params":{}}`},
		{"bad event params", `{"jsonrpc":"2.0","method":"camera.status","params":"nope"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseFrame([]byte(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.KindProtocolError), "got %v", err)
		})
	}
}

func TestEncodeNotification_RoundTrip(t *testing.T) {
	data, err := EncodeNotification(&Notification{
		Category: "system.health",
		Seq:      17,
		Payload:  json.RawMessage(`{"score":87}`),
	})
	require.NoError(t, err)

	frame, err := ParseFrame(data)
	require.NoError(t, err)
	require.Len(t, frame.Notifications, 1)
	assert.Equal(t, uint64(17), frame.Notifications[0].Seq)
}

func TestRemoteError(t *testing.T) {
	err := RemoteError(&Error{Code: errors.CodeSessionExpired, Message: "token lapsed"}, "Correlator", "Call")
	require.Error(t, err)
	assert.True(t, errors.IsAuthExpired(err))
	assert.Equal(t, errors.CodeSessionExpired, errors.RemoteCode(err))

	assert.NoError(t, RemoteError(nil, "Correlator", "Call"))
}
