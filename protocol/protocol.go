// Package protocol defines the JSON-RPC 2.0 envelopes exchanged with the
// camera service over a single WebSocket. Requests carry {id, method,
// params}; responses carry {id, result} or {id, error}; server-pushed
// notifications carry no id and are keyed by their method field, which names
// the event category.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/c360/camlink/errors"
)

// Version is the JSON-RPC protocol version sent on every request.
const Version = "2.0"

// Well-known methods of the camera service control plane.
const (
	MethodLogin       = "auth.login"
	MethodRefresh     = "auth.refresh"
	MethodSubscribe   = "events.subscribe"
	MethodUnsubscribe = "events.unsubscribe"
	MethodPing        = "system.ping"
)

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a client-to-server call envelope.
type Request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// NewRequest builds a request envelope with the protocol version set.
func NewRequest(id uint64, method string, params any) *Request {
	return &Request{JSONRPC: Version, ID: id, Method: method, Params: params}
}

// Encode serializes the request for the wire.
func (r *Request) Encode() ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, errors.New(errors.KindProtocolError, err, "Request", "Encode")
	}
	return data, nil
}

// Error is a server-reported structured error.
type Error struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Response is a server-to-client reply envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Notification is a single server-pushed event: category, payload, and a
// monotonically increasing per-category sequence counter used for ordering.
type Notification struct {
	Category string
	Seq      uint64
	Payload  json.RawMessage
}

// eventParams is the params shape of a pushed notification.
type eventParams struct {
	Seq     uint64          `json:"seq"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EncodeNotification serializes a notification the way the server sends it.
// Used by the test fixtures; the client never emits notifications.
func EncodeNotification(n *Notification) ([]byte, error) {
	env := map[string]any{
		"jsonrpc": Version,
		"method":  n.Category,
		"params":  eventParams{Seq: n.Seq, Payload: n.Payload},
	}
	return json.Marshal(env)
}

// envelope is the union decode target for any incoming frame element.
type envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Frame is the classified content of one WebSocket frame. A frame holds
// either responses, notifications, or a batch mixing both.
type Frame struct {
	Responses     []*Response
	Notifications []*Notification
}

// ParseFrame classifies an incoming frame. Batched deliveries (a JSON array)
// are unpacked into individual envelopes. Malformed input yields a
// KindProtocolError.
func ParseFrame(data []byte) (*Frame, error) {
	trimmed := firstNonSpace(data)
	if trimmed == 0 {
		return nil, errors.New(errors.KindProtocolError,
			fmt.Errorf("empty frame"), "protocol", "ParseFrame")
	}

	var envs []envelope
	if trimmed == '[' {
		if err := json.Unmarshal(data, &envs); err != nil {
			return nil, errors.New(errors.KindProtocolError,
				fmt.Errorf("malformed batch: %w", err), "protocol", "ParseFrame")
		}
		if len(envs) == 0 {
			return nil, errors.New(errors.KindProtocolError,
				fmt.Errorf("empty batch"), "protocol", "ParseFrame")
		}
	} else {
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return nil, errors.New(errors.KindProtocolError,
				fmt.Errorf("malformed envelope: %w", err), "protocol", "ParseFrame")
		}
		envs = []envelope{env}
	}

	frame := &Frame{}
	for i := range envs {
		env := &envs[i]
		switch {
		case env.ID != nil:
			frame.Responses = append(frame.Responses, &Response{
				JSONRPC: env.JSONRPC,
				ID:      *env.ID,
				Result:  env.Result,
				Error:   env.Error,
			})
		case env.Method != "":
			n, err := decodeNotification(env)
			if err != nil {
				return nil, err
			}
			frame.Notifications = append(frame.Notifications, n)
		default:
			return nil, errors.New(errors.KindProtocolError,
				fmt.Errorf("envelope has neither id nor method"), "protocol", "ParseFrame")
		}
	}
	return frame, nil
}

func decodeNotification(env *envelope) (*Notification, error) {
	var params eventParams
	if len(env.Params) > 0 {
		if err := json.Unmarshal(env.Params, &params); err != nil {
			return nil, errors.New(errors.KindProtocolError,
				fmt.Errorf("malformed event params for %q: %w", env.Method, err),
				"protocol", "ParseFrame")
		}
	}
	return &Notification{
		Category: env.Method,
		Seq:      params.Seq,
		Payload:  params.Payload,
	}, nil
}

func firstNonSpace(data []byte) byte {
	for _, b := range data {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

// RemoteError converts a server error envelope into the client taxonomy,
// preserving the original code and message.
func RemoteError(e *Error, component, operation string) error {
	if e == nil {
		return nil
	}
	return errors.Remote(e.Code, e.Message, component, operation)
}
