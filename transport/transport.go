// Package transport provides the raw duplex WebSocket abstraction used by
// the camlink client. It has no protocol knowledge: frames go in, frames
// come out, and the transport signals when the socket dies.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/camlink/errors"
)

// openCount tracks live transports process-wide. The connection manager
// guarantees at most one; tests assert it.
var openCount atomic.Int64

// OpenCount returns the number of currently open transports.
func OpenCount() int64 {
	return openCount.Load()
}

// Transport is a raw bidirectional message channel.
type Transport interface {
	// Send writes one frame. It fails once the transport is closed.
	Send(ctx context.Context, data []byte) error
	// Receive returns the incoming frame channel. It is closed when the
	// transport terminates.
	Receive() <-chan []byte
	// Done is closed when the transport has terminated for any reason.
	Done() <-chan struct{}
	// Err returns the terminal error, nil before termination and after a
	// clean Close.
	Err() error
	// Close tears the socket down. Idempotent.
	Close() error
}

// Options configure the WebSocket dialer.
type Options struct {
	HandshakeTimeout time.Duration
	ReadLimit        int64
	ReceiveBuffer    int
}

func (o *Options) withDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadLimit <= 0 {
		o.ReadLimit = 1 << 20 // 1 MiB frames
	}
	if o.ReceiveBuffer <= 0 {
		o.ReceiveBuffer = 64
	}
}

// WSTransport is the gorilla/websocket implementation of Transport.
type WSTransport struct {
	conn    *websocket.Conn
	recv    chan []byte
	done    chan struct{}
	writeMu sync.Mutex

	termOnce sync.Once
	termErr  atomic.Value // stores error
	closed   atomic.Bool
}

var _ Transport = (*WSTransport)(nil)

// Dial opens a WebSocket to the camera service. The returned transport is
// live: its read loop is already running.
func Dial(ctx context.Context, url string, header http.Header, opts Options) (*WSTransport, error) {
	opts.withDefaults()

	dialer := &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("%w (http %d)", err, resp.StatusCode)
		}
		return nil, errors.New(errors.KindConnectionLost, err, "Transport", "Dial")
	}
	conn.SetReadLimit(opts.ReadLimit)

	t := &WSTransport{
		conn: conn,
		recv: make(chan []byte, opts.ReceiveBuffer),
		done: make(chan struct{}),
	}
	openCount.Add(1)
	go t.readLoop()
	return t, nil
}

// Send writes one text frame to the socket.
func (t *WSTransport) Send(ctx context.Context, data []byte) error {
	if t.closed.Load() {
		return errors.New(errors.KindConnectionLost, errors.ErrConnectionLost, "Transport", "Send")
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.conn.SetWriteDeadline(deadline)
	} else {
		_ = t.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	}

	if err := t.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.terminate(errors.New(errors.KindConnectionLost, err, "Transport", "Send"))
		return errors.New(errors.KindConnectionLost, err, "Transport", "Send")
	}
	return nil
}

// Receive returns the incoming frame channel.
func (t *WSTransport) Receive() <-chan []byte {
	return t.recv
}

// Done is closed when the transport has terminated.
func (t *WSTransport) Done() <-chan struct{} {
	return t.done
}

// Err returns the terminal error, if any.
func (t *WSTransport) Err() error {
	if v := t.termErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// Close tears the socket down and releases the reader.
func (t *WSTransport) Close() error {
	// Best-effort close handshake before dropping the socket.
	t.writeMu.Lock()
	_ = t.conn.SetWriteDeadline(time.Now().Add(time.Second))
	_ = t.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	t.writeMu.Unlock()

	t.terminate(nil)
	return nil
}

// terminate shuts the transport down exactly once. A nil err marks a clean
// client-initiated close.
func (t *WSTransport) terminate(err error) {
	t.termOnce.Do(func() {
		t.closed.Store(true)
		if err != nil {
			t.termErr.Store(err)
		}
		_ = t.conn.Close()
		// Decrement before releasing Done waiters so anyone unblocked by
		// Done observes the corrected count.
		openCount.Add(-1)
		close(t.done)
	})
}

// readLoop pumps frames from the socket into the receive channel until the
// connection dies. It owns closing the receive channel.
func (t *WSTransport) readLoop() {
	defer close(t.recv)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if t.closed.Load() {
				t.terminate(nil)
			} else {
				t.terminate(errors.New(errors.KindConnectionLost, err, "Transport", "Receive"))
			}
			return
		}

		select {
		case t.recv <- data:
		case <-t.done:
			return
		}
	}
}
