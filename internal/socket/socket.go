// Package socket owns the WebSocket lifecycle for one logical channel. A
// Handle wraps exactly one connection; controllers that need a fresh
// connection dial a fresh handle. There is no automatic reconnection — a
// dropped connection is reported through the Closed callback and the owning
// controller decides what to do (in this design, nothing until the user
// re-enters the view).
package socket

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/mbtilink/matchkit/internal/metrics"
)

// Channel kinds, used for logging and metrics labels.
const (
	KindMatch = "match"
	KindChat  = "chat"
)

// Handlers carries the callbacks a Handle invokes from its read loop.
// Message receives each inbound text frame verbatim; Closed fires exactly
// once when the read loop exits, with nil err for a locally initiated close.
// Both are optional.
type Handlers struct {
	Message func(data []byte)
	Closed  func(err error)
}

// Handle is one live WebSocket connection. It is safe for concurrent use;
// writes are serialized by an internal mutex.
type Handle struct {
	kind      string
	conn      net.Conn
	writeMu   sync.Mutex
	handlers  Handlers
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a WebSocket connection to url and starts the read loop in a
// background goroutine. The kind labels log lines and metrics; it does not
// affect the wire behavior.
func Dial(ctx context.Context, kind, url string, handlers Handlers) (*Handle, error) {
	conn, _, _, err := ws.Dial(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("socket: dial %s channel: %w", kind, err)
	}

	h := &Handle{
		kind:     kind,
		conn:     conn,
		handlers: handlers,
		done:     make(chan struct{}),
	}
	metrics.SocketsOpened.WithLabelValues(kind).Inc()

	go h.readLoop()
	return h, nil
}

// Send writes one text frame to the connection.
func (h *Handle) Send(data []byte) error {
	select {
	case <-h.done:
		return fmt.Errorf("socket: %s channel is closed", h.kind)
	default:
	}

	h.writeMu.Lock()
	defer h.writeMu.Unlock()
	if err := wsutil.WriteClientMessage(h.conn, ws.OpText, data); err != nil {
		return fmt.Errorf("socket: write to %s channel: %w", h.kind, err)
	}
	return nil
}

// IsOpen reports whether the handle has not been closed yet. The connection
// may still die between this check and a Send; Send reports that as an
// error.
func (h *Handle) IsOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Close tears down the connection. Safe to call multiple times and safe to
// call on a handle whose connection already died.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		h.conn.Close()
	})
}

// readLoop reads frames until the connection closes, dispatching each one to
// the Message handler. It fires Closed exactly once on exit.
func (h *Handle) readLoop() {
	for {
		data, err := wsutil.ReadServerText(h.conn)
		if err != nil {
			select {
			case <-h.done:
				// Locally initiated close; not an error.
				h.fireClosed(nil)
			default:
				log.Printf("[socket] %s channel read error: %v", h.kind, err)
				h.Close()
				h.fireClosed(err)
			}
			return
		}

		metrics.FramesReceived.WithLabelValues(h.kind).Inc()
		if h.handlers.Message != nil {
			h.handlers.Message(data)
		}
	}
}

func (h *Handle) fireClosed(err error) {
	if h.handlers.Closed != nil {
		h.handlers.Closed(err)
	}
}
