// Package transport defines the narrow byte-level contract the realtime
// client needs from a connection. Concrete websocket implementations live in
// internal/websocket (default) and transport/gorillaws.
package transport

import "context"

// Callbacks are invoked by a Conn from its read loop. OnText is called for
// each inbound text frame, one at a time and in arrival order. OnClose is
// called at most once when the connection ends; err is nil for a normal
// closure.
type Callbacks struct {
	OnText  func(data []byte)
	OnClose func(err error)
}

// Conn is an open connection.
type Conn interface {
	// WriteText queues a text frame. It must not block on inbound traffic.
	WriteText(data []byte) error
	// Close closes the connection. OnClose may or may not fire afterwards.
	Close(ctx context.Context) error
}

// Dialer opens connections. Dial returns only once the peer has
// acknowledged the link.
type Dialer interface {
	Dial(ctx context.Context, cb Callbacks) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cb Callbacks) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, cb Callbacks) (Conn, error) {
	return f(ctx, cb)
}
