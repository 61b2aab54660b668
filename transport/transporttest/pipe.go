// Package transporttest provides an in-memory transport.Dialer that records
// outbound frames and lets tests inject inbound ones.
package transporttest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/codewandler/realtime-go/transport"
)

var ErrClosed = errors.New("transporttest: connection closed")

// Dialer hands out a fresh Conn per Dial. Set DialErr to make dialing fail.
type Dialer struct {
	mu      sync.Mutex
	DialErr error
	conns   []*Conn
}

func (d *Dialer) Dial(_ context.Context, cb transport.Callbacks) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	c := &Conn{cb: cb}
	d.conns = append(d.conns, c)
	return c, nil
}

// Conn returns the most recently dialed connection, or nil.
func (d *Dialer) Conn() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

type Conn struct {
	mu     sync.Mutex
	cb     transport.Callbacks
	sent   [][]byte
	closed bool
}

func (c *Conn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *Conn) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Receive delivers a frame as if it came from the peer.
func (c *Conn) Receive(data []byte) {
	if c.cb.OnText != nil {
		c.cb.OnText(data)
	}
}

// ReceiveJSON marshals v and delivers it.
func (c *Conn) ReceiveJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	c.Receive(data)
}

// Drop simulates the peer going away.
func (c *Conn) Drop(err error) {
	if c.cb.OnClose != nil {
		c.cb.OnClose(err)
	}
}

// Sent returns every frame written so far, decoded as JSON objects.
func (c *Conn) Sent() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.sent))
	for _, data := range c.sent {
		var m map[string]any
		if err := json.Unmarshal(data, &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

// SentOfType filters Sent by the "type" field.
func (c *Conn) SentOfType(eventType string) []map[string]any {
	var out []map[string]any
	for _, m := range c.Sent() {
		if m["type"] == eventType {
			out = append(out, m)
		}
	}
	return out
}
