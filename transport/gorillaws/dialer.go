// Package gorillaws is a transport.Dialer built on gorilla/websocket, for
// applications that already carry that stack.
package gorillaws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codewandler/realtime-go/transport"
)

var ErrClosed = errors.New("gorillaws: connection closed")

type Dialer struct {
	URL              string
	Headers          http.Header
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

func (d *Dialer) Dial(ctx context.Context, cb transport.Callbacks) (transport.Conn, error) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}
	ws, _, err := dialer.DialContext(ctx, d.URL, d.Headers)
	if err != nil {
		return nil, err
	}

	c := &Conn{
		ws:      ws,
		done:    make(chan struct{}),
		onClose: cb.OnClose,
		logger:  logger.With(slog.String("url", d.URL)),
	}
	go c.readLoop(cb.OnText)

	return c, nil
}

type Conn struct {
	ws       *websocket.Conn
	writeMu  sync.Mutex
	done     chan struct{}
	doneOnce sync.Once
	onClose  func(err error)
	logger   *slog.Logger
}

func (c *Conn) finish(err error) {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

func (c *Conn) readLoop(onText func([]byte)) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.finish(nil)
				return
			}
			select {
			case <-c.done:
			default:
				c.logger.Error("ws read failed", slog.Any("err", err))
			}
			c.finish(err)
			return
		}
		if mt == websocket.TextMessage && onText != nil {
			onText(data)
		}
	}
}

func (c *Conn) WriteText(data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Conn) Close(ctx context.Context) error {
	deadline := time.Now().Add(time.Second)
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	c.writeMu.Lock()
	_ = c.ws.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "closing"),
		deadline,
	)
	c.writeMu.Unlock()

	select {
	case <-c.done:
	case <-ctx.Done():
	case <-time.After(time.Until(deadline)):
	}
	c.finish(nil)
	return c.ws.Close()
}

var _ transport.Dialer = (*Dialer)(nil)
