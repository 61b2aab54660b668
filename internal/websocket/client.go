package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var ErrClosed = errors.New("websocket: connection closed")

type ClientConfig struct {
	URL         string
	DialTimeout time.Duration
	Headers     http.Header
	OnText      func(data []byte)
	OnBinary    func(data []byte)
	// OnClose is called exactly once when the read side ends. err is nil
	// for EOF or a close frame from the server.
	OnClose func(err error)
	Logger  *slog.Logger
}

type Client struct {
	conn      net.Conn
	out       chan wsutil.Message
	done      chan struct{}
	doneOnce  sync.Once
	closeOnce sync.Once
	onClose   func(err error)
	logger    *slog.Logger
}

func (c *Client) setDone(err error) {
	c.doneOnce.Do(func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(err)
		}
	})
}

func (c *Client) WriteText(data []byte) error {
	return c.Write(ws.OpText, data)
}

func (c *Client) WriteBinary(data []byte) error {
	return c.Write(ws.OpBinary, data)
}

func (c *Client) Ping(data []byte) error {
	return c.Write(ws.OpPing, data)
}

func (c *Client) SendClose(code ws.StatusCode, reason string) error {
	return c.Write(ws.OpClose, ws.NewCloseFrameBody(code, reason))
}

// Close sends a close frame and waits for the server to finish the
// handshake or for ctx to expire, then drops the underlying connection.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		if sendErr := c.SendClose(ws.StatusNormalClosure, "closing"); sendErr == nil {
			select {
			case <-c.done:
			case <-ctx.Done():
				err = fmt.Errorf("close failed: %w", ctx.Err())
			}
		}
		c.setDone(nil)
		_ = c.conn.Close()
	})
	return err
}

func (c *Client) Write(opcode ws.OpCode, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- wsutil.Message{OpCode: opcode, Payload: data}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func Connect(ctx context.Context, config ClientConfig) (*Client, error) {

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(
		slog.String("url", config.URL),
	)

	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	// handshake timeout only
	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := ws.Dialer{
		Timeout: dialTimeout,
		Header:  ws.HandshakeHeaderHTTP(config.Headers),
	}
	conn, buf, hs, err := d.Dial(hsCtx, config.URL)
	if err != nil {
		return nil, err
	}
	logger.Debug("handshake complete", slog.Any("handshake", hs))

	if buf != nil {
		defer ws.PutReader(buf)
	}

	logger.Info("connected to websocket")

	var (
		input  = make(chan wsutil.Message, 1000)
		output = make(chan wsutil.Message, 1000)
	)

	client := &Client{
		conn:    conn,
		out:     output,
		done:    make(chan struct{}),
		onClose: config.OnClose,
		logger:  logger,
	}

	onTextFunc := config.OnText
	if onTextFunc == nil {
		onTextFunc = func(data []byte) {}
	}
	onBinaryFunc := config.OnBinary
	if onBinaryFunc == nil {
		onBinaryFunc = func(data []byte) {}
	}

	// websocket -> input channel
	go func() {
		for {
			messages, err := wsutil.ReadServerMessage(conn, nil)
			if err != nil {
				select {
				case <-client.done:
					return
				default:
				}
				var closedErr wsutil.ClosedError
				if errors.Is(err, io.EOF) || errors.As(err, &closedErr) {
					client.setDone(nil)
					return
				}
				logger.Error("ws read failed", slog.Any("err", err))
				client.setDone(err)
				return
			}
			for _, msg := range messages {
				select {
				case input <- msg:
				case <-client.done:
					return
				}
			}
		}
	}()

	// output channel -> websocket
	go func() {
		for {
			select {
			case <-client.done:
				return
			case msg := <-output:
				if err := wsutil.WriteClientMessage(conn, msg.OpCode, msg.Payload); err != nil {
					logger.Error("message write failed", slog.Any("err", err))
					client.setDone(err)
					return
				}
			}
		}
	}()

	// input channel processing
	go func() {
		for {
			select {
			case <-client.done:
				return
			case msg := <-input:

				// handle control
				if msg.OpCode.IsControl() {
					logger.Debug("rcv: control", slog.Any("opcode", msg.OpCode))

					if err := wsutil.HandleServerControlMessage(conn, msg); err != nil {
						logger.Debug("handling of control message ended", slog.Any("err", err))
					}

					if msg.OpCode == ws.OpClose {
						logger.Debug("rcv: close", slog.String("reason", string(msg.Payload)))
						client.setDone(nil)
					}

					continue
				}

				switch msg.OpCode {
				case ws.OpText:
					logger.Debug("rcv: text", slog.Int("len", len(msg.Payload)))
					onTextFunc(msg.Payload)

				case ws.OpBinary:
					logger.Debug("rcv: binary", slog.Int("len", len(msg.Payload)))
					onBinaryFunc(msg.Payload)
				}
			}
		}
	}()

	return client, nil
}
