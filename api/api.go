// Package api is the transport layer of the realtime client: it owns the
// connection, stamps and sends outbound events and republishes every event
// on its bus under a direction-scoped channel.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/realtime-go/eventbus"
	"github.com/codewandler/realtime-go/events"
	"github.com/codewandler/realtime-go/transport"
)

const (
	ChannelClientAll = "client.*"
	ChannelServerAll = "server.*"
	ChannelClose     = "close"
	ChannelError     = "error"

	closeTimeout = 5 * time.Second
)

func ClientChannel(eventType string) string { return "client." + eventType }
func ServerChannel(eventType string) string { return "server." + eventType }

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// CloseEvent is published on ChannelClose whenever a connection ends or a
// connection attempt fails.
type CloseEvent struct {
	Error bool
	Err   error
}

// ClientEvent is the payload of client.* channels.
type ClientEvent struct {
	EventID string
	Type    string
	Raw     json.RawMessage
}

type Config struct {
	Dialer transport.Dialer
	// URL is only used for logs and errors.
	URL    string
	Logger *slog.Logger
}

// link is one connection attempt.
type link struct {
	conn transport.Conn
}

type API struct {
	*eventbus.Bus

	dialer transport.Dialer
	url    string
	logger *slog.Logger

	mu      sync.Mutex
	state   State
	current *link
}

func New(config Config) *API {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &API{
		Bus:    eventbus.New(),
		dialer: config.Dialer,
		url:    config.URL,
		logger: logger,
	}
}

func (a *API) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *API) IsConnected() bool {
	return a.State() == StateConnected
}

// Connect dials the peer. It returns once the link is established.
func (a *API) Connect(ctx context.Context) error {
	a.mu.Lock()
	if a.state != StateDisconnected {
		a.mu.Unlock()
		return ErrAlreadyConnected
	}
	a.state = StateConnecting
	l := &link{}
	a.current = l
	a.mu.Unlock()

	conn, err := a.dialer.Dial(ctx, transport.Callbacks{
		OnText:  a.receive,
		OnClose: func(err error) { a.linkClosed(l, err) },
	})
	if err != nil {
		a.mu.Lock()
		if a.current == l {
			a.current = nil
			a.state = StateDisconnected
		}
		a.mu.Unlock()

		a.logger.Error("connect failed", slog.String("url", a.url), slog.Any("err", err))
		cerr := &ConnectionError{URL: a.url, Err: err}
		a.Publish(ChannelClose, CloseEvent{Error: true, Err: cerr})
		return cerr
	}

	a.mu.Lock()
	if a.current != l {
		// the link died before Dial returned
		a.mu.Unlock()
		go a.closeConn(conn)
		return &ConnectionError{URL: a.url, Err: fmt.Errorf("connection closed during handshake")}
	}
	l.conn = conn
	a.state = StateConnected
	a.mu.Unlock()

	a.logger.Info("connected", slog.String("url", a.url))
	return nil
}

// Disconnect closes the connection if there is one. Safe to call any time.
func (a *API) Disconnect() {
	a.mu.Lock()
	l := a.current
	if l == nil {
		a.mu.Unlock()
		return
	}
	a.current = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	if l.conn != nil {
		go a.closeConn(l.conn)
	}
	a.logger.Info("disconnected", slog.String("url", a.url))
	a.Publish(ChannelClose, CloseEvent{Error: false})
}

func (a *API) closeConn(conn transport.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := conn.Close(ctx); err != nil {
		a.logger.Debug("close failed", slog.Any("err", err))
	}
}

func (a *API) linkClosed(l *link, err error) {
	a.mu.Lock()
	if a.current != l {
		a.mu.Unlock()
		return
	}
	a.current = nil
	a.state = StateDisconnected
	a.mu.Unlock()

	if err != nil {
		a.logger.Error("connection lost", slog.String("url", a.url), slog.Any("err", err))
	} else {
		a.logger.Info("connection closed by peer", slog.String("url", a.url))
	}
	a.Publish(ChannelClose, CloseEvent{Error: err != nil, Err: err})
}

// Send stamps an event id on body, publishes the event on client.<type> and
// client.* and writes it to the connection. body must encode as a JSON
// object; nil sends no extra fields.
func (a *API) Send(eventType string, body any) error {
	a.mu.Lock()
	var conn transport.Conn
	if a.state == StateConnected && a.current != nil {
		conn = a.current.conn
	}
	a.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	evt, err := compose(eventType, body)
	if err != nil {
		return err
	}

	a.Publish(ClientChannel(eventType), evt)
	a.Publish(ChannelClientAll, evt)
	a.logger.Debug("sent", slog.String("type", eventType), slog.String("event_id", evt.EventID))

	if err := conn.WriteText(evt.Raw); err != nil {
		return fmt.Errorf("send %s: %w", eventType, err)
	}
	return nil
}

func compose(eventType string, body any) (*ClientEvent, error) {
	fields := map[string]json.RawMessage{}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		data = bytes.TrimSpace(data)
		if bytes.Equal(data, []byte("null")) {
			data = []byte("{}")
		}
		if len(data) == 0 || data[0] != '{' {
			return nil, ErrInvalidPayload
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}

	id := events.NewEventID()
	fields["event_id"], _ = json.Marshal(id)
	fields["type"], _ = json.Marshal(eventType)

	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &ClientEvent{EventID: id, Type: eventType, Raw: raw}, nil
}

// receive handles one inbound frame.
func (a *API) receive(data []byte) {
	evt, err := events.ParseServerEvent(data)
	if err != nil {
		a.logger.Error("failed to parse server event", slog.Any("err", err))
		a.Publish(ChannelError, fmt.Errorf("parse server event: %w", err))
		return
	}

	a.logger.Debug("received", slog.String("type", evt.Type), slog.String("event_id", evt.EventID))
	a.Publish(ServerChannel(evt.Type), evt)
	a.Publish(ChannelServerAll, evt)
}
