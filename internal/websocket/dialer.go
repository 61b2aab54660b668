package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/codewandler/realtime-go/transport"
)

// Dialer opens gobwas/ws client connections.
type Dialer struct {
	URL         string
	Headers     http.Header
	DialTimeout time.Duration
	Logger      *slog.Logger
}

func (d *Dialer) Dial(ctx context.Context, cb transport.Callbacks) (transport.Conn, error) {
	return Connect(ctx, ClientConfig{
		URL:         d.URL,
		Headers:     d.Headers,
		DialTimeout: d.DialTimeout,
		Logger:      d.Logger,
		OnText:      cb.OnText,
		OnClose:     cb.OnClose,
	})
}

var _ transport.Dialer = (*Dialer)(nil)
