// Package coderws implements transport.Dialer on coder/websocket.
package coderws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tutorchat/pkg/transport"
)

type Dialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
	// ReadLimit caps a single inbound message; the library default applies
	// when zero.
	ReadLimit int64
}

var _ transport.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	if d.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.HandshakeTimeout)
		defer cancel()
	}
	c, resp, err := websocket.Dial(ctx, addr, &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: http status %d", addr, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	if d.ReadLimit > 0 {
		c.SetReadLimit(d.ReadLimit)
	}
	connCtx, cancel := context.WithCancel(context.Background())
	return &conn{c: c, ctx: connCtx, cancel: cancel, writeTimeout: d.WriteTimeout}, nil
}

type conn struct {
	c            *websocket.Conn
	ctx          context.Context
	cancel       context.CancelFunc
	writeTimeout time.Duration
	closeOnce    sync.Once
}

func (c *conn) ReadMessage() ([]byte, error) {
	for {
		typ, data, err := c.c.Read(c.ctx)
		if err != nil {
			var ce websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.StatusAbnormalClosure {
				return nil, &transport.CloseError{Code: int(ce.Code), Reason: ce.Reason}
			}
			return nil, err
		}
		if typ != websocket.MessageText {
			log.Debug().Str("component", "coderws").Str("message_type", typ.String()).Msg("ignoring non-text message")
			continue
		}
		return data, nil
	}
}

func (c *conn) WriteMessage(data []byte) error {
	ctx := c.ctx
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	return c.c.Write(ctx, websocket.MessageText, data)
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.c.Close(websocket.StatusNormalClosure, "")
		c.cancel()
	})
	return err
}
