// Package gorillaws implements transport.Dialer on gorilla/websocket.
package gorillaws

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tutorchat/pkg/transport"
)

type Dialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

var _ transport.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	c, resp, err := dialer.DialContext(ctx, addr, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dial %s: http status %d", addr, resp.StatusCode)
		}
		return nil, errors.Wrapf(err, "dial %s", addr)
	}
	return &conn{c: c, writeTimeout: d.WriteTimeout}, nil
}

type conn struct {
	c            *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closed       atomic.Bool
}

func (c *conn) ReadMessage() ([]byte, error) {
	for {
		// gorilla keeps handing out buffered frames after Close
		if c.closed.Load() {
			return nil, errors.Wrap(net.ErrClosed, "read")
		}
		mt, data, err := c.c.ReadMessage()
		if c.closed.Load() {
			return nil, errors.Wrap(net.ErrClosed, "read")
		}
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) && ce.Code != websocket.CloseAbnormalClosure {
				return nil, &transport.CloseError{Code: ce.Code, Reason: ce.Text}
			}
			return nil, err
		}
		if mt != websocket.TextMessage {
			log.Debug().Str("component", "gorillaws").Int("message_type", mt).Msg("ignoring non-text message")
			continue
		}
		return data, nil
	}
}

func (c *conn) WriteMessage(data []byte) error {
	if c.writeTimeout > 0 {
		_ = c.c.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.c.WriteMessage(websocket.TextMessage, data)
}

func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = c.c.Close()
	})
	return err
}
