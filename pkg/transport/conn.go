package transport

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

var ErrNoDialer = errors.New("transport: dialer is nil")

// Conn is one live duplex text connection. ReadMessage blocks until the next
// message arrives or the connection ends; Close unblocks a pending read.
type Conn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens connections. Dial must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

type DialerFunc func(ctx context.Context, addr string) (Conn, error)

func (f DialerFunc) Dial(ctx context.Context, addr string) (Conn, error) {
	return f(ctx, addr)
}

// CloseError reports an orderly close initiated by the remote end. Read
// errors of any other kind are treated as transport errors.
type CloseError struct {
	Code   int
	Reason string
}

func (e *CloseError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("connection closed (%d)", e.Code)
	}
	return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Reason)
}

// IsOrderlyClose reports whether err is (or wraps) a CloseError.
func IsOrderlyClose(err error) bool {
	var ce *CloseError
	return errors.As(err, &ce)
}
