package gorillaws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/tutorchat/pkg/transport"
)

// tutorServer replays a one-turn history and answers every client message
// with a single full_text frame. Sending "bye" makes it close the socket.
func tutorServer(t *testing.T) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/ws/chat/") {
			http.NotFound(w, r)
			return
		}
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = c.Close() }()
		_ = c.WriteMessage(websocket.TextMessage, []byte(`{"type":"history","content":[{"role":"user","content":"hi"}]}`))
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			var in struct {
				ClientMessage string `json:"client_message"`
			}
			if json.Unmarshal(data, &in) != nil {
				continue
			}
			if in.ClientMessage == "bye" {
				_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(4000, "bye"))
				return
			}
			_ = c.WriteMessage(websocket.BinaryMessage, []byte{0x01})
			out, _ := json.Marshal(map[string]string{"type": "full_text", "content": "echo: " + in.ClientMessage})
			_ = c.WriteMessage(websocket.TextMessage, out)
		}
	}))
}

func wsURL(srv *httptest.Server, id string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/" + id
}

func TestDialExchangeAndOrderlyClose(t *testing.T) {
	srv := tutorServer(t)
	defer srv.Close()

	d := &Dialer{HandshakeTimeout: time.Second, WriteTimeout: time.Second}
	c, err := d.Dial(context.Background(), wsURL(srv, "abc"))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	data, err := c.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"history","content":[{"role":"user","content":"hi"}]}`, string(data))

	require.NoError(t, c.WriteMessage([]byte(`{"client_message":"2+2?"}`)))
	data, err = c.ReadMessage()
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"full_text","content":"echo: 2+2?"}`, string(data))

	require.NoError(t, c.WriteMessage([]byte(`{"client_message":"bye"}`)))
	_, err = c.ReadMessage()
	require.Error(t, err)
	require.True(t, transport.IsOrderlyClose(err))
	var ce *transport.CloseError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, 4000, ce.Code)
	require.Equal(t, "bye", ce.Reason)
}

func TestDialFailure(t *testing.T) {
	srv := tutorServer(t)
	defer srv.Close()

	d := &Dialer{HandshakeTimeout: time.Second}
	_, err := d.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http")+"/nope")
	require.Error(t, err)
	require.Contains(t, err.Error(), "404")
}

func TestCloseIsIdempotent(t *testing.T) {
	srv := tutorServer(t)
	defer srv.Close()

	c, err := (&Dialer{}).Dial(context.Background(), wsURL(srv, "x"))
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.ReadMessage()
	require.Error(t, err)
	require.ErrorIs(t, err, net.ErrClosed)
	require.False(t, transport.IsOrderlyClose(err))
}
