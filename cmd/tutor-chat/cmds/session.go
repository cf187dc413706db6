package cmds

import (
	"github.com/go-go-golems/tutorchat/pkg/chat"
	"github.com/go-go-golems/tutorchat/pkg/chatproto"
	"github.com/go-go-golems/tutorchat/pkg/config"
	"github.com/go-go-golems/tutorchat/pkg/transcript"
	"github.com/go-go-golems/tutorchat/pkg/transport"
	"github.com/go-go-golems/tutorchat/pkg/transport/coderws"
	"github.com/go-go-golems/tutorchat/pkg/transport/gorillaws"
)

func newDialer(cfg config.Config) transport.Dialer {
	if cfg.Transport == config.TransportCoder {
		return &coderws.Dialer{
			HandshakeTimeout: cfg.Server.HandshakeTimeout,
			WriteTimeout:     cfg.Server.WriteTimeout,
		}
	}
	return &gorillaws.Dialer{
		HandshakeTimeout: cfg.Server.HandshakeTimeout,
		WriteTimeout:     cfg.Server.WriteTimeout,
	}
}

// newChatSession wires a facade session from cfg.
func newChatSession(cfg config.Config, dialer transport.Dialer) (*chat.Session, error) {
	return chat.NewSession(dialer,
		chat.WithTransitions(transcript.Transitions{ReconcileFullText: cfg.Reducer.ReconcileFullText}),
		chat.WithTransportOptions(
			transport.WithURLTemplate(cfg.Server.URLTemplate),
			transport.WithMaxAttempts(cfg.Reconnect.MaxAttempts),
			transport.WithBackoff(cfg.Backoff()),
			transport.WithDecoder(chatproto.Decoder{InferUntypedStream: cfg.Protocol.InferUntypedStream}),
		),
	)
}
