package chatproto

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// OutboundMessage is the only payload the client ever sends.
type OutboundMessage struct {
	ClientMessage string `json:"client_message"`
}

func NewOutbound(text string) OutboundMessage {
	return OutboundMessage{ClientMessage: text}
}

func (m OutboundMessage) Encode() ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, errors.Wrap(err, "encode outbound message")
	}
	return b, nil
}
