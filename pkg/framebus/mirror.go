package framebus

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/tutorchat/pkg/chatproto"
	"github.com/go-go-golems/tutorchat/pkg/dispatch"
)

const (
	MetaConvID    = "conv_id"
	MetaFrameType = "frame_type"
	MetaSeq       = "seq"
)

// DefaultFrameTypes are mirrored when Attach is called without types.
var DefaultFrameTypes = []chatproto.FrameType{
	chatproto.TypeConnect,
	chatproto.TypeClose,
	chatproto.TypeError,
	chatproto.TypeHistory,
	chatproto.TypeResponseStream,
	chatproto.TypeFullText,
	chatproto.TypeControl,
}

// Mirror publishes frames of one conversation as they are dispatched.
type Mirror struct {
	pub    message.Publisher
	topic  string
	convID string
	logger zerolog.Logger

	mu   sync.Mutex
	seq  uint64
	reg  *dispatch.Registry
	subs []dispatch.Subscription
}

func NewMirror(pub message.Publisher, topic, convID string) *Mirror {
	return &Mirror{
		pub:    pub,
		topic:  topic,
		convID: convID,
		logger: log.With().Str("component", "framebus").Str("conv_id", convID).Logger(),
	}
}

// Attach subscribes the mirror to reg for the given frame types.
func (m *Mirror) Attach(reg *dispatch.Registry, types ...chatproto.FrameType) {
	if len(types) == 0 {
		types = DefaultFrameTypes
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reg = reg
	for _, t := range types {
		m.subs = append(m.subs, reg.Subscribe(t, m.publish))
	}
}

func (m *Mirror) Detach() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		m.reg.Unsubscribe(s)
	}
	m.subs = nil
}

func (m *Mirror) publish(f chatproto.Frame) {
	payload, err := json.Marshal(f)
	if err != nil {
		m.logger.Warn().Err(err).Str("type", string(f.Type)).Msg("cannot encode frame for mirror")
		return
	}
	m.mu.Lock()
	m.seq++
	seq := m.seq
	m.mu.Unlock()

	msg := message.NewMessage(NewMessageID(), payload)
	msg.Metadata.Set(MetaConvID, m.convID)
	msg.Metadata.Set(MetaFrameType, string(f.Type))
	msg.Metadata.Set(MetaSeq, strconv.FormatUint(seq, 10))
	if err := m.pub.Publish(m.topic, msg); err != nil {
		m.logger.Warn().Err(err).Str("topic", m.topic).Msg("mirror publish failed")
	}
}

// Mirrored is one frame read back from the bus.
type Mirrored struct {
	ConvID string
	Seq    uint64
	Frame  chatproto.Frame
}

// Follow subscribes to topic and returns the decoded frames. The
// subscription is live when Follow returns; the channel closes when ctx is
// done or the subscriber shuts down. Messages that do not decode are acked
// and skipped.
func Follow(ctx context.Context, sub message.Subscriber, topic string) (<-chan Mirrored, error) {
	msgs, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return nil, errors.Wrapf(err, "subscribe %s", topic)
	}
	out := make(chan Mirrored)
	go func() {
		defer close(out)
		decoder := chatproto.Decoder{InferUntypedStream: true}
		for msg := range msgs {
			f, err := decoder.Decode(msg.Payload)
			if err != nil {
				log.Debug().Err(err).Str("component", "framebus").Str("msg_uuid", msg.UUID).Msg("skipping undecodable mirror message")
				msg.Ack()
				continue
			}
			seq, _ := strconv.ParseUint(msg.Metadata.Get(MetaSeq), 10, 64)
			select {
			case out <- Mirrored{ConvID: msg.Metadata.Get(MetaConvID), Seq: seq, Frame: f}:
				msg.Ack()
			case <-ctx.Done():
				msg.Nack()
				return
			}
		}
	}()
	return out, nil
}
