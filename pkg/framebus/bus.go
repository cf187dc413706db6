// Package framebus mirrors dispatched chat frames onto a Watermill topic so
// processes other than the UI (loggers, tail tools, analytics) can follow a
// conversation. The in-memory gochannel transport is used by default; Redis
// Streams when enabled.
package framebus

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultTopic = "tutorchat-frames"

// Settings configures the Redis Streams backend.
type Settings struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Stream   string `yaml:"stream"`
	Group    string `yaml:"group"`
	Consumer string `yaml:"consumer"`
}

func DefaultSettings() Settings {
	return Settings{
		Addr:     "localhost:6379",
		Stream:   DefaultTopic,
		Group:    "tutor-chat",
		Consumer: "cli-1",
	}
}

// Topic returns the stream name frames are published to.
func (s Settings) Topic() string {
	if strings.TrimSpace(s.Stream) == "" {
		return DefaultTopic
	}
	return s.Stream
}

// Bus bundles a publisher and subscriber over the same backend.
type Bus struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber

	client redis.UniversalClient
	shared bool
}

// Open builds the bus described by s.
func Open(s Settings) (*Bus, error) {
	logger := NewWatermillLogger(log.With().Str("component", "framebus").Logger())
	if !s.Enabled {
		ch := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, logger)
		return &Bus{Publisher: ch, Subscriber: ch, shared: true}, nil
	}

	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := redisstream.DefaultMarshallerUnmarshaller{}
	pub, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "redis stream publisher")
	}
	sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
		Client:        client,
		Unmarshaller:  marshaler,
		ConsumerGroup: s.Group,
		Consumer:      s.Consumer,
	}, logger)
	if err != nil {
		_ = pub.Close()
		_ = client.Close()
		return nil, errors.Wrap(err, "redis stream subscriber")
	}
	return &Bus{Publisher: pub, Subscriber: sub, client: client}, nil
}

// EnsureGroupAtTail creates the consumer group at the end of the stream so a
// new tail does not replay the whole history. No-op for the in-memory bus.
func (b *Bus) EnsureGroupAtTail(ctx context.Context, stream, group string) error {
	if b == nil || b.client == nil {
		return nil
	}
	err := b.client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "create consumer group")
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at tail")
	return nil
}

func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	keep(b.Publisher.Close())
	if !b.shared {
		keep(b.Subscriber.Close())
	}
	if b.client != nil {
		keep(b.client.Close())
	}
	return firstErr
}

// NewMessageID is the id source for mirrored messages.
func NewMessageID() string {
	return watermill.NewUUID()
}
