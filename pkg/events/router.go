package events

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	rstream "github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisSettings selects the Redis Streams transport.
type RedisSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Group    string `mapstructure:"group" yaml:"group"`
	Consumer string `mapstructure:"consumer" yaml:"consumer"`
}

func DefaultRedisSettings() RedisSettings {
	return RedisSettings{
		Addr:     "localhost:6379",
		Group:    "voicebot",
		Consumer: "voicebot-1",
	}
}

// EventRouter wraps a watermill router with the publisher its handlers
// consume from. Handlers must be added before Run.
type EventRouter struct {
	Publisher message.Publisher

	router        *message.Router
	logger        watermill.LoggerAdapter
	subscriberFor func(handler string) (message.Subscriber, error)
	closers       []func() error
	verbose       bool
}

type RouterOption func(*EventRouter)

func WithVerbose(v bool) RouterOption {
	return func(r *EventRouter) {
		r.verbose = v
	}
}

func WithLogger(l watermill.LoggerAdapter) RouterOption {
	return func(r *EventRouter) {
		r.logger = l
	}
}

// NewEventRouter builds an in-memory router. Publish blocks until every
// handler has acked, so handlers see events in publish order.
func NewEventRouter(options ...RouterOption) (*EventRouter, error) {
	r := &EventRouter{}
	for _, o := range options {
		o(r)
	}
	if r.logger == nil {
		r.logger = NewWatermillLogger(log.Logger)
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer:            256,
		BlockPublishUntilSubscriberAck: true,
	}, r.logger)
	r.Publisher = pubSub
	r.subscriberFor = func(string) (message.Subscriber, error) { return pubSub, nil }
	r.closers = append(r.closers, pubSub.Close)
	return r, r.init()
}

// BuildRouter returns a Redis Streams backed router when enabled, and the
// in-memory router otherwise. Each handler reads through its own consumer
// group so that every handler sees every event.
func BuildRouter(s RedisSettings, verbose bool) (*EventRouter, error) {
	if !s.Enabled {
		return NewEventRouter(WithVerbose(verbose))
	}

	r := &EventRouter{verbose: verbose, logger: NewWatermillLogger(log.Logger)}
	client := redis.NewClient(&redis.Options{Addr: s.Addr})
	marshaler := rstream.DefaultMarshallerUnmarshaller{}

	pub, err := rstream.NewPublisher(rstream.PublisherConfig{
		Client:     client,
		Marshaller: marshaler,
	}, r.logger)
	if err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "failed to create redis publisher")
	}
	r.Publisher = pub
	r.subscriberFor = func(handler string) (message.Subscriber, error) {
		return rstream.NewSubscriber(rstream.SubscriberConfig{
			Client:        client,
			Unmarshaller:  marshaler,
			ConsumerGroup: s.Group + "." + handler,
			Consumer:      s.Consumer,
		}, r.logger)
	}
	r.closers = append(r.closers, pub.Close, client.Close)
	return r, r.init()
}

func (r *EventRouter) init() error {
	router, err := message.NewRouter(message.RouterConfig{}, r.logger)
	if err != nil {
		return errors.Wrap(err, "failed to create router")
	}
	r.router = router
	return nil
}

// AddHandler subscribes f to topic. Returning an error nacks the message;
// handlers that cannot process a payload should log and return nil.
func (r *EventRouter) AddHandler(name string, topic string, f func(msg *message.Message) error) error {
	sub, err := r.subscriberFor(name)
	if err != nil {
		return errors.Wrapf(err, "failed to create subscriber for %s", name)
	}
	handler := f
	if r.verbose {
		handler = func(msg *message.Message) error {
			log.Debug().Str("handler", name).Str("uuid", msg.UUID).Bytes("payload", msg.Payload).Msg("event")
			return f(msg)
		}
	}
	r.router.AddNoPublisherHandler(name, topic, sub, handler)
	return nil
}

func (r *EventRouter) Run(ctx context.Context) error {
	return r.router.Run(ctx)
}

// Running is closed once all handlers are subscribed.
func (r *EventRouter) Running() chan struct{} {
	return r.router.Running()
}

func (r *EventRouter) Close() error {
	var errs []string
	if err := r.router.Close(); err != nil {
		errs = append(errs, err.Error())
	}
	for _, c := range r.closers {
		if err := c(); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return errors.Errorf("failed to close router: %s", strings.Join(errs, "; "))
	}
	return nil
}

// EnsureGroupAtTail creates the consumer group for a stream at the tail so
// a new handler does not replay old sessions.
func EnsureGroupAtTail(ctx context.Context, addr, stream, group string) error {
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()
	err := client.XGroupCreateMkStream(ctx, stream, group, "$").Err()
	if err != nil {
		if strings.Contains(err.Error(), "BUSYGROUP") {
			return nil
		}
		return errors.Wrap(err, "failed to create consumer group")
	}
	log.Info().Str("stream", stream).Str("group", group).Msg("created redis consumer group at tail")
	return nil
}
