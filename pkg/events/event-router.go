package events

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// TopicChat is the default topic sessions publish on.
const TopicChat = "chat"

// Handler consumes one decoded event.
type Handler func(e Event) error

// EventRouter carries the events of a session over an in-process gochannel
// pub/sub. Sessions publish through Sink; consumers either register a
// Handler, run by the watermill router, or take a raw subscription.
//
// Publishing blocks until every subscriber acked the message, so events
// reach each consumer in publish order.
type EventRouter struct {
	logger watermill.LoggerAdapter
	topic  string
	pubSub *gochannel.GoChannel
	router *message.Router
}

type EventRouterOption func(*EventRouter)

func WithLogger(logger watermill.LoggerAdapter) EventRouterOption {
	return func(r *EventRouter) {
		r.logger = logger
	}
}

// WithVerbose routes watermill's own logs to zerolog.
func WithVerbose(verbose bool) EventRouterOption {
	return func(r *EventRouter) {
		if verbose {
			r.logger = NewWatermillLogger(log.Logger)
		}
	}
}

func WithTopic(topic string) EventRouterOption {
	return func(r *EventRouter) {
		r.topic = topic
	}
}

func NewEventRouter(options ...EventRouterOption) (*EventRouter, error) {
	ret := &EventRouter{
		logger: watermill.NopLogger{},
		topic:  TopicChat,
	}
	for _, o := range options {
		o(ret)
	}

	ret.pubSub = gochannel.NewGoChannel(gochannel.Config{
		BlockPublishUntilSubscriberAck: true,
	}, ret.logger)

	router, err := message.NewRouter(message.RouterConfig{}, ret.logger)
	if err != nil {
		return nil, errors.Wrap(err, "could not create event router")
	}
	ret.router = router

	return ret, nil
}

func (e *EventRouter) Topic() string {
	return e.topic
}

// Sink returns a sink publishing on the router topic. Every call returns a
// sink with its own sequence numbers.
func (e *EventRouter) Sink() *WatermillSink {
	return NewWatermillSink(e.pubSub, e.topic)
}

// AddHandler registers h under name. It must be called before Run. Every
// message is acked, also when it cannot be decoded or h fails: a failing
// consumer must not stall the session publishing to it.
func (e *EventRouter) AddHandler(name string, h Handler) {
	e.router.AddNoPublisherHandler(name, e.topic, e.pubSub, func(msg *message.Message) error {
		defer msg.Ack()

		ev, err := NewEventFromJson(msg.Payload)
		if err != nil {
			log.Warn().Err(err).Str("handler", name).Msg("could not decode event")
			return nil
		}
		if err := h(ev); err != nil {
			log.Warn().Err(err).
				Str("handler", name).
				Str("event_type", string(ev.Type())).
				Msg("event handler failed")
		}
		return nil
	})
}

// Subscribe opens a raw subscription on the router topic. The caller must
// ack every message. The channel closes when ctx is done or the router is
// closed.
func (e *EventRouter) Subscribe(ctx context.Context) (<-chan *message.Message, error) {
	return e.pubSub.Subscribe(ctx, e.topic)
}

// Close stops the handlers, then closes the pub/sub and with it every raw
// subscription.
func (e *EventRouter) Close() error {
	log.Debug().Msg("Closing router")
	routerErr := e.router.Close()

	log.Debug().Msg("Closing pubsub")
	pubSubErr := e.pubSub.Close()

	if routerErr != nil {
		return errors.Wrap(routerErr, "could not close router")
	}
	if pubSubErr != nil {
		return errors.Wrap(pubSubErr, "could not close pubsub")
	}
	return nil
}

func (e *EventRouter) Running() chan struct{} {
	return e.router.Running()
}

func (e *EventRouter) IsRunning() bool {
	return e.router.IsRunning()
}

// Run blocks until ctx is done or the router is closed.
func (e *EventRouter) Run(ctx context.Context) error {
	return e.router.Run(ctx)
}
