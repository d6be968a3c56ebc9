package events

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestEventJSONRoundTrip(t *testing.T) {
	md := NewEventMetadata("conv-1")
	md.SendID = "send-1"
	md.TurnID = 4

	evs := []Event{
		NewStartEvent(md),
		NewPartialCompletionEvent(md, "lo", "Hello"),
		NewFinalEvent(md, "Hello"),
		NewErrorEvent(md, errors.New("boom"), "Par"),
		NewInterruptEvent(md, "Part"),
		NewConversationEvent(md, ActionEdited),
	}

	for _, ev := range evs {
		b, err := json.Marshal(ev)
		require.NoError(t, err)

		decoded, err := NewEventFromJson(b)
		require.NoError(t, err)
		require.Equal(t, ev.Type(), decoded.Type())
		require.Equal(t, md.ID, decoded.Metadata().ID)
		require.Equal(t, "send-1", decoded.Metadata().SendID)
		require.Equal(t, uint64(4), decoded.Metadata().TurnID)
		require.Equal(t, b, decoded.Payload())
	}
}

func TestDecodedTypes(t *testing.T) {
	md := NewEventMetadata("c")
	b, err := json.Marshal(NewPartialCompletionEvent(md, "lo", "Hello"))
	require.NoError(t, err)
	ev, err := NewEventFromJson(b)
	require.NoError(t, err)
	p, ok := ev.(*EventPartialCompletion)
	require.True(t, ok)
	require.Equal(t, "lo", p.Delta)
	require.Equal(t, "Hello", p.Completion)

	b, err = json.Marshal(NewErrorEvent(md, errors.New("boom"), "Par"))
	require.NoError(t, err)
	ev, err = NewEventFromJson(b)
	require.NoError(t, err)
	e, ok := ev.(*EventError)
	require.True(t, ok)
	require.Equal(t, "boom", e.ErrorString)
	require.Equal(t, "Par", e.Text)

	_, err = NewEventFromJson([]byte("not json"))
	require.Error(t, err)
}

func TestPublishToContextSinks(t *testing.T) {
	a := NewChannelSink(4)
	var seen []EventType
	b := SinkFunc(func(e Event) error {
		seen = append(seen, e.Type())
		return errors.New("ignored")
	})

	ctx := WithEventSinks(context.Background(), a)
	ctx = WithEventSinks(ctx, b)
	require.Len(t, GetEventSinks(ctx), 2)

	PublishEventToContext(ctx, NewStartEvent(NewEventMetadata("c")))
	require.Equal(t, []EventType{EventTypeStart}, seen)
	require.Len(t, a.C, 1)

	// no sinks is a no-op
	PublishEventToContext(context.Background(), NewStartEvent(NewEventMetadata("c")))
}

func TestChannelSinkDropsWhenFull(t *testing.T) {
	s := NewChannelSink(1)
	md := NewEventMetadata("c")
	require.NoError(t, s.PublishEvent(NewStartEvent(md)))
	require.NoError(t, s.PublishEvent(NewFinalEvent(md, "x")))
	require.Len(t, s.C, 1)
	require.Equal(t, EventTypeStart, (<-s.C).Type())
}

func TestRouterDeliversToHandler(t *testing.T) {
	router, err := NewEventRouter()
	require.NoError(t, err)
	defer func() { _ = router.Close() }()

	var buf bytes.Buffer
	done := make(chan struct{})
	printer := StepPrinterFunc("assistant", &buf)
	router.AddHandler("printer", func(ev Event) error {
		err := printer(ev)
		if ev.Type() == EventTypeFinal {
			close(done)
		}
		return err
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = router.Run(ctx) }()
	<-router.Running()

	sink := router.Sink()
	md := NewEventMetadata("c")
	require.NoError(t, sink.PublishEvent(NewStartEvent(md)))
	require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(md, "Hel", "Hel")))
	require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(md, "lo", "Hello")))
	require.NoError(t, sink.PublishEvent(NewFinalEvent(md, "Hello")))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("final event not delivered")
	}
	require.Equal(t, "\nassistant: \nHello\n", buf.String())
}

func TestWatermillSinkSetsSequenceNumbers(t *testing.T) {
	router, err := NewEventRouter(WithTopic("seq"))
	require.NoError(t, err)
	defer func() { _ = router.Close() }()
	require.Equal(t, "seq", router.Topic())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	msgs, err := router.Subscribe(ctx)
	require.NoError(t, err)

	received := make(chan *message.Message, 3)
	go func() {
		for msg := range msgs {
			received <- msg
			msg.Ack()
		}
	}()

	// publishing blocks until the subscriber acked, so ordering is preserved
	sink := router.Sink()
	md := NewEventMetadata("c")
	for i := 0; i < 3; i++ {
		require.NoError(t, sink.PublishEvent(NewPartialCompletionEvent(md, "x", "x")))
	}
	for i := 0; i < 3; i++ {
		select {
		case msg := <-received:
			require.Equal(t, formatSequence(uint64(i)), msg.Metadata.Get("sequence_number"))
			require.Equal(t, string(EventTypePartialCompletion), msg.Metadata.Get("event_type"))
		case <-time.After(5 * time.Second):
			t.Fatal("message not delivered")
		}
	}
}
