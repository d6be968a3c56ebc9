package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeStart to EventTypeInterrupt describe one streamed send.
	EventTypeStart             EventType = "start"
	EventTypePartialCompletion EventType = "partial"
	EventTypeFinal             EventType = "final"
	EventTypeError             EventType = "error"
	EventTypeInterrupt         EventType = "interrupt"

	// EventTypeConversation is emitted whenever the transcript changes outside
	// of a stream: append, edit, delete, clear, load.
	EventTypeConversation EventType = "conversation"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// set when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

func (e *EventImpl) SetPayload(b []byte) {
	e.payload = b
}

var _ Event = &EventImpl{}

type EventPartialCompletionStart struct {
	EventImpl
}

func NewStartEvent(metadata EventMetadata) *EventPartialCompletionStart {
	return &EventPartialCompletionStart{
		EventImpl: EventImpl{Type_: EventTypeStart, Metadata_: metadata},
	}
}

var _ Event = &EventPartialCompletionStart{}

// EventPartialCompletion carries one fragment. Completion is the full text
// received so far.
type EventPartialCompletion struct {
	EventImpl
	Delta      string `json:"delta"`
	Completion string `json:"completion"`
}

func NewPartialCompletionEvent(metadata EventMetadata, delta string, completion string) *EventPartialCompletion {
	return &EventPartialCompletion{
		EventImpl:  EventImpl{Type_: EventTypePartialCompletion, Metadata_: metadata},
		Delta:      delta,
		Completion: completion,
	}
}

var _ Event = &EventPartialCompletion{}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{Type_: EventTypeFinal, Metadata_: metadata},
		Text:      text,
	}
}

var _ Event = &EventFinal{}

// EventError reports a failed stream. Text is the partial output that was
// kept as an errored turn.
type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
	Text        string `json:"text,omitempty"`
}

func NewErrorEvent(metadata EventMetadata, err error, text string) *EventError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &EventError{
		EventImpl:   EventImpl{Type_: EventTypeError, Metadata_: metadata},
		ErrorString: msg,
		Text:        text,
	}
}

var _ Event = &EventError{}

// EventInterrupt reports a cancelled stream and the text kept so far.
type EventInterrupt struct {
	EventImpl
	Text string `json:"text"`
}

func NewInterruptEvent(metadata EventMetadata, text string) *EventInterrupt {
	return &EventInterrupt{
		EventImpl: EventImpl{Type_: EventTypeInterrupt, Metadata_: metadata},
		Text:      text,
	}
}

var _ Event = &EventInterrupt{}

type ConversationAction string

const (
	ActionAppended ConversationAction = "appended"
	ActionEdited   ConversationAction = "edited"
	ActionDeleted  ConversationAction = "deleted"
	ActionCleared  ConversationAction = "cleared"
	ActionLoaded   ConversationAction = "loaded"
	ActionReset    ConversationAction = "reset"
	ActionSettings ConversationAction = "settings"
)

type EventConversation struct {
	EventImpl
	Action  ConversationAction `json:"action"`
	Role    string             `json:"role,omitempty"`
	Content string             `json:"content,omitempty"`
	Errored bool               `json:"errored,omitempty"`
}

func NewConversationEvent(metadata EventMetadata, action ConversationAction) *EventConversation {
	return &EventConversation{
		EventImpl: EventImpl{Type_: EventTypeConversation, Metadata_: metadata},
		Action:    action,
	}
}

var _ Event = &EventConversation{}

// EventMetadata is attached to every event and copied into the watermill
// message.
type EventMetadata struct {
	ID             uuid.UUID              `json:"message_id" yaml:"message_id"`
	ConversationID string                 `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	SendID         string                 `json:"send_id,omitempty" yaml:"send_id,omitempty"`
	TurnID         uint64                 `json:"turn_id,omitempty" yaml:"turn_id,omitempty"`
	Model          string                 `json:"model,omitempty" yaml:"model,omitempty"`
	Temperature    *float64               `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP           *float64               `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	DurationMs     *int64                 `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`
	Extra          map[string]interface{} `json:"extra,omitempty" yaml:"extra,omitempty"`
}

func NewEventMetadata(conversationID string) EventMetadata {
	return EventMetadata{
		ID:             uuid.New(),
		ConversationID: conversationID,
	}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.SendID != "" {
		e.Str("send_id", em.SendID)
	}
	if em.TurnID != 0 {
		e.Uint64("turn_id", em.TurnID)
	}
	if em.Model != "" {
		e.Str("model", em.Model)
	}
	if em.Temperature != nil {
		e.Float64("temperature", *em.Temperature)
	}
	if em.TopP != nil {
		e.Float64("top_p", *em.TopP)
	}
	if em.DurationMs != nil {
		e.Int64("duration_ms", *em.DurationMs)
	}
	if len(em.Extra) > 0 {
		e.Dict("extra", zerolog.Dict().Fields(em.Extra))
	}
}

func NewEventFromJson(b []byte) (Event, error) {
	var e *EventImpl
	err := json.Unmarshal(b, &e)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, errors.New("empty event payload")
	}
	e.payload = b

	switch e.Type_ {
	case EventTypeStart:
		return decodeTyped[EventPartialCompletionStart](e)
	case EventTypePartialCompletion:
		return decodeTyped[EventPartialCompletion](e)
	case EventTypeFinal:
		return decodeTyped[EventFinal](e)
	case EventTypeError:
		return decodeTyped[EventError](e)
	case EventTypeInterrupt:
		return decodeTyped[EventInterrupt](e)
	case EventTypeConversation:
		return decodeTyped[EventConversation](e)
	}

	return e, nil
}

type settablePayload interface {
	Event
	SetPayload([]byte)
}

func decodeTyped[T any, PT interface {
	*T
	settablePayload
}](e *EventImpl) (Event, error) {
	ret, ok := ToTypedEvent[T](e)
	if !ok || ret == nil {
		return nil, errors.Errorf("could not cast event to %s", e.Type_)
	}
	pt := PT(ret)
	pt.SetPayload(e.payload)
	return pt, nil
}

func ToTypedEvent[T any](e Event) (*T, bool) {
	var ret *T
	err := json.Unmarshal(e.Payload(), &ret)
	if err != nil {
		return nil, false
	}

	return ret, true
}

func (e EventPartialCompletionStart) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
}

func (e EventPartialCompletion) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("delta", e.Delta)
	ev.Int("completion_len", len(e.Completion))
}

func (e EventFinal) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("text_len", len(e.Text))
}

func (e EventError) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("error", e.ErrorString)
	ev.Int("text_len", len(e.Text))
}

func (e EventInterrupt) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Int("text_len", len(e.Text))
}

func (e EventConversation) MarshalZerologObject(ev *zerolog.Event) {
	e.EventImpl.MarshalZerologObject(ev)
	ev.Str("action", string(e.Action))
}
