// Package session drives one active conversation: it appends user turns,
// streams the assistant response through a completion.Completer, and turns
// the streamed fragments into a finalized assistant turn.
//
// Only one send may be in flight per Manager. Edits and deletes stay legal
// while a response streams; operations that would replace the transcript
// (clear, load, reset) are rejected with a ConcurrencyError until it ends.
package session

import (
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/completion"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/events"
	"github.com/go-go-golems/streamchat/pkg/logging"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrNoActiveSend  = errors.New("no send in flight")
	ErrNoPersistence = errors.New("no persistence store configured")
	ErrCompleterNil  = errors.New("completer is nil")
	ErrStoreNil      = errors.New("message store is nil")
)

type Manager struct {
	store     conversation.Store
	completer completion.Completer
	sinks     []events.EventSink
	records   persistence.Store
	autosave  bool
	now       func() time.Time

	mu       sync.Mutex
	settings settings.Settings
	meta     conversation.Conversation
	active   *StreamHandle
}

type Option func(*Manager)

func WithEventSinks(sinks ...events.EventSink) Option {
	return func(m *Manager) {
		m.sinks = append(m.sinks, sinks...)
	}
}

// WithPersistence enables Save and LoadRecord. With autosave set, the
// conversation is saved under its name after every finished response.
func WithPersistence(records persistence.Store, autosave bool) Option {
	return func(m *Manager) {
		m.records = records
		m.autosave = autosave
	}
}

// WithName names the initial conversation.
func WithName(name string) Option {
	return func(m *Manager) {
		m.meta.Name = name
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager validates the initial settings. The store may already hold
// turns.
func NewManager(store conversation.Store, completer completion.Completer, s settings.Settings, options ...Option) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if completer == nil {
		return nil, ErrCompleterNil
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	ret := &Manager{
		store:     store,
		completer: completer,
		settings:  s,
		meta:      conversation.New("", s),
		now:       time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

func (m *Manager) runningLocked() bool {
	return m.active != nil && m.active.IsRunning()
}

func (m *Manager) touchLocked() {
	m.meta.ModifiedAt = m.now()
}

func (m *Manager) metadataLocked() events.EventMetadata {
	md := events.NewEventMetadata(m.meta.ID)
	md.Model = m.settings.ModelID
	return md
}

func (m *Manager) publish(ev events.Event) {
	events.Publish(m.sinks, ev)
}

// Send appends text as a user turn and starts streaming the response in the
// background. The user turn is in the store when Send returns, before the
// completer has been called.
func (m *Manager) Send(ctx context.Context, text string) (*StreamHandle, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, chaterr.NewValidationError("text", "message must not be empty")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	m.mu.Lock()
	if m.runningLocked() {
		m.mu.Unlock()
		return nil, chaterr.NewConcurrencyError("send")
	}

	s := m.settings
	userTurn := conversation.NewUserTurn(text)
	userTurn.CreatedAt = m.now()
	userTurnID := m.store.Append(userTurn)
	history := m.historyLocked(s)

	sendID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	h := newStreamHandle(sendID, userTurnID, cancel)
	m.active = h
	m.touchLocked()

	md := m.metadataLocked()
	md.SendID = sendID
	md.Temperature = &s.Temperature
	md.TopP = &s.TopP
	m.mu.Unlock()

	appended := events.NewConversationEvent(withTurn(md, userTurnID), events.ActionAppended)
	appended.Role = string(conversation.RoleUser)
	appended.Content = text
	m.publish(appended)

	logging.FromContext(ctx).Debug().
		Str("send_id", sendID).
		Uint64("user_turn_id", uint64(userTurnID)).
		Object("settings", s).
		Int("history", len(history)).
		Msg("starting send")

	go m.run(runCtx, h, history, s, md)

	return h, nil
}

// SendAndWait sends text and blocks until the response is finalized.
func (m *Manager) SendAndWait(ctx context.Context, text string) (conversation.Turn, error) {
	h, err := m.Send(ctx, text)
	if err != nil {
		return conversation.Turn{}, err
	}
	return h.Wait()
}

// historyLocked is the transcript sent upstream: the system prompt, if any,
// followed by every stored turn that has content.
func (m *Manager) historyLocked(s settings.Settings) []conversation.Turn {
	turns := m.store.List()
	ret := make([]conversation.Turn, 0, len(turns)+1)
	if strings.TrimSpace(s.SystemPrompt) != "" {
		ret = append(ret, conversation.NewSystemTurn(s.SystemPrompt))
	}
	for _, t := range turns {
		if t.Content == "" {
			continue
		}
		ret = append(ret, t)
	}
	return ret
}

func withTurn(md events.EventMetadata, id conversation.TurnID) events.EventMetadata {
	md.ID = uuid.New()
	md.TurnID = uint64(id)
	return md
}

func (m *Manager) run(ctx context.Context, h *StreamHandle, history []conversation.Turn, s settings.Settings, md events.EventMetadata) {
	start := m.now()
	asm := NewAssembly()
	m.publish(events.NewStartEvent(withTurn(md, 0)))

	stream, err := m.completer.Complete(ctx, history, s)
	if err != nil {
		m.finish(ctx, h, asm, asm.Fail(err), err, md, start)
		return
	}
	defer func() {
		_ = stream.Close()
	}()

	for {
		if err := ctx.Err(); err != nil {
			m.finish(ctx, h, asm, asm.Fail(err), err, md, start)
			return
		}

		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			m.finish(ctx, h, asm, asm.Complete(), nil, md, start)
			return
		}
		if err != nil {
			// a cancelled request surfaces as a transport error; report the cancellation
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			m.finish(ctx, h, asm, asm.Fail(err), err, md, start)
			return
		}
		if fragment == "" {
			continue
		}

		asm.Append(fragment)
		m.publish(events.NewPartialCompletionEvent(withTurn(md, 0), fragment, asm.Text()))

		select {
		case h.fragments <- fragment:
		case <-ctx.Done():
			m.finish(ctx, h, asm, asm.Fail(ctx.Err()), ctx.Err(), md, start)
			return
		}
	}
}

// finish appends the finalized turn and releases the send slot. A failed
// response is only kept when some text arrived.
func (m *Manager) finish(
	ctx context.Context,
	h *StreamHandle,
	asm *Assembly,
	turn conversation.Turn,
	failure error,
	md events.EventMetadata,
	start time.Time,
) {
	m.mu.Lock()
	turn.CreatedAt = m.now()
	if failure == nil || turn.Content != "" {
		turn.ID = m.store.Append(turn)
	}
	m.active = nil
	m.touchLocked()
	var snapshot conversation.Conversation
	autosave := m.autosave && m.records != nil && m.meta.Name != ""
	if autosave {
		snapshot = conversation.Snapshot(m.store, m.meta, m.settings)
	}
	m.mu.Unlock()

	durationMs := m.now().Sub(start).Milliseconds()
	md.DurationMs = &durationMs
	text := asm.Text()
	logger := logging.FromContext(ctx)

	var resultErr error
	switch {
	case failure == nil:
		m.publish(events.NewFinalEvent(withTurn(md, turn.ID), text))
	case ctx.Err() != nil:
		resultErr = chaterr.NewUpstreamError(len(text), failure)
		m.publish(events.NewInterruptEvent(withTurn(md, turn.ID), text))
	default:
		resultErr = chaterr.NewUpstreamError(len(text), failure)
		m.publish(events.NewErrorEvent(withTurn(md, turn.ID), failure, text))
	}
	if turn.ID != 0 {
		appended := events.NewConversationEvent(withTurn(md, turn.ID), events.ActionAppended)
		appended.Role = string(turn.Role)
		appended.Content = turn.Content
		appended.Errored = turn.Errored
		m.publish(appended)
	}

	if resultErr != nil {
		logger.Warn().Err(failure).
			Str("send_id", h.SendID).
			Int("partial_length", len(text)).
			Msg("send failed")
	} else {
		logger.Debug().
			Str("send_id", h.SendID).
			Int("fragments", len(asm.Fragments())).
			Int64("duration_ms", durationMs).
			Msg("send complete")
	}

	close(h.fragments)

	if autosave {
		if _, err := m.records.Save(context.WithoutCancel(ctx), snapshot, snapshot.Name); err != nil {
			logger.Error().Err(err).Str("name", snapshot.Name).Msg("autosave failed")
		}
	}

	h.setResult(turn, resultErr)
}

// CancelActive cancels the send in flight, if any.
func (m *Manager) CancelActive() error {
	m.mu.Lock()
	h := m.active
	m.mu.Unlock()
	if h == nil || !h.IsRunning() {
		return ErrNoActiveSend
	}
	h.Cancel()
	return nil
}

func (m *Manager) IsStreaming() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.runningLocked()
}

// Active returns the handle of the send in flight, or nil.
func (m *Manager) Active() *StreamHandle {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.runningLocked() {
		return nil
	}
	return m.active
}

func (m *Manager) Edit(id conversation.TurnID, text string) error {
	if err := m.store.Edit(id, text); err != nil {
		return err
	}
	m.mu.Lock()
	m.touchLocked()
	md := withTurn(m.metadataLocked(), id)
	m.mu.Unlock()

	ev := events.NewConversationEvent(md, events.ActionEdited)
	ev.Content = text
	m.publish(ev)
	return nil
}

func (m *Manager) Delete(id conversation.TurnID) error {
	if err := m.store.Delete(id); err != nil {
		return err
	}
	m.mu.Lock()
	m.touchLocked()
	md := withTurn(m.metadataLocked(), id)
	m.mu.Unlock()

	m.publish(events.NewConversationEvent(md, events.ActionDeleted))
	return nil
}

// Clear removes every turn. Saved records are not touched.
func (m *Manager) Clear() error {
	m.mu.Lock()
	if m.runningLocked() {
		m.mu.Unlock()
		return chaterr.NewConcurrencyError("clear")
	}
	m.store.Clear()
	m.touchLocked()
	md := m.metadataLocked()
	m.mu.Unlock()

	m.publish(events.NewConversationEvent(md, events.ActionCleared))
	return nil
}

func (m *Manager) Turns() []conversation.Turn {
	return m.store.List()
}

func (m *Manager) Settings() settings.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings
}

// UpdateSettings replaces the active settings. A send already streaming
// keeps the settings it started with.
func (m *Manager) UpdateSettings(s settings.Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.settings = s
	m.touchLocked()
	md := m.metadataLocked()
	m.mu.Unlock()

	m.publish(events.NewConversationEvent(md, events.ActionSettings))
	return nil
}

func (m *Manager) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.meta.Name
}

func (m *Manager) SetName(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meta.Name = strings.TrimSpace(name)
}

// Snapshot returns a deep copy of the active conversation.
func (m *Manager) Snapshot() conversation.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return conversation.Snapshot(m.store, m.meta, m.settings)
}

// Load replaces the active conversation with conv.
func (m *Manager) Load(conv conversation.Conversation) error {
	if err := conv.Validate(); err != nil {
		return err
	}
	conv = conv.Clone()

	m.mu.Lock()
	if m.runningLocked() {
		m.mu.Unlock()
		return chaterr.NewConcurrencyError("load")
	}
	if err := m.store.Replace(conv.Turns, conv.NextTurnID); err != nil {
		m.mu.Unlock()
		return err
	}
	m.settings = conv.Settings
	m.meta = conv
	m.meta.Turns = nil
	md := m.metadataLocked()
	m.mu.Unlock()

	m.publish(events.NewConversationEvent(md, events.ActionLoaded))
	return nil
}

// Reset starts a new, empty conversation with the current settings.
func (m *Manager) Reset(name string) error {
	m.mu.Lock()
	if m.runningLocked() {
		m.mu.Unlock()
		return chaterr.NewConcurrencyError("reset")
	}
	if err := m.store.Replace(nil, 1); err != nil {
		m.mu.Unlock()
		return err
	}
	m.meta = conversation.New(strings.TrimSpace(name), m.settings)
	md := m.metadataLocked()
	m.mu.Unlock()

	m.publish(events.NewConversationEvent(md, events.ActionReset))
	return nil
}

// Export returns the transcript.
func (m *Manager) Export() []conversation.Turn {
	return m.store.List()
}

// Import replaces the transcript and keeps the conversation identity and
// settings. Turns without an id get fresh ones. The id counter never goes
// back, so ids handed out before the import are not reused.
func (m *Manager) Import(turns []conversation.Turn) error {
	m.mu.Lock()
	if m.runningLocked() {
		m.mu.Unlock()
		return chaterr.NewConcurrencyError("import")
	}

	next := m.store.NextID()
	for _, t := range turns {
		if t.ID >= next {
			next = t.ID + 1
		}
	}
	now := m.now()
	imported := make([]conversation.Turn, len(turns))
	for i, t := range turns {
		if t.ID == 0 {
			t.ID = next
			next++
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = now
		}
		imported[i] = t
	}

	if err := m.store.Replace(imported, next); err != nil {
		m.mu.Unlock()
		return err
	}
	m.touchLocked()
	md := m.metadataLocked()
	m.mu.Unlock()

	m.publish(events.NewConversationEvent(md, events.ActionLoaded))
	return nil
}

// Save stores a snapshot under name and adopts name for autosaves.
func (m *Manager) Save(ctx context.Context, name string) (persistence.RecordID, error) {
	if m.records == nil {
		return "", ErrNoPersistence
	}
	m.mu.Lock()
	snapshot := conversation.Snapshot(m.store, m.meta, m.settings)
	m.mu.Unlock()

	id, err := m.records.Save(ctx, snapshot, name)
	if err != nil {
		return "", err
	}
	m.SetName(name)
	return id, nil
}

// LoadRecord loads a saved record and makes it the active conversation.
func (m *Manager) LoadRecord(ctx context.Context, id persistence.RecordID) error {
	if m.records == nil {
		return ErrNoPersistence
	}
	if m.IsStreaming() {
		return chaterr.NewConcurrencyError("load")
	}
	conv, err := m.records.Load(ctx, id)
	if err != nil {
		return err
	}
	return m.Load(conv)
}

// Records exposes the persistence store, nil when none is configured.
func (m *Manager) Records() persistence.Store {
	return m.records
}
