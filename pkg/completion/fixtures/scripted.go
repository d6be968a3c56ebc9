// Package fixtures provides in-memory Completers for tests.
package fixtures

import (
	"context"
	"io"
	"sync"

	"github.com/go-go-golems/streamchat/pkg/completion"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/settings"
)

// Call records what a Completer was asked to complete.
type Call struct {
	History  []conversation.Turn
	Settings settings.Settings
}

// Script describes one response: the fragments to emit, then either io.EOF
// or Err. When Block is set the stream waits on it before each fragment,
// which lets tests interleave operations with a running stream. StartErr
// fails Complete itself before any stream exists.
type Script struct {
	Fragments []string
	Err       error
	StartErr  error
	Block     chan struct{}
}

// ScriptedCompleter replays Scripts in order, one per Complete call. Once
// the scripts run out the last one is repeated.
type ScriptedCompleter struct {
	mu      sync.Mutex
	scripts []Script
	calls   []Call
	// OnComplete runs synchronously inside Complete, before the stream is
	// returned.
	OnComplete func(call Call)
}

var _ completion.Completer = (*ScriptedCompleter)(nil)

func NewScriptedCompleter(scripts ...Script) *ScriptedCompleter {
	return &ScriptedCompleter{scripts: scripts}
}

func Fragments(fragments ...string) *ScriptedCompleter {
	return NewScriptedCompleter(Script{Fragments: fragments})
}

func (s *ScriptedCompleter) Complete(ctx context.Context, history []conversation.Turn, st settings.Settings) (completion.Stream, error) {
	s.mu.Lock()
	call := Call{History: append([]conversation.Turn(nil), history...), Settings: st}
	s.calls = append(s.calls, call)
	var script Script
	if len(s.scripts) > 0 {
		idx := len(s.calls) - 1
		if idx >= len(s.scripts) {
			idx = len(s.scripts) - 1
		}
		script = s.scripts[idx]
	}
	onComplete := s.OnComplete
	s.mu.Unlock()

	if onComplete != nil {
		onComplete(call)
	}
	if script.StartErr != nil {
		return nil, script.StartErr
	}
	return &scriptedStream{ctx: ctx, script: script}, nil
}

func (s *ScriptedCompleter) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

type scriptedStream struct {
	ctx    context.Context
	script Script
	pos    int
	closed bool
}

func (s *scriptedStream) Recv() (string, error) {
	if s.closed {
		return "", io.ErrClosedPipe
	}
	if s.pos >= len(s.script.Fragments) {
		if s.script.Err != nil {
			return "", s.script.Err
		}
		return "", io.EOF
	}
	if s.script.Block != nil {
		select {
		case <-s.ctx.Done():
			return "", s.ctx.Err()
		case <-s.script.Block:
		}
	}
	if err := s.ctx.Err(); err != nil {
		return "", err
	}
	f := s.script.Fragments[s.pos]
	s.pos++
	return f, nil
}

func (s *scriptedStream) Close() error {
	s.closed = true
	return nil
}
