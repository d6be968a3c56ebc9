// Package completion defines the boundary to the chat completion service.
//
// A Completer turns a transcript and a settings snapshot into a Stream of
// text fragments. Implementations deliver fragments in order, never deliver
// empty fragments, and end the stream with exactly one terminal signal:
// io.EOF on success or any other error on failure.
package completion

import (
	"context"
	"io"
	"strings"

	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/pkg/errors"
)

type Completer interface {
	Complete(ctx context.Context, history []conversation.Turn, s settings.Settings) (Stream, error)
}

type Stream interface {
	// Recv returns the next fragment, io.EOF once the response is complete,
	// or the error that ended the stream.
	Recv() (string, error)
	Close() error
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, history []conversation.Turn, s settings.Settings) (Stream, error)

func (f CompleterFunc) Complete(ctx context.Context, history []conversation.Turn, s settings.Settings) (Stream, error) {
	return f(ctx, history, s)
}

// Collect drains s and returns the concatenated text. On failure the text
// received so far is returned along with the error.
func Collect(s Stream) (string, error) {
	defer func() {
		_ = s.Close()
	}()

	var sb strings.Builder
	for {
		fragment, err := s.Recv()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(fragment)
	}
}

// TokenCounter returns the number of tokens in text.
type TokenCounter func(text string) int

// tokensPerMessage approximates the framing the chat format adds around
// every message.
const tokensPerMessage = 4

// TrimHistory drops the oldest non-system turns until the history fits in
// maxTokens. System turns and the last turn are always kept. maxTokens <= 0
// disables trimming.
func TrimHistory(history []conversation.Turn, maxTokens int, count TokenCounter) []conversation.Turn {
	if maxTokens <= 0 || len(history) == 0 {
		return history
	}

	sizes := make([]int, len(history))
	total := 0
	for i, t := range history {
		sizes[i] = count(t.Content) + tokensPerMessage
		total += sizes[i]
	}

	dropped := make([]bool, len(history))
	for i := 0; i < len(history)-1 && total > maxTokens; i++ {
		if history[i].Role == conversation.RoleSystem {
			continue
		}
		dropped[i] = true
		total -= sizes[i]
	}

	ret := make([]conversation.Turn, 0, len(history))
	for i, t := range history {
		if !dropped[i] {
			ret = append(ret, t)
		}
	}
	return ret
}
