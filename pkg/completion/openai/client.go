// Package openai implements completion.Completer on top of the OpenAI chat
// completions streaming API, or any endpoint compatible with it.
package openai

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-go-golems/streamchat/pkg/completion"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	go_openai "github.com/sashabaranov/go-openai"
	"github.com/tiktoken-go/tokenizer"
)

// ErrFirstFragmentTimeout is returned when no content arrived within
// Config.Timeout. The timeout does not limit a response that is streaming.
var ErrFirstFragmentTimeout = errors.New("timed out waiting for the first fragment")

type Client struct {
	client  *go_openai.Client
	config  Config
	counter completion.TokenCounter
	sleep   func(ctx context.Context, d time.Duration) error
}

var _ completion.Completer = (*Client)(nil)

type ClientOption func(*Client)

// WithTokenCounter replaces the tiktoken counter used to trim history.
func WithTokenCounter(counter completion.TokenCounter) ClientOption {
	return func(c *Client) {
		c.counter = counter
	}
}

// WithHTTPClient sets the http client used for requests.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		cfg := go_openai.DefaultConfig(c.config.APIKey)
		cfg.BaseURL = c.config.BaseURL
		cfg.HTTPClient = httpClient
		c.client = go_openai.NewClientWithConfig(cfg)
	}
}

func NewClient(config Config, options ...ClientOption) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	cfg := go_openai.DefaultConfig(config.APIKey)
	cfg.BaseURL = config.BaseURL
	ret := &Client{
		client: go_openai.NewClientWithConfig(cfg),
		config: config,
		sleep:  sleepContext,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

// Complete starts a streaming completion. Creating the stream is retried on
// rate limiting and server errors; once fragments flow, failures are
// returned as is.
func (c *Client) Complete(ctx context.Context, history []conversation.Turn, s settings.Settings) (completion.Stream, error) {
	if c.config.MaxContextTokens > 0 {
		counter := c.counter
		if counter == nil {
			counter = tiktokenCounter(s.ModelID)
		}
		history = completion.TrimHistory(history, c.config.MaxContextTokens, counter)
	}
	req := makeCompletionRequest(history, s)

	reqCtx, cancelCause := context.WithCancelCause(ctx)
	cancel := func() { cancelCause(context.Canceled) }
	var timer *time.Timer
	if c.config.Timeout > 0 {
		timer = time.AfterFunc(c.config.Timeout, func() {
			cancelCause(ErrFirstFragmentTimeout)
		})
	}
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
		}
	}

	var stream *go_openai.ChatCompletionStream
	var err error
	for attempt := 0; ; attempt++ {
		stream, err = c.client.CreateChatCompletionStream(reqCtx, req)
		if err == nil {
			break
		}
		if attempt >= c.config.MaxRetries || !isRetryable(err) {
			stopTimer()
			cancel()
			if cause := context.Cause(reqCtx); errors.Is(cause, ErrFirstFragmentTimeout) {
				return nil, cause
			}
			return nil, errors.Wrap(err, "could not create chat completion stream")
		}
		backoff := c.config.RetryBackoff * time.Duration(attempt+1)
		log.Warn().Err(err).
			Int("attempt", attempt+1).
			Dur("backoff", backoff).
			Str("model", s.ModelID).
			Msg("retrying chat completion")
		if err := c.sleep(reqCtx, backoff); err != nil {
			stopTimer()
			cancel()
			if cause := context.Cause(reqCtx); errors.Is(cause, ErrFirstFragmentTimeout) {
				return nil, cause
			}
			return nil, err
		}
	}

	log.Debug().
		Str("model", s.ModelID).
		Int("messages", len(req.Messages)).
		Msg("chat completion stream started")

	return &chatStream{stream: stream, ctx: reqCtx, cancel: cancel, stopTimer: stopTimer}, nil
}

func makeCompletionRequest(history []conversation.Turn, s settings.Settings) go_openai.ChatCompletionRequest {
	msgs := make([]go_openai.ChatCompletionMessage, 0, len(history))
	for _, t := range history {
		msgs = append(msgs, go_openai.ChatCompletionMessage{
			Role:    string(t.Role),
			Content: t.Content,
		})
	}

	return go_openai.ChatCompletionRequest{
		Model:            s.ModelID,
		Messages:         msgs,
		Temperature:      float32(s.Temperature),
		TopP:             float32(s.TopP),
		PresencePenalty:  float32(s.PresencePenalty),
		FrequencyPenalty: float32(s.FrequencyPenalty),
		Stream:           true,
	}
}

func isRetryable(err error) bool {
	status := 0
	var apiErr *go_openai.APIError
	var reqErr *go_openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return false
	}
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func tiktokenCounter(model string) completion.TokenCounter {
	codec, err := tokenizer.ForModel(tokenizer.Model(model))
	if err != nil {
		codec, err = tokenizer.Get(tokenizer.Cl100kBase)
	}
	if err != nil {
		log.Warn().Err(err).Msg("no tokenizer available, estimating tokens from length")
		return func(text string) int { return len(text)/4 + 1 }
	}
	return func(text string) int {
		ids, _, err := codec.Encode(text)
		if err != nil {
			return len(text)/4 + 1
		}
		return len(ids)
	}
}

type chatStream struct {
	stream    *go_openai.ChatCompletionStream
	ctx       context.Context
	cancel    context.CancelFunc
	stopTimer func()
}

// Recv skips chunks without content, such as the initial role chunk. The
// first fragment stops the first-fragment timeout.
func (s *chatStream) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			s.stopTimer()
			return "", io.EOF
		}
		if err != nil {
			if cause := context.Cause(s.ctx); errors.Is(cause, ErrFirstFragmentTimeout) {
				return "", cause
			}
			return "", err
		}
		if len(response.Choices) == 0 {
			continue
		}
		if delta := response.Choices[0].Delta.Content; delta != "" {
			s.stopTimer()
			return delta, nil
		}
	}
}

func (s *chatStream) Close() error {
	s.stopTimer()
	s.stream.Close()
	s.cancel()
	return nil
}
