package fixtures

import (
	"context"
	"testing"

	"github.com/go-go-golems/streamchat/pkg/completion"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestScriptedCompleterReplaysScripts(t *testing.T) {
	boom := errors.New("boom")
	c := NewScriptedCompleter(
		Script{Fragments: []string{"Hel", "lo"}},
		Script{Fragments: []string{"Par", "tial"}, Err: boom},
	)

	s, err := c.Complete(context.Background(), nil, settings.Default())
	require.NoError(t, err)
	text, err := completion.Collect(s)
	require.NoError(t, err)
	require.Equal(t, "Hello", text)

	s, err = c.Complete(context.Background(), nil, settings.Default())
	require.NoError(t, err)
	text, err = completion.Collect(s)
	require.ErrorIs(t, err, boom)
	require.Equal(t, "Partial", text)

	require.Len(t, c.Calls(), 2)
}

func TestScriptedStreamHonoursContext(t *testing.T) {
	c := NewScriptedCompleter(Script{Fragments: []string{"a", "b"}, Block: make(chan struct{})})
	ctx, cancel := context.WithCancel(context.Background())
	s, err := c.Complete(ctx, nil, settings.Default())
	require.NoError(t, err)
	cancel()
	_, err = s.Recv()
	require.ErrorIs(t, err, context.Canceled)
}
