package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/go-go-golems/streamchat/pkg/completion/fixtures"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/persistence/filestore"
	"github.com/go-go-golems/streamchat/pkg/session"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/stretchr/testify/require"
)

func newTestREPL(t *testing.T, input string) (*repl, *session.Manager, *bytes.Buffer) {
	t.Helper()
	records, err := filestore.New(t.TempDir())
	require.NoError(t, err)

	manager, err := session.NewManager(conversation.NewMemoryStore(), fixtures.Fragments("pong"), settings.Default(),
		session.WithPersistence(records, false),
	)
	require.NoError(t, err)

	var out bytes.Buffer
	return newREPL(manager, strings.NewReader(input), &out), manager, &out
}

func TestREPLSendsAndRunsCommands(t *testing.T) {
	r, manager, out := newTestREPL(t, strings.Join([]string{
		"ping",
		"",
		"/edit 1 ping, edited",
		"/set temperature 1.1",
		"/set model_id gpt-4",
		"/save Standup",
		"/clear",
		"/load Standup",
		"/history",
		"/quit",
		"never sent",
	}, "\n"))

	require.NoError(t, r.run(context.Background()))

	turns := manager.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "ping, edited", turns[0].Content)
	require.Equal(t, "pong", turns[1].Content)

	s := manager.Settings()
	require.Equal(t, 1.1, s.Temperature)
	require.Equal(t, "gpt-4", s.ModelID)

	require.Contains(t, out.String(), "saved as standup--")
	require.Contains(t, out.String(), "[assistant #2]: pong")
}

func TestREPLReportsErrorsAndStopsAtEOF(t *testing.T) {
	r, manager, out := newTestREPL(t, "/delete 7\n/set top_p 3\n/set colour blue\n/bogus\n/load missing\n")

	require.NoError(t, r.run(context.Background()))
	require.Empty(t, manager.Turns())
	require.Equal(t, 5, strings.Count(out.String(), "error: "))
	require.Equal(t, settings.DefaultTopP, manager.Settings().TopP)
}

func TestRenderMarkdown(t *testing.T) {
	conv := conversation.New("Weekly", settings.Default())
	conv.Turns = []conversation.Turn{
		{ID: 1, Role: conversation.RoleUser, Content: "hi"},
		{ID: 2, Role: conversation.RoleAssistant, Content: "hel", Errored: true},
	}

	md := renderMarkdown(conv)
	require.True(t, strings.HasPrefix(md, "# Weekly\n"))
	require.Contains(t, md, "**user** #1\n\nhi\n")
	require.Contains(t, md, "**assistant** #2 (incomplete)\n\nhel\n")
}
