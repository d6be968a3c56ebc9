// Package persistencetest runs the behaviour every persistence.Store backend
// must share.
package persistencetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) persistence.Store

func Conversation(t *testing.T, turns ...string) conversation.Conversation {
	t.Helper()
	s, err := settings.New(
		settings.WithTemperature(2.0),
		settings.WithTopP(0.5),
		settings.WithPresencePenalty(-2),
		settings.WithFrequencyPenalty(1.25),
		settings.WithModelID("gpt-4o-mini"),
		settings.WithSystemPrompt("answer in haiku"),
	)
	require.NoError(t, err)

	store := conversation.NewMemoryStore()
	for i, text := range turns {
		role := conversation.RoleUser
		if i%2 == 1 {
			role = conversation.RoleAssistant
		}
		store.Append(conversation.NewTurn(role, text))
	}
	return conversation.Snapshot(store, conversation.New("", s), s)
}

func RequireSameContent(t *testing.T, expected, actual conversation.Conversation) {
	t.Helper()
	require.Equal(t, expected.ID, actual.ID)
	require.Equal(t, expected.Settings, actual.Settings)
	require.Len(t, actual.Turns, len(expected.Turns))
	for i := range expected.Turns {
		require.Equal(t, expected.Turns[i].ID, actual.Turns[i].ID)
		require.Equal(t, expected.Turns[i].Role, actual.Turns[i].Role)
		require.Equal(t, expected.Turns[i].Content, actual.Turns[i].Content)
		require.Equal(t, expected.Turns[i].Errored, actual.Turns[i].Errored)
		require.True(t, expected.Turns[i].CreatedAt.Equal(actual.Turns[i].CreatedAt))
	}
}

func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	open := func(t *testing.T) persistence.Store {
		s := newStore(t)
		t.Cleanup(func() { _ = s.Close() })
		return s
	}

	t.Run("round trip", func(t *testing.T) {
		s := open(t)
		conv := Conversation(t, "hi", "Hello, world!", "and again")
		conv.Turns[1].Errored = true
		conv.Turns[1].Error = "stream reset"

		id, err := s.Save(ctx, conv, "Round Trip")
		require.NoError(t, err)
		expected, err := persistence.RecordIDForName("Round Trip")
		require.NoError(t, err)
		require.Equal(t, expected, id)

		got, err := s.Load(ctx, id)
		require.NoError(t, err)
		RequireSameContent(t, conv, got)
		require.Equal(t, "Round Trip", got.Name)
	})

	t.Run("save is a snapshot", func(t *testing.T) {
		s := open(t)
		conv := Conversation(t, "hi")
		id, err := s.Save(ctx, conv, "snap")
		require.NoError(t, err)

		conv.Turns[0].Content = "changed later"
		conv.Settings.Temperature = 0.1

		got, err := s.Load(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "hi", got.Turns[0].Content)
		require.Equal(t, 2.0, got.Settings.Temperature)
	})

	t.Run("empty conversation", func(t *testing.T) {
		s := open(t)
		conv := Conversation(t)
		id, err := s.Save(ctx, conv, "empty")
		require.NoError(t, err)
		got, err := s.Load(ctx, id)
		require.NoError(t, err)
		require.Empty(t, got.Turns)
	})

	t.Run("overwrite by name", func(t *testing.T) {
		s := open(t)
		first, err := s.Save(ctx, Conversation(t, "first"), "Same Name")
		require.NoError(t, err)
		id, err := s.Save(ctx, Conversation(t, "second", "reply"), " Same Name ")
		require.NoError(t, err)
		require.Equal(t, first, id)

		got, err := s.Load(ctx, id)
		require.NoError(t, err)
		require.Len(t, got.Turns, 2)
		require.Equal(t, "second", got.Turns[0].Content)

		infos, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 1)
	})

	t.Run("similar names are separate records", func(t *testing.T) {
		s := open(t)
		names := []string{"My Chat", "my_chat", "my-chat", "会話", "対話"}
		ids := map[persistence.RecordID]string{}
		for _, name := range names {
			id, err := s.Save(ctx, Conversation(t, "from "+name), name)
			require.NoError(t, err)
			require.NotContains(t, ids, id)
			ids[id] = name
		}

		infos, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, len(names))
		for id, name := range ids {
			got, err := s.Load(ctx, id)
			require.NoError(t, err)
			require.Equal(t, name, got.Name)
			require.Equal(t, "from "+name, got.Turns[0].Content)
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		s := open(t)
		_, err := s.Save(ctx, Conversation(t, "hi"), "   ")
		require.True(t, chaterr.IsValidation(err))
	})

	t.Run("not found", func(t *testing.T) {
		s := open(t)
		_, err := s.Load(ctx, "missing")
		require.True(t, chaterr.IsNotFound(err))
		require.True(t, chaterr.IsNotFound(s.Delete(ctx, "missing")))
	})

	t.Run("delete twice", func(t *testing.T) {
		s := open(t)
		id, err := s.Save(ctx, Conversation(t, "hi"), "gone")
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, id))
		require.True(t, chaterr.IsNotFound(s.Delete(ctx, id)))
		_, err = s.Load(ctx, id)
		require.True(t, chaterr.IsNotFound(err))
	})

	t.Run("list most recent first", func(t *testing.T) {
		s := open(t)
		for _, name := range []string{"alpha", "beta", "gamma"} {
			_, err := s.Save(ctx, Conversation(t, name), name)
			require.NoError(t, err)
			time.Sleep(5 * time.Millisecond)
		}
		_, err := s.Save(ctx, Conversation(t, "alpha again"), "alpha")
		require.NoError(t, err)

		infos, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, infos, 3)
		require.Equal(t, persistence.RecordID("alpha"), infos[0].ID)
		require.Equal(t, persistence.RecordID("gamma"), infos[1].ID)
		require.Equal(t, persistence.RecordID("beta"), infos[2].ID)
		require.Equal(t, "alpha", infos[0].Name)
		for i := 1; i < len(infos); i++ {
			require.False(t, infos[i].ModifiedAt.After(infos[i-1].ModifiedAt))
		}
	})

	t.Run("concurrent saves to one name", func(t *testing.T) {
		s := open(t)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				turns := make([]string, i+1)
				for j := range turns {
					turns[j] = fmt.Sprintf("writer %d turn %d", i, j)
				}
				_, err := s.Save(ctx, Conversation(t, turns...), "contended")
				require.NoError(t, err)
			}(i)
		}
		wg.Wait()

		got, err := s.Load(ctx, "contended")
		require.NoError(t, err)
		// whichever writer won, its record is complete
		require.NotEmpty(t, got.Turns)
		prefix := got.Turns[0].Content[:len("writer 0")]
		for j, turn := range got.Turns {
			require.Equal(t, fmt.Sprintf("%s turn %d", prefix, j), turn.Content)
		}
		require.Equal(t, fmt.Sprintf("writer %d", len(got.Turns)-1), prefix)
	})
}
