package persistence

import (
	"strings"
	"testing"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/stretchr/testify/require"
)

func sampleConversation(t *testing.T) conversation.Conversation {
	t.Helper()
	s, err := settings.New(settings.WithTemperature(2.0), settings.WithSystemPrompt("be terse"))
	require.NoError(t, err)

	store := conversation.NewMemoryStore()
	store.Append(conversation.NewUserTurn("hi"))
	id := store.Append(conversation.NewAssistantTurn("hello"))
	require.NoError(t, store.Edit(id, "hello there"))
	store.Append(conversation.Turn{Role: conversation.RoleAssistant, Content: "Par", Errored: true, Error: "boom"})

	return conversation.Snapshot(store, conversation.New("Daily Notes", s), s)
}

func TestRecordIDForName(t *testing.T) {
	for _, name := range []string{"already-slugged", "daily-log", "notes-2"} {
		id, err := RecordIDForName(name)
		require.NoError(t, err, name)
		require.Equal(t, RecordID(name), id)
	}

	prefixes := map[string]string{
		"Daily Notes":   "daily-notes--",
		"  my chat 2 ":  "my-chat-2--",
		"CamelCaseName": "camel-case-name--",
		"a/../b":        "a-b--",
		"会話":            "r--",
		"!!!":           "r--",
	}
	for name, prefix := range prefixes {
		id, err := RecordIDForName(name)
		require.NoError(t, err, name)
		require.True(t, strings.HasPrefix(string(id), prefix), "%s -> %s", name, id)
		require.Len(t, string(id), len(prefix)+16)
		require.NoError(t, ValidateRecordID(id))

		again, err := RecordIDForName(strings.TrimSpace(name))
		require.NoError(t, err)
		require.Equal(t, id, again)
	}

	seen := map[RecordID]string{}
	for _, name := range []string{"My Chat", "my_chat", "my-chat", "MY CHAT", "my chat", "会話", "対話", "!!!", "???"} {
		id, err := RecordIDForName(name)
		require.NoError(t, err)
		prev, dup := seen[id]
		require.False(t, dup, "%q and %q share id %s", prev, name, id)
		seen[id] = name
	}

	for _, name := range []string{"", "   "} {
		_, err := RecordIDForName(name)
		require.True(t, chaterr.IsValidation(err), name)
	}

	for _, id := range []RecordID{"", "../etc", "UPPER", "a b", "-a", "a-", "a---b"} {
		require.True(t, chaterr.IsValidation(ValidateRecordID(id)), id)
	}
}

func TestCodecRoundTrip(t *testing.T) {
	conv := sampleConversation(t)
	for _, codec := range []Codec{JSONCodec{}, YAMLCodec{}} {
		t.Run(string(codec.Format()), func(t *testing.T) {
			b, err := codec.Encode(conv)
			require.NoError(t, err)

			got, err := codec.Decode("daily-notes", b)
			require.NoError(t, err)
			requireSameConversation(t, conv, got)

			info, err := codec.DecodeInfo("daily-notes", b)
			require.NoError(t, err)
			require.Equal(t, "Daily Notes", info.Name)
			require.True(t, conv.ModifiedAt.Equal(info.ModifiedAt))
		})
	}
}

func requireSameConversation(t *testing.T, expected, actual conversation.Conversation) {
	t.Helper()
	require.Equal(t, expected.ID, actual.ID)
	require.Equal(t, expected.Settings, actual.Settings)
	require.Equal(t, expected.NextTurnID, actual.NextTurnID)
	require.Len(t, actual.Turns, len(expected.Turns))
	for i := range expected.Turns {
		e, a := expected.Turns[i], actual.Turns[i]
		require.Equal(t, e.ID, a.ID)
		require.Equal(t, e.Role, a.Role)
		require.Equal(t, e.Content, a.Content)
		require.Equal(t, e.Errored, a.Errored)
		require.Equal(t, e.Error, a.Error)
		require.True(t, e.CreatedAt.Equal(a.CreatedAt))
		require.Equal(t, e.EditedAt == nil, a.EditedAt == nil)
	}
}

func TestDecodeRejectsCorruptRecords(t *testing.T) {
	valid := `{
  "version": 1, "id": "c1", "name": "n", "modified_at": "2024-01-01T00:00:00Z",
  "settings": {"temperature": 0.7, "top_p": 0.9, "presence_penalty": 0, "frequency_penalty": 0, "model_id": "m"},
  "turns": [{"id": 1, "role": "user", "content": "hi", "created_at": "2024-01-01T00:00:00Z"}]
}`
	_, err := JSONCodec{}.Decode("n", []byte(valid))
	require.NoError(t, err)

	cases := map[string]string{
		"missing role":      strings.Replace(valid, `"role": "user", `, "", 1),
		"missing content":   strings.Replace(valid, `"content": "hi", `, "", 1),
		"missing turn id":   strings.Replace(valid, `"id": 1, `, "", 1),
		"missing settings":  strings.Replace(valid, `"settings": {"temperature": 0.7, "top_p": 0.9, "presence_penalty": 0, "frequency_penalty": 0, "model_id": "m"},`, "", 1),
		"missing top_p":     strings.Replace(valid, `"top_p": 0.9, `, "", 1),
		"wrong type":        strings.Replace(valid, `"content": "hi"`, `"content": 42`, 1),
		"unknown role":      strings.Replace(valid, `"role": "user"`, `"role": "wizard"`, 1),
		"out of range":      strings.Replace(valid, `"temperature": 0.7`, `"temperature": 9`, 1),
		"empty model":       strings.Replace(valid, `"model_id": "m"`, `"model_id": ""`, 1),
		"not json":          "{{{",
		"null":              "null",
		"future version":    strings.Replace(valid, `"version": 1`, `"version": 99`, 1),
		"duplicate turn id": strings.Replace(valid, `"turns": [`, `"turns": [{"id": 1, "role": "user", "content": "x"},`, 1),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := JSONCodec{}.Decode("n", []byte(body))
			require.True(t, chaterr.IsCorrupt(err), "got %v", err)
			require.False(t, chaterr.IsValidation(err), "got %v", err)
			require.Empty(t, got.Turns)
			require.Empty(t, got.ID)
		})
	}
}

func TestYAMLDecodeMissingRole(t *testing.T) {
	body := `
version: 1
id: c1
name: n
settings: {temperature: 0.7, top_p: 0.9, presence_penalty: 0, frequency_penalty: 0, model_id: m}
turns:
  - id: 1
    content: hi
`
	_, err := YAMLCodec{}.Decode("n", []byte(body))
	require.True(t, chaterr.IsCorrupt(err))
}

func TestPrepareForSave(t *testing.T) {
	conv := sampleConversation(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	id, prepared, err := PrepareForSave(conv, " Work Log ", now)
	require.NoError(t, err)
	expected, err := RecordIDForName("Work Log")
	require.NoError(t, err)
	require.Equal(t, expected, id)
	require.Equal(t, "Work Log", prepared.Name)
	require.True(t, now.Equal(prepared.ModifiedAt))
	// the caller's copy is untouched
	require.Equal(t, "Daily Notes", conv.Name)

	_, _, err = PrepareForSave(conv, "", now)
	require.True(t, chaterr.IsValidation(err))
}

func TestSortRecordInfos(t *testing.T) {
	t0 := time.Unix(100, 0)
	infos := []RecordInfo{
		{ID: "b", ModifiedAt: t0},
		{ID: "c", ModifiedAt: t0.Add(time.Second)},
		{ID: "a", ModifiedAt: t0},
	}
	SortRecordInfos(infos)
	require.Equal(t, []RecordID{"c", "a", "b"}, []RecordID{infos[0].ID, infos[1].ID, infos[2].ID})
}

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	var k KeyedMutex
	unlock := k.Lock("a")

	acquired := make(chan struct{})
	released := make(chan struct{})
	go func() {
		u := k.Lock("a")
		close(acquired)
		u()
		close(released)
	}()

	// a different key is independent
	k.Lock("b")()

	select {
	case <-acquired:
		t.Fatal("second lock on the same key acquired while held")
	case <-time.After(50 * time.Millisecond):
	}
	unlock()
	<-acquired
	<-released
	require.Empty(t, k.locks)
}
