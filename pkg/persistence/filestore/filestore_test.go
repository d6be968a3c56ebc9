package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/require"
)

func TestConformanceJSON(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Store {
		s, err := New(t.TempDir())
		require.NoError(t, err)
		return s
	})
}

func TestConformanceYAML(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Store {
		s, err := New(t.TempDir(), WithCodec(persistence.YAMLCodec{}))
		require.NoError(t, err)
		return s
	})
}

func TestCorruptFileIsReportedAndSkipped(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	_, err = s.Save(ctx, persistencetest.Conversation(t, "hi"), "good")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"id": "x", "turns": [{"content": "no role"}]}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "garbage.json"), []byte(`{{{`), 0o644))

	_, err = s.Load(ctx, "broken")
	require.True(t, chaterr.IsCorrupt(err))

	infos, err := s.List(ctx)
	require.NoError(t, err)
	ids := []persistence.RecordID{}
	for _, i := range infos {
		ids = append(ids, i.ID)
	}
	// broken.json has a readable header, garbage.json does not
	require.ElementsMatch(t, []persistence.RecordID{"good", "broken"}, ids)
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = s.Save(ctx, persistencetest.Conversation(t, "hi"), "only")
		require.NoError(t, err)
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "only.json", entries[0].Name())
}

func TestPathTraversalIsNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)
	_, err = s.Load(context.Background(), "../etc/passwd")
	require.True(t, chaterr.IsNotFound(err))
}

func TestResolveRecordID(t *testing.T) {
	ctx := context.Background()
	s, err := New(t.TempDir())
	require.NoError(t, err)

	named, err := s.Save(ctx, persistencetest.Conversation(t, "hi"), "My Chat")
	require.NoError(t, err)
	plain, err := s.Save(ctx, persistencetest.Conversation(t, "hi"), "standup")
	require.NoError(t, err)

	require.Equal(t, named, persistence.ResolveRecordID(ctx, s, "My Chat"))
	require.Equal(t, named, persistence.ResolveRecordID(ctx, s, string(named)))
	require.Equal(t, plain, persistence.ResolveRecordID(ctx, s, " standup "))

	missing := persistence.ResolveRecordID(ctx, s, "Nobody")
	_, err = s.Load(ctx, missing)
	require.True(t, chaterr.IsNotFound(err))
}
