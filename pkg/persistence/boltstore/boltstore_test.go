package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func TestConformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Store {
		s, err := Open(filepath.Join(t.TempDir(), "records.bolt"))
		require.NoError(t, err)
		return s
	})
}

func TestReopenKeepsRecords(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.bolt")

	s, err := Open(path)
	require.NoError(t, err)
	conv := persistencetest.Conversation(t, "hi", "hello")
	id, err := s.Save(ctx, conv, "kept")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	got, err := s.Load(ctx, id)
	require.NoError(t, err)
	persistencetest.RequireSameContent(t, conv, got)
}

func TestCorruptValue(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "records.bolt"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).Put([]byte("bad"), []byte("not json"))
	})
	require.NoError(t, err)

	_, err = s.Load(ctx, "bad")
	require.True(t, chaterr.IsCorrupt(err))

	infos, err := s.List(ctx)
	require.NoError(t, err)
	require.Empty(t, infos)
}
