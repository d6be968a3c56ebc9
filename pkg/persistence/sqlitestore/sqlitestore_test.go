package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/persistence/persistencetest"
	"github.com/stretchr/testify/require"
)

func TestConformance(t *testing.T) {
	persistencetest.Run(t, func(t *testing.T) persistence.Store {
		s, err := Open(filepath.Join(t.TempDir(), "records.db"))
		require.NoError(t, err)
		return s
	})
}

func TestCorruptBody(t *testing.T) {
	ctx := context.Background()
	s, err := Open(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = s.db.Exec(`INSERT INTO conversations (id, name, modified_at, body) VALUES ('bad', 'bad', 1, '{"turns": [{"id": 1}]}')`)
	require.NoError(t, err)

	_, err = s.Load(ctx, "bad")
	require.True(t, chaterr.IsCorrupt(err))
}
