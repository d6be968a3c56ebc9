package redisstore

import (
	"context"
	"os"
	"testing"

	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/persistence/persistencetest"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// The suite needs a live server: STREAMCHAT_TEST_REDIS_ADDR=localhost:6379.
func TestConformance(t *testing.T) {
	addr := os.Getenv("STREAMCHAT_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("STREAMCHAT_TEST_REDIS_ADDR not set")
	}

	persistencetest.Run(t, func(t *testing.T) persistence.Store {
		ctx := context.Background()
		prefix := "streamchat-test-" + uuid.NewString()
		s, err := Open(ctx, addr, WithPrefix(prefix))
		require.NoError(t, err)
		// the suite closes s first, so clean up with a client of our own
		t.Cleanup(func() {
			rdb := redis.NewClient(&redis.Options{Addr: addr})
			defer func() { _ = rdb.Close() }()
			keys, _ := rdb.Keys(ctx, prefix+":*").Result()
			if len(keys) > 0 {
				_ = rdb.Del(ctx, keys...).Err()
			}
		})
		return s
	})
}

func TestKeys(t *testing.T) {
	s := New(nil, WithPrefix("p"))
	require.Equal(t, "p:conversation:daily", s.recordKey("daily"))
	require.Equal(t, "p:conversations", s.indexKey())
}
