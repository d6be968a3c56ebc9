// Package redisstore keeps records in redis: one JSON string per record and
// a sorted set indexing records by modification time.
package redisstore

import (
	"context"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const DefaultPrefix = "streamchat"

type Store struct {
	rdb    *redis.Client
	prefix string
	codec  persistence.Codec
	locks  persistence.KeyedMutex
	now    func() time.Time
}

var _ persistence.Store = (*Store)(nil)

type Option func(*Store)

// WithPrefix namespaces every key, which lets tests share one server.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

func New(rdb *redis.Client, options ...Option) *Store {
	ret := &Store{
		rdb:    rdb,
		prefix: DefaultPrefix,
		codec:  persistence.JSONCodec{},
		now:    time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

// Open connects to addr and checks the connection.
func Open(ctx context.Context, addr string, options ...Option) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "could not connect to redis at %s", addr)
	}
	return New(rdb, options...), nil
}

func (s *Store) recordKey(id persistence.RecordID) string {
	return s.prefix + ":conversation:" + string(id)
}

func (s *Store) indexKey() string {
	return s.prefix + ":conversations"
}

func (s *Store) Save(ctx context.Context, conv conversation.Conversation, name string) (persistence.RecordID, error) {
	id, prepared, err := persistence.PrepareForSave(conv, name, s.now())
	if err != nil {
		return "", err
	}
	b, err := s.codec.Encode(prepared)
	if err != nil {
		return "", err
	}

	unlock := s.locks.Lock(id)
	defer unlock()

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.recordKey(id), b, 0)
		pipe.ZAdd(ctx, s.indexKey(), redis.Z{
			Score:  float64(prepared.ModifiedAt.UnixMilli()),
			Member: string(id),
		})
		return nil
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not save record %s", id)
	}
	log.Debug().Str("record_id", id.String()).Int("turns", len(prepared.Turns)).Msg("saved conversation")
	return id, nil
}

func (s *Store) Load(ctx context.Context, id persistence.RecordID) (conversation.Conversation, error) {
	b, err := s.rdb.Get(ctx, s.recordKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return conversation.Conversation{}, chaterr.NewNotFoundError("record", id)
	}
	if err != nil {
		return conversation.Conversation{}, errors.Wrapf(err, "could not read record %s", id)
	}
	return s.codec.Decode(id, b)
}

func (s *Store) List(ctx context.Context) ([]persistence.RecordInfo, error) {
	members, err := s.rdb.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, errors.Wrap(err, "could not list records")
	}
	if len(members) == 0 {
		return []persistence.RecordInfo{}, nil
	}

	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = s.recordKey(persistence.RecordID(m))
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "could not read records")
	}

	ret := []persistence.RecordInfo{}
	for i, v := range values {
		id := persistence.RecordID(members[i])
		str, ok := v.(string)
		if !ok {
			log.Warn().Str("record_id", id.String()).Msg("index points to a missing record")
			continue
		}
		info, err := s.codec.DecodeInfo(id, []byte(str))
		if err != nil {
			log.Warn().Err(err).Str("record_id", id.String()).Msg("skipping corrupt record")
			continue
		}
		ret = append(ret, info)
	}
	// the index has millisecond resolution, the records have more
	persistence.SortRecordInfos(ret)
	return ret, nil
}

func (s *Store) Delete(ctx context.Context, id persistence.RecordID) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	var del *redis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.recordKey(id))
		pipe.ZRem(ctx, s.indexKey(), string(id))
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "could not delete record %s", id)
	}
	if del.Val() == 0 {
		return chaterr.NewNotFoundError("record", id)
	}
	return nil
}

func (s *Store) Close() error {
	return s.rdb.Close()
}
