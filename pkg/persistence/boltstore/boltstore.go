// Package boltstore keeps records in a single bbolt database file. Every
// write happens in one bbolt transaction.
package boltstore

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	bolt "go.etcd.io/bbolt"
)

var bucketConversations = []byte("conversations")

type Store struct {
	db    *bolt.DB
	codec persistence.Codec
	now   func() time.Time
}

var _ persistence.Store = (*Store)(nil)

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func Open(path string, options ...Option) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketConversations)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "could not create bucket")
	}

	ret := &Store{
		db:    db,
		codec: persistence.JSONCodec{},
		now:   time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
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

	// bbolt allows a single writer at a time, which also serialises saves
	// to the same record.
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).Put([]byte(id), b)
	})
	if err != nil {
		return "", errors.Wrapf(err, "could not save record %s", id)
	}
	log.Debug().Str("record_id", id.String()).Int("turns", len(prepared.Turns)).Msg("saved conversation")
	return id, nil
}

func (s *Store) Load(ctx context.Context, id persistence.RecordID) (conversation.Conversation, error) {
	var b []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConversations).Get([]byte(id))
		if v == nil {
			return chaterr.NewNotFoundError("record", id)
		}
		// values are only valid inside the transaction
		b = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return conversation.Conversation{}, err
	}
	return s.codec.Decode(id, b)
}

func (s *Store) List(ctx context.Context) ([]persistence.RecordInfo, error) {
	ret := []persistence.RecordInfo{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			info, err := s.codec.DecodeInfo(persistence.RecordID(k), v)
			if err != nil {
				log.Warn().Err(err).Str("record_id", string(k)).Msg("skipping corrupt record")
				return nil
			}
			ret = append(ret, info)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not list records")
	}
	persistence.SortRecordInfos(ret)
	return ret, nil
}

func (s *Store) Delete(ctx context.Context, id persistence.RecordID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		if b.Get([]byte(id)) == nil {
			return chaterr.NewNotFoundError("record", id)
		}
		return b.Delete([]byte(id))
	})
}

func (s *Store) Close() error {
	return s.db.Close()
}
