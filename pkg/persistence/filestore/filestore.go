// Package filestore keeps one record per file in a directory.
//
// Writes go to a temporary file in the same directory which is synced and
// then renamed over the record, so a crash leaves either the old or the new
// record readable and never a partial one.
package filestore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type Store struct {
	dir   string
	codec persistence.Codec
	locks persistence.KeyedMutex
	now   func() time.Time
}

var _ persistence.Store = (*Store)(nil)

type Option func(*Store)

func WithCodec(codec persistence.Codec) Option {
	return func(s *Store) {
		s.codec = codec
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates dir if needed. Records are written as JSON unless another
// codec is given.
func New(dir string, options ...Option) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "could not create record directory %s", dir)
	}
	ret := &Store{
		dir:   dir,
		codec: persistence.JSONCodec{},
		now:   time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret, nil
}

func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) path(id persistence.RecordID) string {
	return filepath.Join(s.dir, string(id)+s.codec.Extension())
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

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := writeFileAtomic(s.dir, s.path(id), b); err != nil {
		return "", errors.Wrapf(err, "could not save record %s", id)
	}

	log.Debug().Str("record_id", id.String()).Str("path", s.path(id)).Int("turns", len(prepared.Turns)).Msg("saved conversation")
	return id, nil
}

func writeFileAtomic(dir, path string, b []byte) (err error) {
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(b); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return err
	}

	// persist the rename itself; not every platform supports syncing a directory
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

func (s *Store) Load(ctx context.Context, id persistence.RecordID) (conversation.Conversation, error) {
	if err := persistence.ValidateRecordID(id); err != nil {
		return conversation.Conversation{}, chaterr.NewNotFoundError("record", id)
	}
	b, err := os.ReadFile(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return conversation.Conversation{}, chaterr.NewNotFoundError("record", id)
	}
	if err != nil {
		return conversation.Conversation{}, errors.Wrapf(err, "could not read record %s", id)
	}
	return s.codec.Decode(id, b)
}

func (s *Store) List(ctx context.Context) ([]persistence.RecordInfo, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "could not list %s", s.dir)
	}

	ext := s.codec.Extension()
	ret := []persistence.RecordInfo{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ext) {
			continue
		}
		id := persistence.RecordID(strings.TrimSuffix(name, ext))
		b, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("skipping unreadable record")
			continue
		}
		info, err := s.codec.DecodeInfo(id, b)
		if err != nil {
			log.Warn().Err(err).Str("file", name).Msg("skipping corrupt record")
			continue
		}
		ret = append(ret, info)
	}
	persistence.SortRecordInfos(ret)
	return ret, nil
}

func (s *Store) Delete(ctx context.Context, id persistence.RecordID) error {
	if err := persistence.ValidateRecordID(id); err != nil {
		return chaterr.NewNotFoundError("record", id)
	}
	unlock := s.locks.Lock(id)
	defer unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, os.ErrNotExist) {
		return chaterr.NewNotFoundError("record", id)
	}
	if err != nil {
		return errors.Wrapf(err, "could not delete record %s", id)
	}
	log.Debug().Str("record_id", id.String()).Msg("deleted conversation")
	return nil
}

func (s *Store) Close() error {
	return nil
}
