// Package sqlitestore keeps records in a sqlite database, one row per record.
package sqlitestore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    modified_at INTEGER NOT NULL,
    body BLOB NOT NULL
);

CREATE INDEX IF NOT EXISTS conversations_modified_at ON conversations(modified_at DESC, id);
`

type Store struct {
	db    *sql.DB
	codec persistence.Codec
	now   func() time.Time
}

var _ persistence.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, errors.Wrapf(err, "could not open %s", path)
	}
	// a single connection serialises writers, including saves to one record
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "could not create schema")
	}

	return &Store{
		db:    db,
		codec: persistence.JSONCodec{},
		now:   time.Now,
	}, nil
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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	query := `
        INSERT INTO conversations (id, name, modified_at, body)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            name = excluded.name,
            modified_at = excluded.modified_at,
            body = excluded.body`
	if _, err := tx.ExecContext(ctx, query, string(id), prepared.Name, prepared.ModifiedAt.UnixNano(), b); err != nil {
		return "", errors.Wrapf(err, "could not save record %s", id)
	}
	if err := tx.Commit(); err != nil {
		return "", errors.Wrapf(err, "could not commit record %s", id)
	}

	log.Debug().Str("record_id", id.String()).Int("turns", len(prepared.Turns)).Msg("saved conversation")
	return id, nil
}

func (s *Store) Load(ctx context.Context, id persistence.RecordID) (conversation.Conversation, error) {
	var b []byte
	err := s.db.QueryRowContext(ctx, `SELECT body FROM conversations WHERE id = ?`, string(id)).Scan(&b)
	if errors.Is(err, sql.ErrNoRows) {
		return conversation.Conversation{}, chaterr.NewNotFoundError("record", id)
	}
	if err != nil {
		return conversation.Conversation{}, errors.Wrapf(err, "could not read record %s", id)
	}
	return s.codec.Decode(id, b)
}

func (s *Store) List(ctx context.Context) ([]persistence.RecordInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, modified_at FROM conversations ORDER BY modified_at DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, "could not list records")
	}
	defer func() {
		_ = rows.Close()
	}()

	ret := []persistence.RecordInfo{}
	for rows.Next() {
		var id, name string
		var modifiedAt int64
		if err := rows.Scan(&id, &name, &modifiedAt); err != nil {
			log.Warn().Err(err).Msg("skipping unreadable record row")
			continue
		}
		ret = append(ret, persistence.RecordInfo{
			ID:         persistence.RecordID(id),
			Name:       name,
			ModifiedAt: time.Unix(0, modifiedAt),
		})
	}
	return ret, rows.Err()
}

func (s *Store) Delete(ctx context.Context, id persistence.RecordID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, string(id))
	if err != nil {
		return errors.Wrapf(err, "could not delete record %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return chaterr.NewNotFoundError("record", id)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
