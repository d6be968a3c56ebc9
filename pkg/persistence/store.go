// Package persistence saves conversations as named records.
//
// A record is addressed by its RecordID, derived from the exact name it was
// saved under. Saving under an existing name replaces that record
// atomically; different names never share a record. Backends live in subpackages and share the codec and the
// per-record locking defined here.
package persistence

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
)

type RecordID string

func (id RecordID) String() string {
	return string(id)
}

type RecordInfo struct {
	ID         RecordID  `json:"id" yaml:"id"`
	Name       string    `json:"name" yaml:"name"`
	ModifiedAt time.Time `json:"modified_at" yaml:"modified_at"`
}

type Store interface {
	// Save writes conv under name and returns the record id. The stored
	// conversation carries name and the time of the save as ModifiedAt.
	Save(ctx context.Context, conv conversation.Conversation, name string) (RecordID, error)
	// Load fails with a NotFoundError or a CorruptRecordError.
	Load(ctx context.Context, id RecordID) (conversation.Conversation, error)
	// List returns the readable records, most recently modified first.
	List(ctx context.Context) ([]RecordInfo, error)
	Delete(ctx context.Context, id RecordID) error
	Close() error
}

var (
	nonSlugChars  = regexp.MustCompile(`[^a-z0-9]+`)
	recordIDChars = regexp.MustCompile(`^[a-z0-9]+(--?[a-z0-9]+)*$`)

	recordNamespace = uuid.MustParse("6f1c2a9e-3b7d-4e55-9a41-0d2c8e7b5f13")
)

const nameHashLength = 16

// RecordIDForName derives the record id for a name. A name that already is
// a lowercase slug ("daily-log") is its own id. Any other name gets its
// slug followed by "--" and a hash of the exact trimmed name, so "My Chat"
// and "my_chat" are distinct records. Names without ASCII letters or digits
// use "r--" and the hash. Slugs never contain "--", so the two forms never
// meet.
func RecordIDForName(name string) (RecordID, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", chaterr.NewValidationError("name", "must not be empty")
	}
	slug := strings.ToLower(strcase.ToKebab(name))
	slug = strings.Trim(nonSlugChars.ReplaceAllString(slug, "-"), "-")
	if slug == name {
		return RecordID(slug), nil
	}
	if slug == "" {
		slug = "r"
	}
	return RecordID(slug + "--" + nameHash(name)), nil
}

func nameHash(name string) string {
	h := uuid.NewSHA1(recordNamespace, []byte(name))
	return strings.ReplaceAll(h.String(), "-", "")[:nameHashLength]
}

// ValidateRecordID rejects ids that could not have been produced by
// RecordIDForName, such as path fragments.
func ValidateRecordID(id RecordID) error {
	s := string(id)
	if !recordIDChars.MatchString(s) {
		return chaterr.NewValidationError("record_id", "invalid record id "+s)
	}
	return nil
}

// ResolveRecordID lets users refer to a record by id or by name. ref is
// taken as an id when s has a record under it, otherwise as a name.
func ResolveRecordID(ctx context.Context, s Store, ref string) RecordID {
	id := RecordID(strings.TrimSpace(ref))
	if _, err := s.Load(ctx, id); !chaterr.IsNotFound(err) {
		return id
	}
	if named, err := RecordIDForName(ref); err == nil {
		return named
	}
	return id
}

// PrepareForSave validates the name and stamps the copy that gets written.
func PrepareForSave(conv conversation.Conversation, name string, now time.Time) (RecordID, conversation.Conversation, error) {
	id, err := RecordIDForName(name)
	if err != nil {
		return "", conversation.Conversation{}, err
	}
	ret := conv.Clone()
	ret.Name = strings.TrimSpace(name)
	ret.ModifiedAt = now
	if ret.CreatedAt.IsZero() {
		ret.CreatedAt = now
	}
	if err := ret.Validate(); err != nil {
		return "", conversation.Conversation{}, err
	}
	return id, ret, nil
}

// SortRecordInfos orders by ModifiedAt descending, then by id.
func SortRecordInfos(infos []RecordInfo) {
	sort.SliceStable(infos, func(i, j int) bool {
		if !infos[i].ModifiedAt.Equal(infos[j].ModifiedAt) {
			return infos[i].ModifiedAt.After(infos[j].ModifiedAt)
		}
		return infos[i].ID < infos[j].ID
	})
}

// KeyedMutex serialises writers per record id.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[RecordID]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

// Lock blocks until id is free and returns the matching unlock function.
func (k *KeyedMutex) Lock(id RecordID) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = map[RecordID]*keyedLock{}
	}
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
