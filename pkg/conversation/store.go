package conversation

import (
	"strings"
	"sync"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/rs/zerolog/log"
)

type MemoryStore struct {
	mu     sync.RWMutex
	turns  []Turn
	index  map[TurnID]int
	nextID TurnID
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

type StoreOption func(*MemoryStore)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) StoreOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(options ...StoreOption) *MemoryStore {
	ret := &MemoryStore{
		index:  map[TurnID]int{},
		nextID: 1,
		now:    time.Now,
	}
	for _, o := range options {
		o(ret)
	}
	return ret
}

func (s *MemoryStore) Append(t Turn) TurnID {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.ID = s.nextID
	s.nextID++
	if t.CreatedAt.IsZero() {
		t.CreatedAt = s.now()
	}
	s.index[t.ID] = len(s.turns)
	s.turns = append(s.turns, t)

	log.Trace().Object("turn", t).Msg("appended turn")
	return t.ID
}

func (s *MemoryStore) Edit(id TurnID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return chaterr.NewNotFoundError("turn", id)
	}
	editedAt := s.now()
	s.turns[idx].Content = content
	s.turns[idx].EditedAt = &editedAt
	return nil
}

func (s *MemoryStore) Delete(id TurnID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx, ok := s.index[id]
	if !ok {
		return chaterr.NewNotFoundError("turn", id)
	}
	s.turns = append(s.turns[:idx], s.turns[idx+1:]...)
	delete(s.index, id)
	for i := idx; i < len(s.turns); i++ {
		s.index[s.turns[i].ID] = i
	}
	return nil
}

func (s *MemoryStore) Get(id TurnID) (Turn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.index[id]
	if !ok {
		return Turn{}, false
	}
	return copyTurn(s.turns[idx]), true
}

func (s *MemoryStore) List() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ret := make([]Turn, len(s.turns))
	for i, t := range s.turns {
		ret[i] = copyTurn(t)
	}
	return ret
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.turns)
}

func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = nil
	s.index = map[TurnID]int{}
}

func (s *MemoryStore) Replace(turns []Turn, nextID TurnID) error {
	index := make(map[TurnID]int, len(turns))
	copied := make([]Turn, len(turns))
	for i, t := range turns {
		if err := validateTurn(t); err != nil {
			return err
		}
		if _, dup := index[t.ID]; dup {
			return chaterr.NewValidationError("turns", "duplicate turn id "+t.ID.String())
		}
		index[t.ID] = i
		copied[i] = copyTurn(t)
		if t.ID >= nextID {
			nextID = t.ID + 1
		}
	}
	if nextID == 0 {
		nextID = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = copied
	s.index = index
	s.nextID = nextID
	return nil
}

func (s *MemoryStore) NextID() TurnID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID
}

func validateTurn(t Turn) error {
	if t.ID == 0 {
		return chaterr.NewValidationError("id", "turn id must be positive")
	}
	if !t.Role.Valid() {
		return chaterr.NewValidationError("role", "unknown role "+strings.TrimSpace(string(t.Role)))
	}
	return nil
}

func copyTurn(t Turn) Turn {
	if t.EditedAt != nil {
		e := *t.EditedAt
		t.EditedAt = &e
	}
	return t
}
