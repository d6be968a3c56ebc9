package conversation

import (
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/stretchr/testify/require"
)

func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	cur := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		cur = cur.Add(time.Second)
		return cur
	}
}

func ids(turns []Turn) []TurnID {
	ret := make([]TurnID, len(turns))
	for i, t := range turns {
		ret[i] = t.ID
	}
	return ret
}

func TestAppendAssignsMonotonicIDs(t *testing.T) {
	s := NewMemoryStore()
	a := s.Append(NewUserTurn("hi"))
	b := s.Append(NewAssistantTurn("hello"))
	c := s.Append(Turn{ID: 99, Role: RoleUser, Content: "id is ignored"})
	require.Equal(t, []TurnID{1, 2, 3}, []TurnID{a, b, c})
	require.Equal(t, []TurnID{1, 2, 3}, ids(s.List()))
	require.Equal(t, TurnID(4), s.NextID())
}

func TestEditKeepsRoleAndCreationTime(t *testing.T) {
	s := NewMemoryStore(WithClock(fixedClock(time.Unix(1000, 0))))
	id := s.Append(NewUserTurn("first"))
	before, ok := s.Get(id)
	require.True(t, ok)
	require.Nil(t, before.EditedAt)

	require.NoError(t, s.Edit(id, "second"))
	after, ok := s.Get(id)
	require.True(t, ok)
	require.Equal(t, "second", after.Content)
	require.Equal(t, RoleUser, after.Role)
	require.Equal(t, before.CreatedAt, after.CreatedAt)
	require.NotNil(t, after.EditedAt)
	require.True(t, after.EditedAt.After(after.CreatedAt))
}

func TestEditAndDeleteUnknownID(t *testing.T) {
	s := NewMemoryStore()
	s.Append(NewUserTurn("hi"))
	require.True(t, chaterr.IsNotFound(s.Edit(42, "x")))
	require.True(t, chaterr.IsNotFound(s.Delete(42)))
}

func TestDeleteDoesNotRenumber(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 4; i++ {
		s.Append(NewUserTurn("m"))
	}
	require.NoError(t, s.Delete(2))
	require.Equal(t, []TurnID{1, 3, 4}, ids(s.List()))
	require.True(t, chaterr.IsNotFound(s.Delete(2)))

	require.NoError(t, s.Edit(4, "still reachable"))
	got, ok := s.Get(4)
	require.True(t, ok)
	require.Equal(t, "still reachable", got.Content)

	require.Equal(t, TurnID(5), s.Append(NewAssistantTurn("next")))
}

func TestClearIsIdempotentAndKeepsCounter(t *testing.T) {
	s := NewMemoryStore()
	s.Append(NewUserTurn("a"))
	s.Append(NewUserTurn("b"))
	s.Clear()
	require.Empty(t, s.List())
	s.Clear()
	require.Empty(t, s.List())
	require.Equal(t, 0, s.Len())
	require.Equal(t, TurnID(3), s.Append(NewUserTurn("c")))
}

func TestListReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	id := s.Append(NewUserTurn("a"))
	require.NoError(t, s.Edit(id, "b"))

	l := s.List()
	l[0].Content = "mutated"
	*l[0].EditedAt = time.Time{}

	got, _ := s.Get(id)
	require.Equal(t, "b", got.Content)
	require.False(t, got.EditedAt.IsZero())
}

func TestRandomOperationsKeepOrderAndUniqueIDs(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	s := NewMemoryStore()
	var expected []TurnID

	for i := 0; i < 500; i++ {
		switch op := r.Intn(4); {
		case op <= 1 || len(expected) == 0:
			expected = append(expected, s.Append(NewUserTurn("x")))
		case op == 2:
			id := expected[r.Intn(len(expected))]
			require.NoError(t, s.Edit(id, "edited"))
		default:
			idx := r.Intn(len(expected))
			require.NoError(t, s.Delete(expected[idx]))
			expected = append(expected[:idx], expected[idx+1:]...)
		}

		got := ids(s.List())
		require.Equal(t, len(expected), len(got))
		for j := range got {
			require.Equal(t, expected[j], got[j])
			if j > 0 {
				require.Greater(t, got[j], got[j-1])
			}
		}
	}
}

func TestReplace(t *testing.T) {
	s := NewMemoryStore()
	turns := []Turn{
		{ID: 3, Role: RoleUser, Content: "a"},
		{ID: 7, Role: RoleAssistant, Content: "b"},
	}
	require.NoError(t, s.Replace(turns, 2))
	require.Equal(t, TurnID(8), s.NextID())
	require.Equal(t, []TurnID{3, 7}, ids(s.List()))

	require.NoError(t, s.Replace(turns, 20))
	require.Equal(t, TurnID(20), s.NextID())

	err := s.Replace([]Turn{{ID: 1, Role: RoleUser}, {ID: 1, Role: RoleUser}}, 0)
	require.True(t, chaterr.IsValidation(err))
	err = s.Replace([]Turn{{ID: 1, Role: "tool"}}, 0)
	require.True(t, chaterr.IsValidation(err))
	// failed replace leaves the store untouched
	require.Equal(t, []TurnID{3, 7}, ids(s.List()))
}

func TestConcurrentAppendAndEdit(t *testing.T) {
	s := NewMemoryStore()
	first := s.Append(NewUserTurn("seed"))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.Append(NewAssistantTurn("x"))
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = s.Edit(first, "y")
				_ = s.List()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 401, s.Len())
}

func TestConversationCloneAndValidate(t *testing.T) {
	s := NewMemoryStore()
	id := s.Append(NewUserTurn("hi"))
	require.NoError(t, s.Edit(id, "hey"))
	base := New("daily", settings.Default())

	c := Snapshot(s, base, settings.Default())
	require.NoError(t, c.Validate())
	require.Equal(t, TurnID(2), c.NextTurnID)

	cp := c.Clone()
	cp.Turns[0].Content = "changed"
	*cp.Turns[0].EditedAt = time.Time{}
	require.Equal(t, "hey", c.Turns[0].Content)
	require.False(t, c.Turns[0].EditedAt.IsZero())

	bad := c.Clone()
	bad.Settings.Temperature = 3
	require.True(t, chaterr.IsValidation(bad.Validate()))

	bad = c.Clone()
	bad.Turns = append(bad.Turns, bad.Turns[0])
	require.True(t, chaterr.IsValidation(bad.Validate()))
}
