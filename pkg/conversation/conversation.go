package conversation

import (
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/google/uuid"
	"github.com/huandu/go-clone"
	"github.com/pkg/errors"
)

// Conversation is a snapshot of a transcript together with the settings it
// was produced with.
type Conversation struct {
	ID         string            `json:"id" yaml:"id"`
	Name       string            `json:"name" yaml:"name"`
	Turns      []Turn            `json:"turns" yaml:"turns"`
	Settings   settings.Settings `json:"settings" yaml:"settings"`
	NextTurnID TurnID            `json:"next_turn_id" yaml:"next_turn_id"`
	CreatedAt  time.Time         `json:"created_at" yaml:"created_at"`
	ModifiedAt time.Time         `json:"modified_at" yaml:"modified_at"`
}

func New(name string, s settings.Settings) Conversation {
	now := time.Now()
	return Conversation{
		ID:         uuid.NewString(),
		Name:       name,
		Settings:   s,
		NextTurnID: 1,
		CreatedAt:  now,
		ModifiedAt: now,
	}
}

// Clone returns a deep copy that shares no memory with c.
func (c Conversation) Clone() Conversation {
	return clone.Clone(c).(Conversation)
}

// Validate checks the turns and the settings. It is used when loading
// records from storage.
func (c Conversation) Validate() error {
	seen := make(map[TurnID]struct{}, len(c.Turns))
	for i, t := range c.Turns {
		if err := validateTurn(t); err != nil {
			return errors.Wrapf(err, "turn %d", i)
		}
		if _, ok := seen[t.ID]; ok {
			return chaterr.NewValidationError("turns", "duplicate turn id "+t.ID.String())
		}
		seen[t.ID] = struct{}{}
	}
	if err := c.Settings.Validate(); err != nil {
		return errors.Wrap(err, "settings")
	}
	return nil
}

// Snapshot captures the store into a conversation carrying the given
// identity and settings.
func Snapshot(store Store, base Conversation, s settings.Settings) Conversation {
	ret := base
	ret.Turns = store.List()
	ret.NextTurnID = store.NextID()
	ret.Settings = s
	return ret.Clone()
}
