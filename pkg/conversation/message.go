package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// TurnID identifies a turn inside one conversation. IDs are handed out in
// increasing order and never reused, even after a delete or a clear.
type TurnID uint64

func (id TurnID) String() string {
	return fmt.Sprintf("%d", uint64(id))
}

// Turn is one message of a conversation.
type Turn struct {
	ID        TurnID     `json:"id" yaml:"id"`
	Role      Role       `json:"role" yaml:"role"`
	Content   string     `json:"content" yaml:"content"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	EditedAt  *time.Time `json:"edited_at,omitempty" yaml:"edited_at,omitempty"`

	// Errored marks an assistant turn assembled from a stream that failed or
	// was cancelled. Content holds whatever text arrived before that.
	Errored bool   `json:"errored,omitempty" yaml:"errored,omitempty"`
	Error   string `json:"error,omitempty" yaml:"error,omitempty"`
}

func NewTurn(role Role, content string) Turn {
	return Turn{Role: role, Content: content}
}

func NewUserTurn(content string) Turn {
	return NewTurn(RoleUser, content)
}

func NewAssistantTurn(content string) Turn {
	return NewTurn(RoleAssistant, content)
}

func NewSystemTurn(content string) Turn {
	return NewTurn(RoleSystem, content)
}

func (t Turn) IsEdited() bool {
	return t.EditedAt != nil
}

// View renders the turn for terminal output.
func (t Turn) View() string {
	text := strings.TrimRight(t.Content, "\n")
	// fenced code needs to start on its own line to stay valid markdown
	if strings.HasPrefix(text, "```") {
		text = "\n" + text
	}
	suffix := ""
	if t.Errored {
		suffix = " [incomplete]"
	}
	return fmt.Sprintf("[%s #%d]: %s%s", t.Role, t.ID, text, suffix)
}

func (t Turn) MarshalZerologObject(e *zerolog.Event) {
	e.Uint64("id", uint64(t.ID)).
		Str("role", string(t.Role)).
		Int("content_len", len(t.Content)).
		Time("created_at", t.CreatedAt)
	if t.EditedAt != nil {
		e.Time("edited_at", *t.EditedAt)
	}
	if t.Errored {
		e.Bool("errored", true).Str("error", t.Error)
	}
}
