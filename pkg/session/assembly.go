package session

import (
	"strings"

	"github.com/go-go-golems/streamchat/pkg/conversation"
)

type AssemblyStatus string

const (
	StatusPending  AssemblyStatus = "pending"
	StatusComplete AssemblyStatus = "complete"
	StatusFailed   AssemblyStatus = "failed"
)

// Assembly accumulates the fragments of one streamed response. It is owned
// by the goroutine consuming the stream and is not safe for concurrent use.
type Assembly struct {
	fragments []string
	text      strings.Builder
	status    AssemblyStatus
	failure   error
}

func NewAssembly() *Assembly {
	return &Assembly{status: StatusPending}
}

func (a *Assembly) Append(fragment string) {
	a.fragments = append(a.fragments, fragment)
	a.text.WriteString(fragment)
}

func (a *Assembly) Text() string {
	return a.text.String()
}

func (a *Assembly) Fragments() []string {
	return append([]string(nil), a.fragments...)
}

func (a *Assembly) Status() AssemblyStatus {
	return a.status
}

// Err is the failure passed to Fail, if any.
func (a *Assembly) Err() error {
	return a.failure
}

func (a *Assembly) Complete() conversation.Turn {
	a.status = StatusComplete
	return Finalize(a.fragments, nil)
}

func (a *Assembly) Fail(err error) conversation.Turn {
	a.status = StatusFailed
	a.failure = err
	return Finalize(a.fragments, err)
}

// Finalize turns the fragments of a response into the assistant turn that
// replaces them. A non-nil failure marks the turn as errored; whatever text
// arrived is kept.
func Finalize(fragments []string, failure error) conversation.Turn {
	ret := conversation.NewAssistantTurn(strings.Join(fragments, ""))
	if failure != nil {
		ret.Errored = true
		ret.Error = failure.Error()
	}
	return ret
}
