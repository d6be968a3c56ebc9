package session

import (
	"context"
	"sync"

	"github.com/go-go-golems/streamchat/pkg/conversation"
)

// StreamHandle is returned by Manager.Send for one in-flight response.
//
// Fragments are delivered in the order the completer produced them. The
// caller must either read Fragments until it is closed or call Wait, which
// drains it; otherwise the stream stalls once the buffer is full.
type StreamHandle struct {
	SendID     string
	UserTurnID conversation.TurnID

	fragments chan string
	done      chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	turn   conversation.Turn
	err    error
}

const fragmentBuffer = 64

func newStreamHandle(sendID string, userTurnID conversation.TurnID, cancel context.CancelFunc) *StreamHandle {
	return &StreamHandle{
		SendID:     sendID,
		UserTurnID: userTurnID,
		fragments:  make(chan string, fragmentBuffer),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
}

func (h *StreamHandle) Fragments() <-chan string {
	return h.fragments
}

// Done is closed once the response has been finalized.
func (h *StreamHandle) Done() <-chan struct{} {
	return h.done
}

// Cancel stops the stream. The text received so far is kept as an errored
// turn. It is safe to call multiple times and after completion.
func (h *StreamHandle) Cancel() {
	if h == nil {
		return
	}
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (h *StreamHandle) IsRunning() bool {
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

// Wait drains the remaining fragments and returns the finalized assistant
// turn. On failure the error is a *chaterr.UpstreamError and the turn holds
// the partial text.
func (h *StreamHandle) Wait() (conversation.Turn, error) {
	for range h.fragments {
	}
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.turn, h.err
}

func (h *StreamHandle) setResult(turn conversation.Turn, err error) {
	h.mu.Lock()
	h.turn = turn
	h.err = err
	cancel := h.cancel
	h.cancel = nil
	close(h.done)
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
