package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-go-golems/streamchat/pkg/logging"
	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"
)

// ReadyMessage is the first frame of every websocket connection. Events
// published after it are delivered to the client.
type ReadyMessage struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
}

// handleWebSocket forwards every event published on the chat topic to the
// client as a JSON text frame. Client frames are read and discarded.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := logging.FromContext(r.Context())

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	msgs, err := s.router.Subscribe(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("could not subscribe to events")
		return
	}

	ready, _ := json.Marshal(ReadyMessage{Type: "ready", ConversationID: s.manager.Snapshot().ID})
	if err := s.writeFrame(conn, websocket.TextMessage, ready); err != nil {
		return
	}
	logger.Debug().Msg("websocket client connected")

	var wg conc.WaitGroup
	wg.Go(func() {
		defer cancel()
		s.readPump(conn)
	})
	wg.Go(func() {
		defer cancel()
		// unblocks the read pump
		defer func() {
			_ = conn.Close()
		}()
		s.writePump(ctx, conn, msgs)
	})
	wg.Wait()

	logger.Debug().Msg("websocket client disconnected")
}

func (s *Server) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(s.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, msgs <-chan *message.Message) {
	ping := time.NewTicker(s.pongWait * 9 / 10)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(s.writeTimeout),
			)
			return

		case msg, ok := <-msgs:
			if !ok {
				return
			}
			err := s.writeFrame(conn, websocket.TextMessage, msg.Payload)
			// publishers block until every subscriber acks
			msg.Ack()
			if err != nil {
				return
			}

		case <-ping.C:
			if err := s.writeFrame(conn, websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn *websocket.Conn, messageType int, data []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteMessage(messageType, data)
}
