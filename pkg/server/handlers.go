package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-go-golems/streamchat/pkg/chaterr"
	"github.com/go-go-golems/streamchat/pkg/conversation"
	"github.com/go-go-golems/streamchat/pkg/logging"
	"github.com/go-go-golems/streamchat/pkg/persistence"
	"github.com/go-go-golems/streamchat/pkg/session"
	"github.com/go-go-golems/streamchat/pkg/settings"
	"github.com/pkg/errors"
)

type ConversationDTO struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Streaming  bool                `json:"streaming"`
	Settings   settings.Settings   `json:"settings"`
	Turns      []conversation.Turn `json:"turns"`
	NextTurnID conversation.TurnID `json:"next_turn_id"`
	CreatedAt  time.Time           `json:"created_at"`
	ModifiedAt time.Time           `json:"modified_at"`
}

type SendRequest struct {
	Text string `json:"text"`
}

type SendResponse struct {
	SendID     string              `json:"send_id"`
	UserTurnID conversation.TurnID `json:"user_turn_id"`
}

type EditRequest struct {
	Content string `json:"content"`
}

type NameRequest struct {
	Name string `json:"name"`
}

type RecordDTO struct {
	ID         persistence.RecordID `json:"id"`
	Name       string               `json:"name"`
	ModifiedAt time.Time            `json:"modified_at"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
	Field string `json:"field,omitempty"`
}

func (s *Server) conversationDTO() ConversationDTO {
	snap := s.manager.Snapshot()
	turns := snap.Turns
	if turns == nil {
		turns = []conversation.Turn{}
	}
	return ConversationDTO{
		ID:         snap.ID,
		Name:       snap.Name,
		Streaming:  s.manager.IsStreaming(),
		Settings:   snap.Settings,
		Turns:      turns,
		NextTurnID: snap.NextTurnID,
		CreatedAt:  snap.CreatedAt,
		ModifiedAt: snap.ModifiedAt,
	}
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.conversationDTO())
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req SendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	// the response outlives the request
	ctx := context.WithoutCancel(r.Context())
	h, err := s.manager.Send(ctx, req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}

	logger := logging.FromContext(ctx)
	s.pending.Go(func() {
		turn, err := h.Wait()
		if err != nil {
			logger.Warn().Err(err).Str("send_id", h.SendID).Msg("send finished with error")
			return
		}
		logger.Debug().Str("send_id", h.SendID).Uint64("turn_id", uint64(turn.ID)).Msg("send finished")
	})

	writeJSON(w, r, http.StatusAccepted, SendResponse{SendID: h.SendID, UserTurnID: h.UserTurnID})
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id, err := turnIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req EditRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.manager.Edit(id, req.Content); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.conversationDTO())
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := turnIDFromPath(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.manager.Delete(id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Clear(); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.conversationDTO())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.CancelActive(); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.manager.Reset(req.Name); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.conversationDTO())
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, s.manager.Settings())
}

// handleUpdateSettings applies the fields present in the body on top of the
// current settings.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	current := s.manager.Settings()
	if err := decodeBody(r, &current); err != nil {
		writeError(w, r, err)
		return
	}
	updated, err := current.With()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.manager.UpdateSettings(updated); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	records := s.manager.Records()
	if records == nil {
		writeError(w, r, session.ErrNoPersistence)
		return
	}
	infos, err := records.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	ret := make([]RecordDTO, 0, len(infos))
	for _, info := range infos {
		ret = append(ret, RecordDTO{ID: info.ID, Name: info.Name, ModifiedAt: info.ModifiedAt})
	}
	writeJSON(w, r, http.StatusOK, ret)
}

func (s *Server) handleSaveRecord(w http.ResponseWriter, r *http.Request) {
	var req NameRequest
	if err := decodeOptionalBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	name := req.Name
	if name == "" {
		name = s.manager.Name()
	}
	id, err := s.manager.Save(r.Context(), name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, RecordDTO{ID: id, Name: s.manager.Name(), ModifiedAt: time.Now()})
}

func (s *Server) handleLoadRecord(w http.ResponseWriter, r *http.Request) {
	id := persistence.RecordID(r.PathValue("id"))
	if err := s.manager.LoadRecord(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, s.conversationDTO())
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	records := s.manager.Records()
	if records == nil {
		writeError(w, r, session.ErrNoPersistence)
		return
	}
	if err := records.Delete(r.Context(), persistence.RecordID(r.PathValue("id"))); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func turnIDFromPath(r *http.Request) (conversation.TurnID, error) {
	raw := r.PathValue("id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, chaterr.NewValidationError("id", "invalid turn id "+strconv.Quote(raw))
	}
	return conversation.TurnID(id), nil
}

const maxBodyBytes = 1 << 20

func decodeBody(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return chaterr.NewValidationError("body", err.Error())
	}
	return nil
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(r *http.Request, v interface{}) error {
	err := decodeBody(r, v)
	var verr *chaterr.ValidationError
	if errors.As(err, &verr) && verr.Reason == io.EOF.Error() {
		return nil
	}
	return err
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(r.Context()).Error().Err(err).Msg("failed to write response")
	}
}

// StatusForError maps the error kinds of the core to HTTP status codes.
// A corrupt record wins over the validation failure that may have caused it.
func StatusForError(err error) (int, string) {
	switch {
	case chaterr.IsCorrupt(err):
		return http.StatusUnprocessableEntity, "corrupt_record"
	case chaterr.IsValidation(err):
		return http.StatusBadRequest, "validation"
	case chaterr.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case chaterr.IsConcurrency(err), errors.Is(err, session.ErrNoActiveSend):
		return http.StatusConflict, "concurrency"
	case chaterr.IsUpstream(err):
		return http.StatusBadGateway, "upstream"
	case errors.Is(err, session.ErrNoPersistence):
		return http.StatusNotImplemented, "no_persistence"
	}
	return http.StatusInternalServerError, "internal"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, kind := StatusForError(err)
	resp := ErrorResponse{Error: err.Error(), Kind: kind}
	var verr *chaterr.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}

	logger := logging.FromContext(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, r, status, resp)
}
