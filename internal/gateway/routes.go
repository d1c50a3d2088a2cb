package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/relay/internal/conversation"
	"github.com/soyeahso/relay/internal/version"
)

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("POST /v1/users/{user}/messages", s.handleSubmitMessage)
	mux.HandleFunc("GET /v1/users/{user}/events", s.handleEvents)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":       version.Version,
		"commit":        version.Commit,
		"agent":         s.agentID,
		"uptimeSeconds": int(time.Since(s.startedAt).Seconds()),
		"conversations": s.conversations.Count(),
		"channels":      s.channels.Status(),
	})
}

type submitMessageRequest struct {
	Text string `json:"text"`
}

// handleSubmitMessage accepts a user message and starts its run. The
// response is 202: the reply arrives over the event stream, not in this
// response body.
func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user")
		return
	}

	var req submitMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	// The run outlives this request; bind it to the server context.
	err := s.dispatcher.Dispatch(s.baseCtx, userID, req.Text)
	switch {
	case errors.Is(err, conversation.ErrRunActive):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.log.Error().Err(err).Str("user", userID).Msg("dispatch failed")
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]any{
			"accepted":     true,
			"conversation": conversation.Key(s.agentID, userID),
		})
	}
}

// handleEvents upgrades to a websocket and streams conversation events.
// The watermark query parameter is the highest sequence number the
// client has already seen; everything after it is replayed from history
// before live events flow.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "missing user")
		return
	}

	var watermark int64
	if v := r.URL.Query().Get("watermark"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "invalid watermark")
			return
		}
		watermark = parsed
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sess := s.conversations.GetOrCreate(s.agentID, userID)
	consumer := s.mux.Attach(sess, watermark)
	defer s.mux.Detach(consumer)

	s.log.Debug().Str("conversation", sess.ID).Int64("watermark", watermark).Msg("event stream opened")

	// Drain reads so close frames are processed; clients have nothing
	// to say on this socket.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-consumer.Events():
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				s.log.Debug().Err(err).Str("conversation", sess.ID).Msg("event stream write failed")
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return
		}
	}
}
