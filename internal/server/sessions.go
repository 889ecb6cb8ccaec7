package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/session"
)

// SSE timings.
const (
	ssePoll      = time.Second
	sseKeepAlive = 15 * time.Second
)

type messageRequest struct {
	Content string `json:"content"`
}

type messageResponse struct {
	Replies []session.Message `json:"replies"`
	Session session.Snapshot  `json:"session"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions are not configured")
		return
	}
	var seed model.Input
	if err := decodeBody(r, &seed); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	sess := s.deps.Sessions.Create(seed)
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions are not configured")
		return
	}
	if !s.deps.Sessions.Delete(chi.URLParam(r, "sessionID")) {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	replies, err := sess.HandleMessage(req.Content)
	if errors.Is(err, session.ErrEmptyMessage) {
		writeError(w, http.StatusBadRequest, "message content is required")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Replies: replies, Session: sess.Snapshot()})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	sess.Reset()
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleSessionEvents streams progress of the session's current run as
// server-sent events. Each status change is a "progress" event; when the
// run ends a final "done" event carries the session snapshot. With no run
// in progress the stream sends "done" at once.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming is not supported")
		return
	}

	updates, cancel := sess.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap := sess.Snapshot()
	writeEvent(w, "progress", snap.Process)
	if !sess.Running() {
		writeEvent(w, "done", sess.Snapshot())
		flusher.Flush()
		return
	}
	flusher.Flush()

	poll := time.NewTicker(ssePoll)
	defer poll.Stop()
	lastPing := time.Now()

	for {
		select {
		case <-r.Context().Done():
			return
		case st, open := <-updates:
			if !open {
				return
			}
			writeEvent(w, "progress", st)
			flusher.Flush()
		case <-poll.C:
			if !sess.Running() {
				// Drain anything published before the run finished.
			drain:
				for {
					select {
					case st := <-updates:
						writeEvent(w, "progress", st)
					default:
						break drain
					}
				}
				writeEvent(w, "done", sess.Snapshot())
				flusher.Flush()
				return
			}
			if time.Since(lastPing) >= sseKeepAlive {
				_, _ = fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
				lastPing = time.Now()
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "sessions are not configured")
		return nil, false
	}
	sess, ok := s.deps.Sessions.Get(chi.URLParam(r, "sessionID"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
