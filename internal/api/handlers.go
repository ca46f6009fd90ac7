package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/chatrealm/chatrealm/internal/server"
	"github.com/chatrealm/chatrealm/internal/store"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 200
)

func (s *Server) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("json encode", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, apiErr *ApiError) {
	s.writeJson(w, apiErr.StatusCode, apiErr)
}

// roomError maps repository failures for room lookups.
func roomError(err error) *ApiError {
	if errors.Is(err, store.ErrNotFound) {
		return NewNotFoundError()
	}
	return NewInternalServerError(err)
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if err := s.repo.Ping(); err != nil {
		s.writeError(w, NewServiceUnavailableError(err))
		return
	}

	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) getRoom(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("id")
	if externalId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	room, err := s.repo.GetRoomByExternalId(externalId)
	if err != nil {
		s.writeError(w, roomError(err))
		return
	}

	s.writeJson(w, http.StatusOK, room)
}

// getMessages serves paged history for a room, newest first. "before" is
// a unix millisecond cursor; omit it for the latest page.
func (s *Server) getMessages(w http.ResponseWriter, r *http.Request) {
	externalId := r.URL.Query().Get("room_id")
	if externalId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	room, err := s.repo.GetRoomByExternalId(externalId)
	if err != nil {
		s.writeError(w, roomError(err))
		return
	}

	before := time.Now().UTC()
	if rawBefore := r.URL.Query().Get("before"); rawBefore != "" {
		ms, err := strconv.ParseInt(rawBefore, 10, 64)
		if err != nil {
			s.writeError(w, NewBadRequestError())
			return
		}
		before = time.UnixMilli(ms).UTC()
	}

	limit := defaultMessageLimit
	if rawLimit := r.URL.Query().Get("limit"); rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			s.writeError(w, NewBadRequestError())
			return
		}
		limit = min(limit, maxMessageLimit)
	}

	messages, err := s.repo.GetMessages(room.ExternalId, before, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeJson(w, http.StatusOK, messages)
}

func (s *Server) serveWs(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFrom(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}

			return slices.Contains(s.allowedOrigins, origin)
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("upgrade connection", zap.Error(err))
		return
	}

	client := server.NewClient(user, conn, s.cs, s.log)

	s.cs.RegisterChan <- client
	go client.Write()
	go client.Read()
}
