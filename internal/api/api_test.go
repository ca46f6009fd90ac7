package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/chatrealm/chatrealm/internal/config"
	"github.com/chatrealm/chatrealm/internal/prompt"
	"github.com/chatrealm/chatrealm/internal/provider"
	"github.com/chatrealm/chatrealm/internal/server"
	"github.com/chatrealm/chatrealm/internal/stats"
	"github.com/chatrealm/chatrealm/internal/store"
	"github.com/chatrealm/chatrealm/internal/testutil"
	"github.com/chatrealm/chatrealm/internal/types"
)

var testSigningKey = []byte("0123456789abcdef0123456789abcdef")

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSigningKey)
	require.NoError(t, err)
	return tok
}

func aliceToken(t *testing.T) string {
	return signToken(t, jwt.MapClaims{
		"user_id":      "u1",
		"username":     "alice",
		"avatar_style": "bottts",
		"avatar_color": "teal",
	})
}

func newTestServer(t *testing.T, repo store.Repository, cs *server.Dispatcher) *Server {
	t.Helper()
	cfg := &config.Config{
		ServerAddr:     "localhost:0",
		SigningKey:     testSigningKey,
		AllowedOrigins: []string{"http://localhost:3000"},
	}
	return NewServer(http.NewServeMux(), testutil.TestLogger(t), cs, repo, cfg)
}

func doRequest(s *Server, r *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.mux.Handler.ServeHTTP(w, r)
	return w
}

func withToken(r *http.Request, token string) *http.Request {
	r.AddCookie(&http.Cookie{Name: "token", Value: token})
	return r
}

func Test_healthz(t *testing.T) {
	repo := &store.MockRepository{}
	repo.On("Ping").Return(nil).Once()
	s := newTestServer(t, repo, nil)

	w := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	t.Run("degraded when the database is unreachable", func(t *testing.T) {
		repo.On("Ping").Return(assert.AnError).Once()
		w := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	})
}

func Test_authMiddleware(t *testing.T) {
	repo := &store.MockRepository{}
	repo.On("GetRoomByExternalId", "room-1").Return(types.Room{
		Id: 1, ExternalId: "room-1", Name: "Lounge", Type: types.RoomCasualLounge,
	}, nil)
	s := newTestServer(t, repo, nil)

	t.Run("no token", func(t *testing.T) {
		w := doRequest(s, httptest.NewRequest(http.MethodGet, "/api/rooms?id=room-1", nil))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token signed with the wrong key", func(t *testing.T) {
		forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": "u1", "username": "alice",
		}).SignedString([]byte("someone-elses-key"))
		require.NoError(t, err)

		r := withToken(httptest.NewRequest(http.MethodGet, "/api/rooms?id=room-1", nil), forged)
		w := doRequest(s, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("token missing identity claims", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"username": "alice"})
		r := withToken(httptest.NewRequest(http.MethodGet, "/api/rooms?id=room-1", nil), tok)
		w := doRequest(s, r)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("valid cookie token", func(t *testing.T) {
		r := withToken(httptest.NewRequest(http.MethodGet, "/api/rooms?id=room-1", nil), aliceToken(t))
		w := doRequest(s, r)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	})

	t.Run("query parameter fallback", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/rooms?id=room-1&token="+aliceToken(t), nil)
		w := doRequest(s, r)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func Test_getRoom(t *testing.T) {
	repo := &store.MockRepository{}
	repo.On("GetRoomByExternalId", "room-1").Return(types.Room{
		Id: 1, ExternalId: "room-1", Name: "Lounge", Type: types.RoomCasualLounge,
	}, nil)
	repo.On("GetRoomByExternalId", "missing").Return(types.Room{}, store.ErrNotFound)
	s := newTestServer(t, repo, nil)

	t.Run("found", func(t *testing.T) {
		r := withToken(httptest.NewRequest(http.MethodGet, "/api/rooms?id=room-1", nil), aliceToken(t))
		w := doRequest(s, r)
		require.Equal(t, http.StatusOK, w.Code)

		var room types.Room
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &room))
		assert.Equal(t, "room-1", room.ExternalId)
		assert.Equal(t, types.RoomCasualLounge, room.Type)
	})

	t.Run("missing id parameter", func(t *testing.T) {
		r := withToken(httptest.NewRequest(http.MethodGet, "/api/rooms", nil), aliceToken(t))
		w := doRequest(s, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown room", func(t *testing.T) {
		r := withToken(httptest.NewRequest(http.MethodGet, "/api/rooms?id=missing", nil), aliceToken(t))
		w := doRequest(s, r)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func Test_getMessages(t *testing.T) {
	room := types.Room{Id: 1, ExternalId: "room-1", Name: "Lounge", Type: types.RoomCasualLounge}

	t.Run("defaults", func(t *testing.T) {
		repo := &store.MockRepository{}
		repo.On("GetRoomByExternalId", "room-1").Return(room, nil)
		repo.On("GetMessages", "room-1", mock.Anything, defaultMessageLimit).Return([]types.Message{
			{Id: "m1", RoomId: "room-1", Username: "bob", Content: "hi", Type: types.MessageTypeUser},
		}, nil)
		s := newTestServer(t, repo, nil)

		r := withToken(httptest.NewRequest(http.MethodGet, "/api/messages?room_id=room-1", nil), aliceToken(t))
		w := doRequest(s, r)
		require.Equal(t, http.StatusOK, w.Code)

		var msgs []types.Message
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &msgs))
		require.Len(t, msgs, 1)
		assert.Equal(t, "hi", msgs[0].Content)
	})

	t.Run("cursor and limit clamp", func(t *testing.T) {
		repo := &store.MockRepository{}
		repo.On("GetRoomByExternalId", "room-1").Return(room, nil)

		cursor := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
		repo.On("GetMessages", "room-1", cursor, maxMessageLimit).Return([]types.Message{}, nil)
		s := newTestServer(t, repo, nil)

		url := "/api/messages?room_id=room-1&before=" + strconv.FormatInt(cursor.UnixMilli(), 10) + "&limit=9999"
		r := withToken(httptest.NewRequest(http.MethodGet, url, nil), aliceToken(t))
		w := doRequest(s, r)
		assert.Equal(t, http.StatusOK, w.Code)
		repo.AssertCalled(t, "GetMessages", "room-1", cursor, maxMessageLimit)
	})

	t.Run("bad cursor", func(t *testing.T) {
		repo := &store.MockRepository{}
		repo.On("GetRoomByExternalId", "room-1").Return(room, nil)
		s := newTestServer(t, repo, nil)

		r := withToken(httptest.NewRequest(http.MethodGet, "/api/messages?room_id=room-1&before=yesterday", nil), aliceToken(t))
		w := doRequest(s, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing room_id", func(t *testing.T) {
		s := newTestServer(t, &store.MockRepository{}, nil)
		r := withToken(httptest.NewRequest(http.MethodGet, "/api/messages", nil), aliceToken(t))
		w := doRequest(s, r)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func Test_errorHandler_recoversPanics(t *testing.T) {
	repo := &store.MockRepository{}
	repo.On("Ping").Run(func(mock.Arguments) { panic("database driver blew up") }).Return(nil)
	s := newTestServer(t, repo, nil)

	w := doRequest(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "close", w.Header().Get("Connection"))
}

func Test_serveWs(t *testing.T) {
	repo := &store.MockRepository{}
	repo.On("GetRoomByExternalId", "room-1").Return(types.Room{
		Id: 1, ExternalId: "room-1", Name: "Lounge", Type: types.RoomCasualLounge,
	}, nil)
	repo.On("GetMessages", "room-1", mock.Anything, mock.Anything).Return([]types.Message{}, nil)
	repo.On("CreateMessage", mock.Anything).Return(nil)

	personas := map[types.RoomType]config.Persona{
		types.RoomCasualLounge: {Name: "Rex", Prompt: "You are Rex."},
	}
	cs, err := server.NewDispatcher(server.Deps{
		Log:          testutil.TestLogger(t),
		Repo:         repo,
		Cache:        store.NewMemoryCache(),
		Stats:        stats.NewNoopStats(),
		Orchestrator: prompt.NewOrchestrator(personas, 8192, 3),
		Provider:     &provider.MockProvider{},
		Tuning: config.Tuning{
			HistoryLimit: 20, EngagementTick: time.Hour, ProviderTimeout: 5 * time.Second,
			IdleRoomGrace: time.Hour, SessionTTL: time.Hour, ResumeOnRejoin: true,
		},
	})
	require.NoError(t, err)
	go cs.Run()

	s := newTestServer(t, repo, cs)
	ts := httptest.NewServer(s.mux.Handler)
	defer ts.Close()

	t.Run("upgrade requires a valid token", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
		_, resp, err := websocket.DefaultDialer.Dial(url, nil)
		require.Error(t, err)
		require.NotNil(t, resp)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("join over the wire", func(t *testing.T) {
		url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?token=" + aliceToken(t)
		conn, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		defer conn.Close()

		require.NoError(t, conn.WriteJSON(map[string]any{
			"id":        1,
			"join_room": map[string]any{"room_id": "room-1"},
		}))

		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev struct {
			Id       int `json:"id"`
			Response *struct {
				ResponseCode int            `json:"response_code"`
				Data         map[string]any `json:"data"`
			} `json:"response"`
		}
		require.NoError(t, conn.ReadJSON(&ev))
		require.NotNil(t, ev.Response)
		assert.Equal(t, http.StatusOK, ev.Response.ResponseCode)
		assert.Equal(t, 1, ev.Id)
		assert.Equal(t, "Rex", ev.Response.Data["persona"])
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, cs.Shutdown(ctx))
}
