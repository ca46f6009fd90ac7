package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/handlers"
	"go.uber.org/zap"

	"github.com/chatrealm/chatrealm/internal/config"
	"github.com/chatrealm/chatrealm/internal/server"
	"github.com/chatrealm/chatrealm/internal/store"
)

// Server is the HTTP edge: token verification, websocket upgrades and
// the read-only REST surface. All conversation logic lives behind the
// dispatcher.
type Server struct {
	log            *zap.Logger
	repo           store.Repository
	mux            *http.Server
	cs             *server.Dispatcher
	signingKey     []byte
	allowedOrigins []string
}

func NewServer(mux *http.ServeMux, logger *zap.Logger, cs *server.Dispatcher, repo store.Repository, cfg *config.Config) *Server {
	s := &Server{
		log:            logger,
		repo:           repo,
		cs:             cs,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /healthz", s.healthz)
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.Handle("GET /api/messages", s.authMiddleware(s.getMessages))
	mux.Handle("GET /ws", s.authMiddleware(s.serveWs))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *Server) Start() error {
	s.log.Info("starting server", zap.String("addr", s.mux.Addr))
	return s.mux.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
