package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/go-chat-relay/internal/config"
	"github.com/npezzotti/go-chat-relay/internal/relay"
)

// RelayApp is the HTTP surface of the relay: the websocket upgrade
// endpoint plus a small read-only API for liveness and presence
// snapshots.
type RelayApp struct {
	log            *log.Logger
	mux            *http.Server
	rs             *relay.Server
	allowedOrigins []string
}

func NewRelayApp(mux *http.ServeMux, logger *log.Logger, rs *relay.Server, cfg *config.Config) *RelayApp {
	s := &RelayApp{
		log:            logger,
		rs:             rs,
		allowedOrigins: cfg.AllowedOrigins,
	}

	mux.HandleFunc("GET /api/health", s.health)
	mux.HandleFunc("GET /api/users", s.users)
	mux.HandleFunc("GET /ws", s.serveWs)

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

func (s *RelayApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *RelayApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
