package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/handlers"

	"github.com/auxroom/go-auxroom/internal/broadcast"
	"github.com/auxroom/go-auxroom/internal/config"
	"github.com/auxroom/go-auxroom/internal/database"
	"github.com/auxroom/go-auxroom/internal/registry"
	"github.com/auxroom/go-auxroom/internal/rooms"
)

type AuxroomApp struct {
	log            *log.Logger
	db             database.MusicRepository
	mux            *http.Server
	registry       *registry.ConnectionRegistry
	rooms          *rooms.RoomManager
	broadcaster    *broadcast.EventBroadcaster
	signingKey     []byte
	allowedOrigins []string
	authTimeout    time.Duration
}

func NewAuxroomApp(mux *http.ServeMux, logger *log.Logger, cr *registry.ConnectionRegistry, rm *rooms.RoomManager, eb *broadcast.EventBroadcaster, db database.MusicRepository, cfg *config.Config) *AuxroomApp {
	s := &AuxroomApp{
		log:            logger,
		db:             db,
		registry:       cr,
		rooms:          rm,
		broadcaster:    eb,
		signingKey:     cfg.SigningKey,
		allowedOrigins: cfg.AllowedOrigins,
		authTimeout:    cfg.AuthTimeout,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("POST /api/auth/register", s.createAccount)
	mux.HandleFunc("POST /api/auth/login", s.login)
	mux.Handle("GET /api/auth/logout", s.authMiddleware(s.logout))
	mux.Handle("POST /api/rooms", s.authMiddleware(s.createRoom))
	mux.Handle("GET /api/rooms", s.authMiddleware(s.getRoom))
	mux.HandleFunc("GET /api/stats", s.getStats)
	mux.HandleFunc("GET /ws", s.serveWs)

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
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

func (s *AuxroomApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *AuxroomApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
