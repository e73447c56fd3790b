// Package gamehttp serves the local player's session over a loopback HTTP
// API for a browser or desktop front end.
package gamehttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MJE43/starkguessr-go/internal/game"
	"github.com/MJE43/starkguessr-go/internal/geo"
	"github.com/MJE43/starkguessr-go/internal/session"
)

// TokenHeader carries the optional shared token.
const TokenHeader = "X-Session-Token"

// Session is the part of *session.Session the API uses.
type Session interface {
	Player() game.Address
	Game(ctx context.Context, id uint64) (*game.Game, error)
	Games(ctx context.Context, limit int, order game.Order) ([]*game.Game, error)
	Lobby() ([]*game.Game, time.Time)
	CreateGame(ctx context.Context, target *geo.Coordinate) (uint64, error)
	JoinGame(ctx context.Context, id uint64) error
	SubmitGuess(ctx context.Context, id uint64, guess geo.Coordinate) error
	RevealLocation(ctx context.Context, id uint64) error
	RevealGuess(ctx context.Context, id uint64) error
	Panorama(ctx context.Context, id uint64) (json.RawMessage, error)
	StartWatch(ctx context.Context, id uint64) (session.Status, error)
	WatchStatus(id uint64) (session.Status, bool)
	StopWatch(id uint64) bool
}

// Server runs the local HTTP API.
type Server struct {
	sess       Session
	token      string
	addr       string // e.g. "127.0.0.1:17890"
	logger     *log.Logger
	startTime  time.Time
	httpServer *http.Server

	// base outlives single requests; watches started over HTTP run on it.
	base context.Context
}

// New creates a server bound to loopback at the given port. token may be
// empty to disable token checks.
func New(sess Session, port int, token string, logger *log.Logger) *Server {
	if port <= 0 {
		port = 17890
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		sess:      sess,
		token:     token,
		addr:      fmt.Sprintf("127.0.0.1:%d", port),
		logger:    logger,
		startTime: time.Now(),
		base:      context.Background(),
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.addr }

// Routes sets up the HTTP routes.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/lobby", s.handleLobby)
		r.Get("/games", s.handleListGames)
		r.Post("/games", s.handleCreateGame)
		r.Route("/games/{id}", func(r chi.Router) {
			r.Use(gameIDCtx)
			r.Get("/", s.handleGetGame)
			r.Get("/results", s.handleResults)
			r.Get("/panorama", s.handlePanorama)
			r.Post("/join", s.handleJoin)
			r.Post("/guess", s.handleGuess)
			r.Post("/reveal-location", s.handleRevealLocation)
			r.Post("/reveal-guess", s.handleRevealGuess)
			r.Get("/watch", s.handleWatchStatus)
			r.Post("/watch", s.handleStartWatch)
			r.Delete("/watch", s.handleStopWatch)
		})
	})
	return r
}

// Start begins listening in a goroutine. It returns when the socket is bound.
func (s *Server) Start(ctx context.Context) error {
	s.base = ctx
	s.httpServer = &http.Server{
		Addr:        s.addr,
		Handler:     s.Routes(),
		ReadTimeout: 10 * time.Second,
		// Actions wait for ledger confirmation, which can take minutes.
		WriteTimeout: 6 * time.Minute,
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("gamehttp: listen %s: %w", s.addr, err)
	}
	s.logger.Printf("listening on http://%s", s.addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("serve: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Run starts the server and blocks until ctx is done, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// --- Middleware ---

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" && r.Header.Get(TokenHeader) != s.token {
			writeJSON(w, http.StatusUnauthorized, errObj("UNAUTHORIZED", "missing or invalid "+TokenHeader, ""))
			return
		}
		next.ServeHTTP(w, r)
	})
}

type ctxKey struct{}

func gameIDCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil || id == 0 {
			writeJSON(w, http.StatusBadRequest, errObj("VALIDATION_ERROR", "invalid game id", "id"))
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func gameID(r *http.Request) uint64 {
	id, _ := r.Context().Value(ctxKey{}).(uint64)
	return id
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errObj(code, msg, field string) map[string]any {
	e := map[string]any{
		"code":    code,
		"message": msg,
	}
	if field != "" {
		e["field"] = field
	}
	return map[string]any{"error": e}
}

func qInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return i
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
