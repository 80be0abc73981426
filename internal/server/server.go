// Package server is the askrelay HTTP API: the routed ask endpoint, the
// duplex WebSocket relay for interactive sessions and the admin endpoints.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/dayuer/askrelay/internal/bus"
	"github.com/dayuer/askrelay/internal/confighub"
	"github.com/dayuer/askrelay/internal/logging"
	"github.com/dayuer/askrelay/internal/querylog"
	"github.com/dayuer/askrelay/internal/roster"
	"github.com/dayuer/askrelay/internal/router"
	"github.com/dayuer/askrelay/internal/session"
)

// Router decides between the baseline answer and an interactive session.
type Router interface {
	Route(ctx context.Context, req router.Request) (*router.Result, error)
}

// Launcher starts conversations off the request goroutine.
type Launcher interface {
	Launch(pair *bus.Pair, req session.LaunchRequest) error
	Stats() session.Stats
}

// AdminStore is the persisted admin configuration.
type AdminStore interface {
	Current() confighub.Snapshot
	SaveProfile(p roster.Profile) error
	SaveRoster(r roster.Roster) error
}

// QueryLog records and lists routed queries.
type QueryLog interface {
	querylog.Logger
	Recent(ctx context.Context, limit int) ([]querylog.Entry, error)
	Count(ctx context.Context) (int, error)
}

// Transcripts lists and loads finished conversation runs.
type Transcripts interface {
	List() ([]session.TranscriptInfo, error)
	Load(id string) (*session.Transcript, error)
}

// Ingester adds an uploaded file to the knowledge base.
type Ingester interface {
	IngestFile(ctx context.Context, path string) (int, error)
}

// Config configures the Server.
type Config struct {
	Host           string
	Port           int
	APIKey         string   // bearer key for admin routes; empty disables auth
	AllowedOrigins []string // CORS + WebSocket origins; "*" allows all

	Router   Router
	Hub      *bus.Hub
	Launcher Launcher
	Admin    AdminStore
	QueryLog QueryLog // optional
	Ingester Ingester // optional
	// Transcripts backs /api/transcripts; optional.
	Transcripts Transcripts
	// KnowledgeDir receives uploaded files.
	KnowledgeDir string
	MaxTurns     int // per session, default 25

	PingInterval time.Duration // relay keepalive, default 20s
	ReadTimeout  time.Duration // relay idle limit, default 60s
	Logger       *zap.Logger
}

// Server is the HTTP API server.
type Server struct {
	cfg      Config
	log      *zap.Logger
	mux      chi.Router
	upgrader websocket.Upgrader
	srv      *http.Server

	// baseCtx outlives requests; relays derive from it since hijacked
	// connections are not tracked by http.Server.Shutdown.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	bg         sync.WaitGroup

	startTime     time.Time
	askLatency    *latencyWindow
	totalRequests atomic.Int64
	escalations   atomic.Int64
	activeRelays  atomic.Int64
}

// New creates a Server and registers its routes.
func New(cfg Config) *Server {
	if cfg.MaxTurns <= 0 {
		cfg.MaxTurns = 25
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		log:        logging.OrNop(cfg.Logger),
		baseCtx:    ctx,
		cancelBase: cancel,
		startTime:  time.Now(),
		askLatency: newLatencyWindow(time.Minute),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || s.originAllowed(origin)
		},
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.cors)

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/ask", s.handleAsk)

		r.Group(func(r chi.Router) {
			r.Use(s.withAuth)
			r.Get("/get-supervisor-profile", s.handleGetProfile)
			r.Post("/save-supervisor-profile", s.handleSaveProfile)
			r.Get("/get-assistants-config", s.handleGetAssistants)
			r.Post("/save-assistants-config", s.handleSaveAssistants)
			r.Post("/upload", s.handleUpload)
			r.Get("/queries", s.handleQueries)
			r.Get("/status", s.handleStatus)
			r.Get("/transcripts", s.handleTranscripts)
			r.Get("/transcripts/{id}", s.handleTranscript)
		})
	})
	s.mux = r
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.Info("http api listening", zap.String("addr", "http://"+addr))
	s.log.Info("session relay listening", zap.String("addr", "ws://"+addr+"/ws"))

	errCh := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}

// Close stops open relays and waits for background query-log writes.
func (s *Server) Close() {
	s.cancelBase()
	s.bg.Wait()
}

// --- Middleware ---

func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.APIKey != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.APIKey {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	return slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) cors(next http.Handler) http.Handler {
	wildcard := slices.Contains(s.cfg.AllowedOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && s.originAllowed(origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- Handlers ---

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "askrelay router and session bridge is running"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": int(time.Since(s.startTime).Seconds()),
	})
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"detail": msg}.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func writeMessage(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusOK, map[string]string{"message": msg})
}
