package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/opencode-ai/mcphost/internal/event"
	"github.com/opencode-ai/mcphost/internal/logging"
	"github.com/opencode-ai/mcphost/internal/mcp"
)

// HeaderCallerID names the caller whose private servers a request may see.
const HeaderCallerID = "X-Caller-ID"

// Config holds server configuration.
type Config struct {
	Host         string
	Port         int
	Directory    string
	EnableCORS   bool
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Host:         "127.0.0.1",
		Port:         4096,
		EnableCORS:   true,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No write timeout for SSE
	}
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Reloader re-reads server definitions and reconciles the registry.
type Reloader func(ctx context.Context) error

// Server is the HTTP control API over a registry.
type Server struct {
	config   *Config
	router   *chi.Mux
	registry *mcp.Registry
	bus      *event.Bus
	log      zerolog.Logger

	mu      sync.Mutex
	httpSrv *http.Server
	reload  Reloader
}

// New creates a new Server instance. bus may be nil, in which case the
// event feed is unavailable.
func New(cfg *Config, reg *mcp.Registry, bus *event.Bus) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		config:   cfg,
		router:   chi.NewRouter(),
		registry: reg,
		bus:      bus,
		log:      logging.Component("http"),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// SetReloader installs the handler behind POST /mcp/reload.
func (s *Server) SetReloader(fn Reloader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reload = fn
}

func (s *Server) reloader() Reloader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reload
}

// setupMiddleware configures middleware for the server.
func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(s.requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RealIP)

	if s.config.EnableCORS {
		s.router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", HeaderCallerID},
			ExposedHeaders:   []string{"X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	s.router.Use(s.callerContext)
}

// requestLogger logs one line per request through zerolog.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

// callerContext injects the caller id from the header or ?caller=.
func (s *Server) callerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller := r.Header.Get(HeaderCallerID)
		if caller == "" {
			caller = r.URL.Query().Get("caller")
		}
		ctx := context.WithValue(r.Context(), contextKeyCaller, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	l, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Serve serves on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.httpSrv = &http.Server{
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}
	srv := s.httpSrv
	s.mu.Unlock()

	s.log.Info().Str("addr", l.Addr().String()).Msg("http api listening")
	err := srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

type contextKey string

const contextKeyCaller contextKey = "caller"

// callerID returns the caller from context; empty means shared servers only.
func callerID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyCaller).(string); ok {
		return id
	}
	return ""
}
