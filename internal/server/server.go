package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/michaelbrown/codepad/internal/config"
	"github.com/michaelbrown/codepad/internal/dispatch"
	"github.com/michaelbrown/codepad/internal/language"
	"github.com/michaelbrown/codepad/internal/preview"
	"github.com/michaelbrown/codepad/internal/session"
	"github.com/michaelbrown/codepad/internal/storage"
)

// Languages provides the current language table.
type Languages interface {
	Table() *language.Table
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Config     *config.Config
	Logger     *zap.Logger
	Languages  Languages
	Dispatcher *dispatch.Dispatcher
	Previews   preview.Store
	Store      storage.Store       // optional; snippet routes answer 503 without it
	Gatherer   prometheus.Gatherer // defaults to prometheus.DefaultGatherer
}

// Server is the HTTP server for the codepad web UI and API.
type Server struct {
	cfg        *config.Config
	log        *zap.Logger
	langs      Languages
	dispatcher *dispatch.Dispatcher
	previews   preview.Store
	store      storage.Store
	gatherer   prometheus.Gatherer
	sessions   *session.Manager
	limiter    *rateLimiter
	router     chi.Router
	http       *http.Server
	stop       context.CancelFunc
}

// New creates a new Server.
func New(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	s := &Server{
		cfg:        d.Config,
		log:        log,
		langs:      d.Languages,
		dispatcher: d.Dispatcher,
		previews:   d.Previews,
		store:      d.Store,
		gatherer:   gatherer,
		sessions:   session.NewManager(d.Languages),
		limiter:    newRateLimiter(d.Config.Server.RateLimit, d.Config.Server.RateBurst),
		router:     chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	r := s.router

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/preview/{id}", s.handlePreview)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)

		r.Get("/languages", s.handleListLanguages)
		r.With(s.limiter.middleware).Post("/run", s.handleRun)

		// Sessions
		r.Post("/sessions", s.handleCreateSession)
		r.Get("/sessions/{id}", s.handleGetSession)
		r.Patch("/sessions/{id}", s.handleUpdateSession)
		r.Delete("/sessions/{id}", s.handleDeleteSession)
		r.Put("/sessions/{id}/language", s.handleSetLanguage)
		r.Put("/sessions/{id}/source", s.handleEditSource)
		r.With(s.limiter.middleware).Post("/sessions/{id}/run", s.handleRunSession)

		// WebSocket
		r.Get("/sessions/{id}/ws", s.handleWebSocket)

		// Snippets
		r.Get("/snippets", s.handleListSnippets)
		r.Post("/snippets", s.handleCreateSnippet)
		r.Get("/snippets/{id}", s.handleGetSnippet)
		r.Delete("/snippets/{id}", s.handleDeleteSnippet)
		r.Get("/snippets/{id}/export", s.handleExportSnippet)
	})

	// SPA fallback
	r.Handle("/*", spaHandler())
}

// jsonContentType sets Content-Type to application/json for API routes.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with zap.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				log.Info("http request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("duration", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Start begins listening on the given port and expires idle sessions in the
// background until Shutdown.
func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.stop = cancel
	go s.expireSessions(ctx)
	go s.limiter.sweep(ctx, time.Minute)

	s.log.Info("codepad server starting", zap.String("url", "http://localhost"+addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) expireSessions(ctx context.Context) {
	ttl := s.cfg.Server.SessionTTL
	if ttl <= 0 {
		return
	}
	t := time.NewTicker(ttl / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n := s.sessions.Expire(ttl); n > 0 {
				s.log.Info("expired idle sessions", zap.Int("count", n))
			}
		}
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down server")
	if s.stop != nil {
		s.stop()
	}
	s.sessions.CloseAll()

	if s.http == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	return s.http.Shutdown(shutdownCtx)
}
