// Package server exposes the proxy boundary, the wizard sessions, pipeline
// runs, and monitoring over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadify-flow/internal/config"
	"github.com/sells-group/leadify-flow/internal/fallback"
	"github.com/sells-group/leadify-flow/internal/model"
	"github.com/sells-group/leadify-flow/internal/monitoring"
	"github.com/sells-group/leadify-flow/internal/pipeline"
	"github.com/sells-group/leadify-flow/internal/session"
	"github.com/sells-group/leadify-flow/internal/store"
	"github.com/sells-group/leadify-flow/pkg/backend"
)

const shutdownTimeout = 15 * time.Second

// RunService creates and executes pipeline runs. *pipeline.Pipeline
// satisfies it.
type RunService interface {
	CreateRun(ctx context.Context, input model.Input) (*model.Run, error)
	Run(ctx context.Context, input model.Input, opts ...pipeline.RunOption) (*model.RunResult, error)
}

// MetricsSource builds a monitoring snapshot. *monitoring.Collector
// satisfies it.
type MetricsSource interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.MetricsSnapshot, error)
}

// Deps are the server's collaborators. Any of them may be nil, in which case
// the routes that need it answer 503.
type Deps struct {
	Backend       backend.Client
	Fallback      *fallback.Provider
	Runs          RunService
	Store         store.Store
	Sessions      *session.Manager
	Metrics       MetricsSource
	LookbackHours int
}

// Server is the HTTP API.
type Server struct {
	cfg  config.ServerConfig
	deps Deps

	// ctx bounds background runs started by POST /api/runs.
	ctx context.Context
	wg  sync.WaitGroup
}

// New creates a Server. Background runs are cancelled when ctx is.
func New(ctx context.Context, cfg config.ServerConfig, deps Deps) *Server {
	if deps.LookbackHours <= 0 {
		deps.LookbackHours = 24
	}
	return &Server{cfg: cfg, deps: deps, ctx: ctx}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{headerFallback},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/keywords", s.proxy(backend.PathKeywords))
		r.Post("/queries", s.proxy(backend.PathQueries))
		r.Post("/linkd", s.proxy(backend.PathLinkd))
		r.Post("/outreach", s.proxy(backend.PathOutreach))
		r.Post("/quality_check", s.proxy(backend.PathQualityCheck))
		r.Post("/ranking", s.handleRanking)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDeleteSession)
				r.Post("/messages", s.handlePostMessage)
				r.Post("/reset", s.handleResetSession)
				r.Get("/events", s.handleSessionEvents)
			})
		})

		r.Route("/runs", func(r chi.Router) {
			r.Post("/", s.handleCreateRun)
			r.Get("/", s.handleListRuns)
			r.Get("/{runID}", s.handleGetRun)
			r.Get("/{runID}/stages", s.handleListStages)
			r.Get("/{runID}/export", s.handleExportRun)
		})

		r.Get("/metrics", s.handleMetrics)
	})

	return r
}

// ListenAndServe serves on the configured port until ctx is cancelled, then
// shuts down gracefully and waits for background runs.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- eris.Wrap(err, "server: listen")
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server: shutdown")
	}
	s.Wait()
	return nil
}

// Wait blocks until every background run has returned.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
