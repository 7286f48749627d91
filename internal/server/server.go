// Package server exposes configuration and manual runs over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/xkilldash9x/worklog-cli/internal/config"
	"github.com/xkilldash9x/worklog-cli/internal/store"
	"github.com/xkilldash9x/worklog-cli/internal/worklog"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const serviceName = "Worklog Automation"

// Runner is satisfied by *worklog.Batch.
type Runner interface {
	RunOne(ctx context.Context, creds worklog.Credentials) *worklog.Result
	RunAll(ctx context.Context) (worklog.Summary, error)
	Busy() bool
}

// Server holds the HTTP handlers and their dependencies.
type Server struct {
	cfg      config.ServerConfig
	defaults config.ContentDefaults
	store    store.Backend
	runner   Runner
	limiter  *rate.Limiter
	logger   *zap.Logger
	now      func() time.Time
	router   chi.Router
}

// New builds the router. Manual runs share one limiter allowing
// cfg.RunRateLimit runs per minute.
func New(cfg config.ServerConfig, defaults config.ContentDefaults, backend store.Backend, runner Runner, logger *zap.Logger) (*Server, error) {
	if backend == nil || runner == nil || logger == nil {
		return nil, errors.New("cannot initialize server with nil dependencies")
	}
	if cfg.RunRateLimit <= 0 {
		return nil, fmt.Errorf("run rate limit must be positive, got %d", cfg.RunRateLimit)
	}
	s := &Server{
		cfg:      cfg,
		defaults: defaults,
		store:    backend,
		runner:   runner,
		limiter:  rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RunRateLimit)), cfg.RunRateLimit),
		logger:   logger.Named("server"),
		now:      time.Now,
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)

	compressor := chimw.NewCompressor(5, "application/json", "text/plain")
	compressor.SetEncoder("br", func(w io.Writer, level int) io.Writer {
		return brotli.NewWriterLevel(w, level)
	})
	r.Use(compressor.Handler)

	r.Get("/health", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/config/save", s.handleSaveConfig)
		r.Get("/users", s.handleListUsers)
		r.Get("/users/{id}/screenshots", s.handleScreenshots)
		r.Post("/reset", s.handleReset)

		r.Group(func(r chi.Router) {
			r.Use(s.throttle)
			r.Post("/run", s.handleRun)
			r.Post("/run/all", s.handleRunAll)
		})
	})
	return r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is ListenAndServe on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: s.cfg.ReadTimeout,
		WriteTimeout:      s.cfg.WriteTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening.", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	s.logger.Info("HTTP server shutting down.")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeJSON(w, http.StatusTooManyRequests, statusMessage{
				Status:  "error",
				Message: "Too many manual runs; try again later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per request with zap.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("Request served.",
					zap.String("request_id", chimw.GetReqID(r.Context())),
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("took", time.Since(start)))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
