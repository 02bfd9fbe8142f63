package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ReadyFunc сообщает, готов ли процесс обслуживать запросы.
type ReadyFunc func(ctx context.Context) error

// Option настраивает Server.
type Option func(*Server)

// WithReadiness подключает /readyz к проверке probe.
func WithReadiness(probe ReadyFunc) Option {
	return func(s *Server) { s.ready = probe }
}

// Server — HTTP-поверхность шлюза: health, readiness, метрики и webhook.
type Server struct {
	Router chi.Router
	log    zerolog.Logger
	ready  ReadyFunc
	srv    *http.Server
}

func NewServer(logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{Router: chi.NewRouter(), log: logger}
	for _, opt := range opts {
		opt(s)
	}
	s.Router.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	s.Router.Use(middleware.Timeout(30 * time.Second))
	s.Router.Get("/healthz", s.healthz)
	s.Router.Get("/readyz", s.readyz)
	s.Router.Handle("/metrics", promhttp.Handler())
	return s
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			s.log.Warn().Err(err).Msg("проверка готовности не прошла")
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ready"))
}

// Start слушает addr и возвращается только после остановки сервера.
func (s *Server) Start(addr string) error {
	s.srv = &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	s.log.Info().Str("addr", addr).Msg("HTTP сервер запущен")
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
