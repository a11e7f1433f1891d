/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package api exposes the engine's local control plane: scheduler
// lifecycle, one-shot monitor execution, alert acknowledgement/recovery
// and alert listing (spec.md 6). Monitor CRUD and any administrative UI
// are out of scope; this is the one HTTP surface the engine owns.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sentryguard/sentryguard/internal/metrics"
	"github.com/sentryguard/sentryguard/internal/monitor"
	"github.com/sentryguard/sentryguard/internal/repository"
)

// Scheduler is the subset of scheduler.Scheduler the control plane drives.
type Scheduler interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
	ExecuteNow(ctx context.Context, monitorID string) error
}

// Recoverer is the subset of recovery.Executor the control plane drives.
type Recoverer interface {
	TriggerRecovery(ctx context.Context, m *monitor.Monitor, alert *monitor.Alert) (int, error)
}

// Server is the control-plane HTTP server.
type Server struct {
	addr      string
	startTime time.Time
	srv       *http.Server
	handlers  *Handlers
	logger    zerolog.Logger
}

// Options configures a Server.
type Options struct {
	Addr       string
	Repo       repository.Repository
	Scheduler  Scheduler
	Recoverer  Recoverer
	Logger     zerolog.Logger
}

// New builds a control-plane Server. It does not start listening.
func New(opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = ":8080"
	}
	return &Server{
		addr:      opts.Addr,
		startTime: time.Now(),
		handlers:  newHandlers(opts.Repo, opts.Scheduler, opts.Recoverer),
		logger:    opts.Logger.With().Str("component", "api").Logger(),
	}
}

// Run starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("starting control plane")
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("shutting down control plane")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(shutdownCtx)
}

func (s *Server) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		defer func() {
			s.logger.Info().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()
		next.ServeHTTP(ww, r)
	})
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(s.logRequest)

	r.Get("/health", s.handlers.GetHealth)
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	r.Post("/scheduler/start", s.handlers.StartScheduler)
	r.Post("/scheduler/stop", s.handlers.StopScheduler)
	r.Get("/scheduler/status", s.handlers.SchedulerStatus)

	r.Post("/monitors/{id}/execute", s.handlers.ExecuteMonitor)

	r.Post("/alerts/{id}/acknowledge", s.handlers.AcknowledgeAlert)
	r.Post("/alerts/{id}/recover", s.handlers.RecoverAlert)
	r.Get("/alerts", s.handlers.ListAlerts)

	return r
}
