// Package server is the HTTP surface: invitations, inbound messages, admin and metrics.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/suspectuso/pay-anchor/internal/intent"
	"github.com/suspectuso/pay-anchor/internal/ledger"
	"github.com/suspectuso/pay-anchor/internal/pipeline"
)

// Pipeline is the intent state machine.
type Pipeline interface {
	HandleInbound(ctx context.Context, in pipeline.Inbound) (pipeline.Outcome, error)
	CreateInvite(ctx context.Context, inv pipeline.Invite) (*intent.PaymentIntent, error)
}

// IntentReader looks up a single intent.
type IntentReader interface {
	Get(ctx context.Context, code string) (*intent.PaymentIntent, error)
}

// Confirmer forces SENT_ON_CHAIN intents to SUCCESS.
type Confirmer interface {
	ForceConfirm(ctx context.Context) (int, error)
}

// Debugger reads contract state for the admin view.
type Debugger interface {
	Debug(ctx context.Context) ledger.Snapshot
}

// Server handles HTTP requests
type Server struct {
	pipeline   Pipeline
	intents    IntentReader
	confirmer  Confirmer
	debugger   Debugger
	gatherer   prometheus.Gatherer
	adminToken string
	log        *slog.Logger

	inflight sync.WaitGroup
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithAdminToken requires "Authorization: Bearer <token>" on /admin routes.
func WithAdminToken(token string) Option {
	return func(s *Server) { s.adminToken = token }
}

// WithDebugger enables the contract snapshot on /admin/debug.
func WithDebugger(d Debugger) Option {
	return func(s *Server) { s.debugger = d }
}

// WithGatherer sets the registry served on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// New creates a new HTTP server
func New(p Pipeline, intents IntentReader, confirmer Confirmer, log *slog.Logger, opts ...Option) *Server {
	s := &Server{
		pipeline:  p,
		intents:   intents,
		confirmer: confirmer,
		gatherer:  prometheus.DefaultGatherer,
		log:       log,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Post("/intents", s.handleCreateIntent)
	r.Get("/intents/{code}", s.handleGetIntent)
	r.Post("/sms/inbound", s.handleInbound)

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.requireAdmin)
		r.Post("/confirm-all", s.handleConfirmAll)
		r.Post("/reprocess/{code}", s.handleReprocess)
		r.Get("/debug", s.handleDebug)
	})
	return r
}

// Start serves on port until ctx is cancelled, then shuts down and waits for
// inbound messages still being processed.
func (s *Server) Start(ctx context.Context, port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	s.log.Info("starting http server", "port", port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", "error", err)
	}
	s.inflight.Wait()

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// requireAdmin is a no-op when no admin token is configured.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" && !s.hasAdminToken(r) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false, "error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hasAdminToken reports whether r carries the configured bearer token.
// It is always false when no token is configured.
func (s *Server) hasAdminToken(r *http.Request) bool {
	if s.adminToken == "" {
		return false
	}
	got := r.Header.Get("Authorization")
	want := "Bearer " + s.adminToken
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
