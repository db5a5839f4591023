package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "offsetledger/internal/log"
	"offsetledger/internal/services"
)

// Pinger reports backend liveness for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	http.Server
	ledger      *services.LedgerService
	pinger      Pinger
	rateLimiter *rateLimiter
	logger      *applog.Logger

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, ledger *services.LedgerService, pinger Pinger, logger *applog.Logger) *Server {
	s := &Server{
		ledger:      ledger,
		pinger:      pinger,
		rateLimiter: newRateLimiter(),
		logger:      logger.WithComponent(applog.ComponentHTTP),
	}

	r := chi.NewRouter()
	r.Use(applog.Middleware(s.logger))
	r.Use(requestID)
	r.Use(applog.RequestIDMiddleware(extractRequestID))
	r.Use(requestLogger)
	r.Use(securityHeaders)
	r.Use(metricsMiddleware)
	r.Use(s.rateLimitMutations)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/offset-initial-data", s.handleInitialData)
	r.Post("/offset-transactions", s.handleCreateTransaction)
	r.Put("/offset-transactions/{id}", s.handleUpdateTransaction)
	r.Post("/offset-transactions/split", s.handleSplitTransaction)

	r.Route("/transactions/{id}/split-config", func(r chi.Router) {
		r.Get("/", s.handleGetSplitConfig)
		r.Put("/", s.handleSetSplitConfig)
		r.Post("/", s.handleSetSplitConfig)
		r.Delete("/", s.handleDeleteSplitConfig)
	})

	r.Post("/refresh-offset-bank-feeds", s.handleRefreshFeeds)
	r.Get("/settings", s.handleGetSettings)
	r.Put("/settings", s.handleUpdateSettings)
	r.Get("/offset-buckets", s.handleBuckets)

	s.Server.Addr = addr
	s.Server.Handler = r
	s.Server.ReadTimeout = 10 * time.Second
	s.Server.WriteTimeout = 30 * time.Second
	s.Server.IdleTimeout = 60 * time.Second

	return s
}

// Shutdown stops the server and its background goroutines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		if s.rateLimiter != nil {
			s.rateLimiter.stop()
		}
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", applog.FieldError, err.Error())
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
