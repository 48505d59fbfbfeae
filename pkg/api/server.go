// Package api serves user lookups over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// statsInterval is how often the cache gauges are refreshed
const statsInterval = 15 * time.Second

// Server holds the API server state
type Server struct {
	engine  Searcher
	config  ServerConfig
	metrics *Metrics
	logger  *zap.Logger

	// mutex gives one query at a time the backend's stream
	mutex sync.Mutex
	group singleflight.Group
}

// NewServer creates a new API server
func NewServer(engine Searcher, config ServerConfig, metrics *Metrics, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = 1
	}
	return &Server{
		engine:  engine,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// Router builds the HTTP routes
func (s *Server) Router() http.Handler {
	origins := s.config.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{requestIDHeader, "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.metrics.InstrumentHandler("GET", "/api/v1/health", s.handleHealth))
		r.Get("/users/{query}", s.metrics.InstrumentHandler("GET", "/api/v1/users/{query}", s.handleUsers))
		r.Get("/plan/{query}", s.metrics.InstrumentHandler("GET", "/api/v1/plan/{query}", s.handlePlan))
		r.Get("/stats", s.metrics.InstrumentHandler("GET", "/api/v1/stats", s.handleStats))
	})

	return r
}

// StartServer serves until ctx is cancelled, then shuts down gracefully
func StartServer(ctx context.Context, s *Server) error {
	addr := net.JoinHostPort(s.config.Bind, strconv.Itoa(s.config.Port))
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.startMetricsUpdater(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting userdots API server",
			zap.String("addr", addr),
			zap.String("metrics", fmt.Sprintf("http://%s/metrics", addr)),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("shutting down API server")
		return httpServer.Shutdown(shutdownCtx)
	}
}

// startMetricsUpdater refreshes the cache gauges until ctx is done
func (s *Server) startMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	s.metrics.UpdateCacheStats(s.engine.Backend().Stats())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.metrics.UpdateCacheStats(s.engine.Backend().Stats())
		}
	}
}
