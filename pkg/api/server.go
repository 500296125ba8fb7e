// Package api exposes the engine over HTTP. Routes live under /api; the
// operational endpoints (/health, /metrics) sit at the root.
package api

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/waveq/waveq-engine/pkg/auth"
	"github.com/waveq/waveq-engine/pkg/engine"
	"github.com/waveq/waveq-engine/pkg/metrics"
	"github.com/waveq/waveq-engine/pkg/middleware"
	"github.com/waveq/waveq-engine/pkg/ratelimit"
	"github.com/waveq/waveq-engine/pkg/status"
	"github.com/waveq/waveq-engine/pkg/tracing"
)

// Config holds the HTTP surface settings.
type Config struct {
	ListenAddr string
	// RateRPS and RateBurst size the per-client token bucket. RateRPS <= 0
	// disables rate limiting.
	RateRPS   float64
	RateBurst int
	// APIKeys, when non-empty, gates /api behind bearer key auth.
	// /health and /metrics stay open for probes and scrapers.
	APIKeys []string
	// TLS, when set, makes ListenAndServe serve HTTPS. The config must
	// carry its certificates.
	TLS *tls.Config
}

// Server routes HTTP traffic to the engine.
type Server struct {
	engine  *engine.Engine
	broker  *status.Broker
	met     *metrics.Metrics
	log     *zap.Logger
	cfg     Config
	started time.Time

	httpServer *http.Server
}

func NewServer(eng *engine.Engine, broker *status.Broker, met *metrics.Metrics,
	tracer *tracing.Provider, log *zap.Logger, cfg Config) (*Server, error) {
	s := &Server{
		engine:  eng,
		broker:  broker,
		met:     met,
		log:     log,
		cfg:     cfg,
		started: time.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.logMiddleware)
	r.Use(middleware.WithClientID)
	if tracer != nil {
		r.Use(tracing.HTTPMiddleware(tracer))
	}

	apiRouter := r.PathPrefix("/api").Subrouter()
	if len(cfg.APIKeys) > 0 {
		keyring, err := auth.NewKeyring(cfg.APIKeys)
		if err != nil {
			return nil, err
		}
		apiRouter.Use(keyring.Middleware)
		log.Info("api key auth enabled", zap.Int("keys", keyring.Len()))
	}
	if cfg.RateRPS > 0 {
		limiter := ratelimit.NewLimiter(cfg.RateRPS, cfg.RateBurst)
		apiRouter.Use(limiter.Middleware(ratelimit.ClientKey))
	}

	apiRouter.HandleFunc("/requests", s.SubmitRequest).Methods(http.MethodPost)
	apiRouter.HandleFunc("/requests", s.ListRequests).Methods(http.MethodGet)
	apiRouter.HandleFunc("/requests/{id}", s.GetRequest).Methods(http.MethodGet)
	apiRouter.HandleFunc("/requests/{id}", s.DeleteRequest).Methods(http.MethodDelete)
	apiRouter.HandleFunc("/requests/{id}/cancel", s.CancelRequest).Methods(http.MethodPost)
	apiRouter.HandleFunc("/requests/{id}/events", s.StreamEvents).Methods(http.MethodGet)
	apiRouter.HandleFunc("/operations", s.ListOperations).Methods(http.MethodGet)
	apiRouter.HandleFunc("/queue", s.QueueStats).Methods(http.MethodGet)

	r.HandleFunc("/health", s.Health).Methods(http.MethodGet)
	r.Handle("/metrics", met.Handler()).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		TLSConfig:    cfg.TLS,
	}
	return s, nil
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler { return s.httpServer.Handler }

// ListenAndServe blocks serving HTTP, or HTTPS when the config carries a
// TLS setup, until Shutdown.
func (s *Server) ListenAndServe() error {
	s.log.Info("api listening",
		zap.String("addr", s.cfg.ListenAddr),
		zap.Bool("tls", s.httpServer.TLSConfig != nil))
	if s.httpServer.TLSConfig != nil {
		return s.httpServer.ListenAndServeTLS("", "")
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.code),
			zap.Duration("elapsed", time.Since(start)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush keeps the SSE endpoint working behind the logging wrapper.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
