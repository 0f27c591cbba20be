package web

import (
	"context"
	"net/http"

	"docsum/internal/config"
	"docsum/internal/resolver"
	"docsum/internal/store"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Pinger reports whether the backing Redis is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Server struct {
	store     store.Store
	submitter *resolver.Submitter
	pinger    Pinger
	limiter   *rateLimiter
	logger    *zap.Logger
	router    *mux.Router
	server    *http.Server
	cfg       config.HTTPConfig
}

func NewServer(st store.Store, submitter *resolver.Submitter, pinger Pinger, cfg config.HTTPConfig, limits config.RateLimitConfig, logger *zap.Logger) *Server {
	s := &Server{
		store:     st,
		submitter: submitter,
		pinger:    pinger,
		limiter:   newRateLimiter(limits.RPS, limits.Burst),
		logger:    logger,
		router:    mux.NewRouter(),
		cfg:       cfg,
	}
	s.routes()
	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	// Ops
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	// API Routes
	s.router.Handle("/documents", s.rateLimit(http.HandlerFunc(s.handleSubmit))).Methods("POST")
	s.router.HandleFunc("/documents", s.handleList).Methods("GET")
	s.router.HandleFunc("/documents/{id}", s.handleGet).Methods("GET")
	s.router.HandleFunc("/documents/{id}/text", s.handleText).Methods("GET")
}

// ServeHTTP lets tests drive the router without a listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start launches the HTTP server
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.cfg.Addr))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
