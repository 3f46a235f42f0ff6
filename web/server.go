// Package web serves the dashboard API, the live view stream and the
// cached static pages.
package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/mjasion/balena-home/dashboard/backend"
	"github.com/mjasion/balena-home/dashboard/state"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Controller is the command surface the API exposes
type Controller interface {
	SetDevice(ctx context.Context, name string, on bool) error
	SelectMode(ctx context.Context, target state.Mode) (bool, error)
}

// Options wires the server to the rest of the service
type Options struct {
	Port    int
	Variant backend.Variant
	Store   *state.Store
	// Controller may be nil for variants without controls
	Controller Controller
	Health     http.Handler
	// Static serves every path the router does not know; nil answers 404
	Static http.Handler
}

// Server is the dashboard HTTP server
type Server struct {
	opts   Options
	router *mux.Router
	server *http.Server
	logger *zap.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// New creates a Server and registers its routes
func New(opts Options, logger *zap.Logger) *Server {
	s := &Server{
		opts:    opts,
		router:  mux.NewRouter(),
		logger:  logger,
		closing: make(chan struct{}),
	}
	s.routes()
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/view", s.handleView).Methods(http.MethodGet)
	api.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	api.HandleFunc("/devices/{device}/{action}", s.handleDevice).Methods(http.MethodPost)
	api.HandleFunc("/mode/{mode}", s.handleMode).Methods(http.MethodPost)

	if s.opts.Health != nil {
		s.router.Handle("/health", s.opts.Health).Methods(http.MethodGet)
	}
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if s.opts.Static != nil {
		s.router.NotFoundHandler = s.opts.Static
	}
}

// Handler returns the router wrapped in the server middleware
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.router
	h = compress(h)
	h = handlers.CustomLoggingHandler(nil, h, accessLog(s.logger))
	h = handlers.ProxyHeaders(h)
	h = handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(true),
	)(h)
	return otelhttp.NewHandler(h, "dashboard",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health" && r.URL.Path != "/metrics"
		}),
	)
}

// Start listens until Shutdown is called
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown closes WebSocket streams, stops accepting connections and
// waits for active requests
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.closing) })
	return s.server.Shutdown(ctx)
}

// compress gzips everything except WebSocket upgrades, which need the raw
// connection
func compress(next http.Handler) http.Handler {
	gz := gziphandler.GzipHandler(next)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			next.ServeHTTP(w, r)
			return
		}
		gz.ServeHTTP(w, r)
	})
}
