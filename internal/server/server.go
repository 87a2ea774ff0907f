// Package server is the HTTP front of the proxy: the chat completion relay,
// the thinking diagnostic stream, the config API, and request records.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/thinkgate-dev/thinkgate/internal/config"
	"github.com/thinkgate-dev/thinkgate/internal/obs"
	"github.com/thinkgate-dev/thinkgate/internal/record"
	"github.com/thinkgate-dev/thinkgate/internal/server/middleware"
	"github.com/thinkgate-dev/thinkgate/internal/thinking"
)

// Server wires the HTTP surface to the config store, the thinking bus, and
// the optional record and metric sinks.
type Server struct {
	store   *config.Store
	bus     *thinking.Bus
	records *record.Store
	metrics *obs.ProxyMetrics
	capture *middleware.Capture
	client  *http.Client

	host string
	port int

	engine     *gin.Engine
	httpServer *http.Server
	listener   net.Listener
}

// Option customizes a Server at construction.
type Option func(*Server)

// WithHost sets the bind address. Default is loopback.
func WithHost(host string) Option {
	return func(s *Server) { s.host = host }
}

// WithPort overrides the configured listen port.
func WithPort(port int) Option {
	return func(s *Server) { s.port = port }
}

// WithRecordStore attaches the request record database.
func WithRecordStore(store *record.Store) Option {
	return func(s *Server) { s.records = store }
}

// WithMetrics attaches the proxy meters.
func WithMetrics(metrics *obs.ProxyMetrics) Option {
	return func(s *Server) { s.metrics = metrics }
}

// WithCapture attaches the debug capture middleware.
func WithCapture(capture *middleware.Capture) Option {
	return func(s *Server) { s.capture = capture }
}

// New assembles the engine and routes. The store must already be loaded.
func New(store *config.Store, opts ...Option) *Server {
	s := &Server{
		store:  store,
		bus:    thinking.NewBus(),
		client: newUpstreamClient(),
		host:   "127.0.0.1",
		port:   store.Proxy().Port,
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(gin.ReleaseMode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.engine.Use(middleware.CORS())
	if s.capture != nil {
		s.engine.Use(s.capture.Middleware())
	}
	s.engine.Use(middleware.NewRecorder(s.records, s.metrics).Middleware())
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)

	auth := middleware.APIKeyAuth(func() string { return s.store.Proxy().APIKey })
	v1 := s.engine.Group("/v1", auth)
	v1.POST("/chat/completions", s.handleChatCompletions)
	v1.GET("/models", s.handleModels)
	v1.GET("/thinking/stream", s.handleThinkingStream)
	v1.GET("/requests", s.handleListRequests)
	v1.GET("/requests/summary", s.handleRequestSummary)

	cfg := v1.Group("/config")
	cfg.GET("/reasoning/types", s.handleReasoningTypes)
	cfg.GET("/proxy", s.handleGetProxy)
	cfg.PUT("/proxy", s.handleUpdateProxy)
	cfg.GET("/profiles", s.handleListProfiles)
	cfg.POST("/profiles", s.handleCreateProfile)
	cfg.GET("/profiles/:id", s.handleGetProfile)
	cfg.PUT("/profiles/:id", s.handleUpdateProfile)
	cfg.DELETE("/profiles/:id", s.handleDeleteProfile)
	cfg.POST("/profiles/test", s.handleTestProfiles)
	cfg.PUT("/default-profile", s.handleSetDefaultProfile)
	cfg.GET("/export", s.handleExportConfig)
	cfg.POST("/import", s.handleImportConfig)
}

// Start binds the listener and serves in the background. Binding happens
// here, not in the serve goroutine, so an occupied port surfaces to the
// caller immediately.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.host, strconv.Itoa(s.port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	s.listener = ln
	s.httpServer = &http.Server{Handler: s.engine}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Error("proxy server stopped unexpectedly")
		}
	}()

	logrus.WithField("addr", addr).Info("proxy server listening")
	return nil
}

// Stop drains in-flight requests and tears down the bus so thinking
// subscribers stop receiving. Requests still running at the context deadline
// are cut off.
func (s *Server) Stop(ctx context.Context) error {
	s.bus.Close()
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Port returns the bound port, which differs from the configured one when
// the server was started on port 0.
func (s *Server) Port() int {
	if s.listener == nil {
		return s.port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Bus exposes the thinking bus for publishers and tests.
func (s *Server) Bus() *thinking.Bus {
	return s.bus
}

// GetRouter exposes the engine for handler tests.
func (s *Server) GetRouter() *gin.Engine {
	return s.engine
}
