package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sirosfoundation/kettle/internal/handler"
	"github.com/sirosfoundation/kettle/internal/lifecycle"
	"github.com/sirosfoundation/kettle/internal/metrics"
	"github.com/sirosfoundation/kettle/internal/router"
	"github.com/sirosfoundation/kettle/internal/transport"
	"github.com/sirosfoundation/kettle/pkg/config"
	"github.com/sirosfoundation/kettle/pkg/logging"
	"github.com/sirosfoundation/kettle/pkg/middleware"
)

var (
	// ErrAlreadyStarted is returned by Start on a server that was started before
	ErrAlreadyStarted = errors.New("server already started")
)

// Route is what the routing table resolves to
type Route struct {
	Kind    lifecycle.Kind
	Handler lifecycle.Handler
	// Name is the handler name from configuration, empty for programmatic routes
	Name string
}

// Option configures a Server
type Option func(*Server)

// WithRegistry sets the handler registry configured routes are resolved against
func WithRegistry(r *handler.Registry) Option {
	return func(s *Server) {
		s.handlers = r
	}
}

// WithHandshake appends middleware to the socket handshake chain
func WithHandshake(m ...lifecycle.Middleware) Option {
	return func(s *Server) {
		s.handshake = append(s.handshake, m...)
	}
}

// Server is one HTTP listener serving a routing table over HTTP, WebSocket and
// socket-event transports
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	handlers  *handler.Registry
	handshake []lifecycle.Middleware
	routes    *router.Table[Route]
	metrics   *metrics.Metrics
	limiter   *middleware.RateLimiter

	engine *gin.Engine
	http   *transport.HTTP
	ws     *transport.WebSocket
	events *transport.EventSocket

	mu         sync.Mutex
	started    bool
	startedAt  time.Time
	listener   net.Listener
	httpServer *http.Server

	listening   chan struct{}
	stopped     chan struct{}
	stoppedOnce sync.Once
}

// New creates a server from cfg and registers its configured routes
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logging.ForServer(logger, cfg.Server.Name).Named("server")
	s := &Server{
		cfg:       cfg,
		logger:    logger,
		routes:    router.New[Route](),
		metrics:   metrics.New(cfg.Server.Name),
		listening: make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.handlers == nil {
		s.handlers = handler.NewRegistry()
	}

	if cfg.RateLimit.Enabled {
		s.limiter = middleware.NewRateLimiter(cfg.RateLimit, logger)
		s.handshake = append([]lifecycle.Middleware{s.limiter.Handshake()}, s.handshake...)
	}
	if cfg.Handshake.JWTSecret != "" {
		s.handshake = append(s.handshake, middleware.BearerToken(cfg.Handshake.JWTSecret, cfg.Handshake.TokenParam, logger))
	}

	topts := transport.Options{
		Logger:   logger,
		Observer: s.metrics,
		Codec: transport.Codec{
			JSONReceive: cfg.Transport.JSONReceive,
			JSONSend:    cfg.Transport.JSONSend,
		},
		Handshake:       s.handshake,
		ReadBufferSize:  cfg.Transport.ReadBufferSize,
		WriteBufferSize: cfg.Transport.WriteBufferSize,
		MessageBuffer:   cfg.Transport.MessageBuffer,
	}
	s.http = transport.NewHTTP(topts)
	s.ws = transport.NewWebSocket(topts)
	s.events = transport.NewEventSocket(topts)

	for i, rc := range cfg.Routes {
		if err := s.addConfigured(rc); err != nil {
			return nil, fmt.Errorf("route %d (%s %s): %w", i, rc.Method, rc.Route, err)
		}
	}

	s.engine = s.buildRouter()
	return s, nil
}

func (s *Server) addConfigured(rc config.RouteConfig) error {
	kind, err := lifecycle.ParseKind(rc.Transport)
	if err != nil {
		return err
	}
	h, err := s.handlers.Get(rc.Handler)
	if err != nil {
		return err
	}
	method := rc.Method
	if method == "" {
		method = http.MethodGet
	}
	_, err = s.routes.Register(router.Route[Route]{
		Method:  method,
		Pattern: rc.Route,
		Handler: Route{Kind: kind, Handler: h, Name: rc.Handler},
	})
	return err
}

// Handle appends a route. Routes registered while serving are matched after all
// earlier ones.
func (s *Server) Handle(kind lifecycle.Kind, method, pattern string, h lifecycle.Handler) error {
	_, err := s.routes.Register(router.Route[Route]{
		Method:  method,
		Pattern: pattern,
		Handler: Route{Kind: kind, Handler: h},
	})
	return err
}

// buildRouter creates the gin engine with common middleware; every request that is
// not a built-in endpoint is dispatched through the routing table
func (s *Server) buildRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Logger(s.logger))
	r.Use(cors.New(corsConfig(s.cfg.CORS)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	admin := r.Group("/")
	if s.limiter != nil {
		admin.Use(s.limiter.Gin())
	}
	if s.cfg.Server.AdminToken != "" {
		admin.Use(middleware.AdminAuth(s.cfg.Server.AdminToken, s.logger))
	}
	admin.GET("/status", s.status)
	if s.cfg.Metrics.Enabled {
		admin.GET(s.cfg.Metrics.Path, gin.WrapH(s.metrics.Handler()))
	}

	r.NoRoute(s.dispatch)
	return r
}

func corsConfig(c config.CORSConfig) cors.Config {
	cc := cors.Config{
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		AllowCredentials: c.AllowCredentials,
		MaxAge:           c.MaxAge,
	}
	for _, o := range c.AllowOrigins {
		if o == "*" {
			cc.AllowAllOrigins = true
		}
	}
	if len(c.AllowOrigins) == 0 {
		cc.AllowAllOrigins = true
	}
	if !cc.AllowAllOrigins {
		cc.AllowOrigins = c.AllowOrigins
	}
	return cc
}

// dispatch resolves a request against the routing table and hands it to the
// adapter for the route's transport
func (s *Server) dispatch(c *gin.Context) {
	m, ok, err := s.routes.MatchRequest(c.Request)
	if err != nil {
		s.metrics.Unmatched(metrics.ReasonDecodeError)
		c.JSON(lifecycle.StatusOf(err), lifecycle.NewErrorFrame(err))
		return
	}
	if !ok {
		s.metrics.Unmatched(metrics.ReasonNoMatch)
		c.JSON(http.StatusNotFound, lifecycle.ErrorFrame{
			IsError: true,
			Message: fmt.Sprintf("no route for %s %s", c.Request.Method, c.Request.URL.Path),
		})
		return
	}

	route := m.Handler
	switch route.Kind {
	case lifecycle.KindWebSocket:
		s.ws.Serve(c, route.Handler, m.Params)
	case lifecycle.KindSocketEvent:
		s.events.Serve(c, route.Handler, m.Params)
	default:
		if s.limiter != nil && !s.limiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, lifecycle.ErrorFrame{IsError: true, Message: "Too many requests. Please try again later."})
			return
		}
		s.http.Serve(c, route.Handler, m.Params)
	}
}

// StatusResponse is the body of the status endpoint
type StatusResponse struct {
	Status      string         `json:"status"`
	Service     string         `json:"service"`
	Address     string         `json:"address,omitempty"`
	Uptime      string         `json:"uptime,omitempty"`
	Routes      []RouteStatus  `json:"routes"`
	Connections map[string]int `json:"connections"`
}

// RouteStatus describes one routing table entry
type RouteStatus struct {
	Method    string `json:"method"`
	Route     string `json:"route"`
	Transport string `json:"transport"`
	Handler   string `json:"handler,omitempty"`
}

func (s *Server) status(c *gin.Context) {
	resp := StatusResponse{
		Status:  "ok",
		Service: s.Name(),
		Address: s.Addr(),
		Routes:  make([]RouteStatus, 0, s.routes.Len()),
		Connections: map[string]int{
			string(lifecycle.KindWebSocket):   s.ws.Count(),
			string(lifecycle.KindSocketEvent): s.events.Count(),
		},
	}
	s.mu.Lock()
	if !s.startedAt.IsZero() {
		resp.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	s.mu.Unlock()
	for _, e := range s.routes.Entries() {
		resp.Routes = append(resp.Routes, RouteStatus{
			Method:    strings.ToUpper(e.Method),
			Route:     e.Pattern,
			Transport: string(e.Handler.Kind),
			Handler:   e.Handler.Name,
		})
	}
	c.JSON(http.StatusOK, resp)
}

// Start binds the listener and serves in the background. OnListen is closed once
// the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	addr := s.cfg.Server.Address()
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		s.markStopped()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	s.mu.Lock()
	s.listener = ln
	s.httpServer = srv
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("Server listening", zap.String("address", ln.Addr().String()), zap.Int("routes", s.routes.Len()))
	close(s.listening)

	go func() {
		defer s.markStopped()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()
	return nil
}

// Stop closes all socket connections and gracefully shuts the listener down.
// OnStopped is closed once the server has stopped.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.started = true
	s.mu.Unlock()

	if srv == nil {
		s.markStopped()
		return nil
	}

	s.ws.Close()
	s.events.Close()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server %s shutdown: %w", s.Name(), err)
	}

	select {
	case <-s.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.logger.Info("Server stopped")
	return nil
}

func (s *Server) markStopped() {
	s.stoppedOnce.Do(func() { close(s.stopped) })
}

// OnListen is closed once the server accepts connections
func (s *Server) OnListen() <-chan struct{} { return s.listening }

// OnStopped is closed once the server has stopped serving
func (s *Server) OnStopped() <-chan struct{} { return s.stopped }

// Name returns the configured server name
func (s *Server) Name() string { return s.cfg.Server.Name }

// Addr returns the bound address, or "" before Start
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Metrics returns the server's metrics
func (s *Server) Metrics() *metrics.Metrics { return s.metrics }

// Routes returns the routing table
func (s *Server) Routes() *router.Table[Route] { return s.routes }

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}
