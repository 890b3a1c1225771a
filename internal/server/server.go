// Package server exposes the chat pipeline over HTTP.
//
// Routes:
//
//	POST   /api/v1/chat           - run one chat turn, JSON in and out
//	POST   /api/v1/chat/stream    - same turn as server-sent events
//	DELETE /api/v1/sessions/{id}  - forget a conversation's entities
//	GET    /health, /info         - liveness and build information
//	GET    /ws                    - operator dashboard feed
//	GET    /, /dashboard          - operator dashboard page
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/sentinel-chat/internal/chat"
	"github.com/raaihank/sentinel-chat/internal/config"
	"github.com/raaihank/sentinel-chat/internal/logger"
	"github.com/raaihank/sentinel-chat/internal/web"
	"github.com/raaihank/sentinel-chat/internal/websocket"
)

// Version is reported by /info
const Version = "0.1.0"

// ChatService runs chat turns
type ChatService interface {
	Process(ctx context.Context, req chat.Request) (*chat.Result, error)
	Stream(ctx context.Context, req chat.Request, sink func(chat.Thought)) (*chat.Result, error)
}

// SessionStore discards conversations
type SessionStore interface {
	Delete(ctx context.Context, id string) error
	Len() int
}

// Server represents the HTTP API server
type Server struct {
	config    *config.Config
	logger    *logger.Logger
	chat      ChatService
	sessions  SessionStore
	hub       *websocket.Hub
	limiter   *RateLimiter
	router    *mux.Router
	server    *http.Server
	startedAt time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a new server instance. hub may be nil when the dashboard feed
// is disabled.
func New(cfg *config.Config, log *logger.Logger, chatService ChatService, sessions SessionStore, hub *websocket.Hub) (*Server, error) {
	if chatService == nil || sessions == nil {
		return nil, fmt.Errorf("server needs a chat service and a session store")
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		chat:      chatService,
		sessions:  sessions,
		hub:       hub,
		limiter:   NewRateLimiter(cfg.RateLimit),
		router:    mux.NewRouter(),
		startedAt: time.Now(),
		stop:      make(chan struct{}),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.correlationMiddleware, s.loggingMiddleware, s.corsMiddleware)
	s.router.NotFoundHandler = s.correlationMiddleware(http.HandlerFunc(s.handleNotFound))
	s.router.MethodNotAllowedHandler = s.correlationMiddleware(http.HandlerFunc(s.handleMethodNotAllowed))

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)
	if s.hub != nil {
		s.router.HandleFunc(s.websocketPath(), s.hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/chat", s.handleChat).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/chat/stream", s.handleChatStream).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods(http.MethodDelete, http.MethodOptions)
}

func (s *Server) websocketPath() string {
	if s.config.WebSocket.Path != "" {
		return s.config.WebSocket.Path
	}
	return "/ws"
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// UpdateRateLimit applies new rate limits without a restart
func (s *Server) UpdateRateLimit(cfg config.RateLimitConfig) {
	s.limiter.Update(cfg)
	s.logger.Info("Rate limit updated",
		zap.Bool("enabled", cfg.Enabled),
		zap.Int("requests_per_min", cfg.RequestsPerMin))
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting sentinel-chat server",
		zap.Int("port", s.config.Server.Port),
		zap.String("llm_provider", s.config.LLM.Provider),
		zap.String("recognizer", s.config.Recognizer.Type),
		zap.Bool("dashboard_feed", s.hub != nil),
	)

	s.limiter.StartCleanupRoutine(s.stop)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping sentinel-chat server")
	s.stopOnce.Do(func() { close(s.stop) })
	return s.server.Shutdown(ctx)
}
