package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/middleware"
	"chatstream/internal/usecase"
)

// Server exposes the chat API over HTTP.
type Server struct {
	chat     *usecase.ChatService
	titles   *usecase.TitleService
	store    domain.ConversationStore
	limiter  *usecase.Limiter
	limitCfg usecase.LimitConfig
	metrics  *Metrics
	logger   *slog.Logger

	cfg       config.ServerConfig
	httpSrv   *http.Server
	boundAddr string
	startTime time.Time
}

// NewServer wires the API server. Start must be called to begin serving.
func NewServer(
	chat *usecase.ChatService,
	titles *usecase.TitleService,
	store domain.ConversationStore,
	limiter *usecase.Limiter,
	rlCfg config.RateLimitConfig,
	srvCfg config.ServerConfig,
	logger *slog.Logger,
) *Server {
	return &Server{
		chat:    chat,
		titles:  titles,
		store:   store,
		limiter: limiter,
		limitCfg: usecase.LimitConfig{
			Window:      time.Duration(rlCfg.WindowMs) * time.Millisecond,
			MaxRequests: rlCfg.MaxRequests,
		},
		metrics:   NewMetrics(),
		logger:    logger,
		cfg:       srvCfg,
		startTime: time.Now(),
	}
}

// routes builds the handler chain: security headers and the per-IP token
// bucket wrap every route; the chat endpoint additionally enforces the
// per-session fixed-window limit inside its handler.
func (s *Server) routes(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("POST /api/conversations", s.handleCreateConversation)
	mux.HandleFunc("GET /api/conversations", s.handleListConversations)
	mux.HandleFunc("GET /api/conversations/{id}", s.handleGetConversation)
	mux.HandleFunc("PATCH /api/conversations/{id}", s.handleUpdateConversation)
	mux.HandleFunc("DELETE /api/conversations/{id}", s.handleDeleteConversation)
	mux.HandleFunc("POST /api/conversations/{id}/generate-title", s.handleGenerateTitle)
	mux.HandleFunc("DELETE /api/messages/{id}", s.handleDeleteMessage)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /metrics", s.metrics.Handler(s.startTime))

	var handler http.Handler = mux
	handler = middleware.IPRateLimit(ctx, middleware.IPRateLimitConfig{
		RequestsPerMin: s.cfg.RequestsPerMin,
		BurstSize:      s.cfg.BurstSize,
		TrustedProxies: s.cfg.TrustedProxies,
	})(handler)
	handler = middleware.SecurityHeaders(handler)
	handler = s.logRequests(handler)
	return handler
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// Start begins serving. Blocks until the listener fails or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.boundAddr = listener.Addr().String()

	s.httpSrv = &http.Server{
		Handler:           s.routes(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: SSE responses stay open for the duration of a
		// generation.
	}

	s.logger.Info("api server listening", "addr", s.boundAddr)
	if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api serve: %w", err)
	}
	return nil
}

// Addr returns the bound address once Start has been called.
func (s *Server) Addr() string { return s.boundAddr }

// Stop gracefully shuts the server down, waiting up to the configured
// shutdown timeout for in-flight streams.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}
