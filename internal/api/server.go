package api

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/leadloft/leadloft/internal/config"
	"github.com/leadloft/leadloft/internal/gmail"
	"github.com/leadloft/leadloft/internal/logging"
	"github.com/leadloft/leadloft/internal/metrics"
	"github.com/leadloft/leadloft/internal/models"
	"github.com/leadloft/leadloft/internal/oauth"
	"github.com/leadloft/leadloft/internal/processor"
	"github.com/leadloft/leadloft/internal/store"
	"github.com/leadloft/leadloft/internal/token"
)

// maxBodySize caps request bodies. Push notifications and admin calls
// are all small.
const maxBodySize = 1 << 20 // 1 MiB

// Server is the HTTP front of the service: the OAuth connect flow, the
// Pub/Sub push endpoint and the admin surface.
type Server struct {
	cfg       *config.Config
	router    *gin.Engine
	logger    *logging.Logger
	metrics   *metrics.Metrics
	store     store.Store
	tokens    *token.Manager
	flow      *oauth.Flow
	processor *processor.Processor
	limiter   *IPRateLimiter
	startedAt time.Time
}

// NewServer creates the HTTP server with all routes and middleware.
func NewServer(
	cfg *config.Config,
	s store.Store,
	tokens *token.Manager,
	flow *oauth.Flow,
	proc *processor.Processor,
	logger *logging.Logger,
	m *metrics.Metrics,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	srv := &Server{
		cfg:       cfg,
		router:    gin.New(),
		logger:    logger,
		metrics:   m,
		store:     s,
		tokens:    tokens,
		flow:      flow,
		processor: proc,
		limiter:   NewIPRateLimiter(cfg.API.RateLimit.RequestsPerMinute, cfg.API.RateLimit.Burst),
		startedAt: time.Now(),
	}

	srv.setupMiddleware()
	srv.setupRoutes()
	return srv
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(correlationMiddleware())
	s.router.Use(requestLogMiddleware(s.logger))
	s.router.Use(bodyLimitMiddleware(maxBodySize))
	s.router.Use(rateLimitMiddleware(s.limiter))
	s.router.Use(metrics.Middleware(s.metrics, s.logger))
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Consent flow. The start leg needs an authenticated caller; the
	// callback is reached by the provider redirect and carries no key.
	s.router.GET("/auth/google/start", APIKeyAuth(s.cfg.API.Auth, s.logger), s.handleAuthStart)
	s.router.GET("/auth/google/callback", s.handleAuthCallback)

	// Pub/Sub push delivery.
	s.router.POST("/pubsub/gmail", s.handlePush)

	admin := s.router.Group("/", APIKeyAuth(s.cfg.API.Auth, s.logger))
	{
		admin.POST("/gmail/watch", s.handleWatchStart)
		admin.POST("/gmail/stop", s.handleWatchStop)
		admin.GET("/gmail/status", s.handleWatchStatus)
		admin.POST("/oauth/refresh", s.handleForceRefresh)
		admin.GET("/credentials/:agent_id", s.handleCredentialGet)
		admin.DELETE("/credentials/:agent_id", s.handleCredentialDelete)
	}
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the HTTP server and blocks until the context is canceled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.HTTPPort)
	httpServer := NewHTTPServer(addr, s.router, s.cfg.Server.TLS)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr, "tls", s.cfg.Server.TLS.Enabled)
		errCh <- ListenAndServe(httpServer, s.cfg.Server.TLS)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return GracefulShutdown(httpServer, s.cfg.Server.ShutdownTimeout, s.logger)
	}
}

// gmailClient builds a Gmail client for a credential with a fresh
// access token.
func (s *Server) gmailClient(ctx context.Context, cred *models.Credential) (*gmail.Client, error) {
	accessToken, err := s.tokens.EnsureFresh(ctx, cred)
	if err != nil {
		return nil, err
	}
	return gmail.NewClient(ctx, accessToken, s.cfg.Google)
}
