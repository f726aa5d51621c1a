// Package httpapi exposes the Messages-compatible HTTP surface over a gin
// engine: model listing, message dispatch (streamed or aggregated), token
// counting, and the admin pool/credential endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/sdxdlgz/kiroproxy/internal/config"
	"github.com/sdxdlgz/kiroproxy/internal/kiroauth"
	"github.com/sdxdlgz/kiroproxy/internal/logging"
	"github.com/sdxdlgz/kiroproxy/internal/orchestrator"
	"github.com/sdxdlgz/kiroproxy/internal/pool"
	"github.com/sdxdlgz/kiroproxy/internal/tokenestimate"
)

// Server wraps the gin engine and the dependencies its handlers need.
type Server struct {
	engine *gin.Engine
	server *http.Server

	cfg   *config.Config
	orch  *orchestrator.Orchestrator
	pool  *pool.Pool
	store *kiroauth.Store
	est   *tokenestimate.Estimator
}

// New constructs the HTTP surface. cfg, orch, p and store must be non-nil;
// est may be nil (count_tokens falls back to the local estimate directly).
func New(cfg *config.Config, orch *orchestrator.Orchestrator, p *pool.Pool, store *kiroauth.Store, est *tokenestimate.Estimator) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(logging.GinLogrusLogger())
	engine.Use(logging.GinLogrusRecovery())

	s := &Server{
		engine: engine,
		cfg:    cfg,
		orch:   orch,
		pool:   p,
		store:  store,
		est:    est,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: engine,
	}
	return s
}

func (s *Server) setupRoutes() {
	auth := s.authMiddleware()

	v1 := s.engine.Group("/v1")
	v1.Use(auth)
	{
		v1.GET("/models", s.handleModels)
		v1.POST("/messages", s.handleMessages)
		v1.POST("/messages/count_tokens", s.handleCountTokens)
	}

	admin := s.engine.Group("/admin")
	admin.Use(auth)
	{
		admin.GET("/pool/status", s.handlePoolStatus)
		admin.GET("/accounts", s.handleListAccounts)
		admin.POST("/accounts", s.handleAddAccount)
		admin.POST("/accounts/remove", s.handleRemoveAccount)
		admin.POST("/accounts/refresh", s.handleRefreshAccount)
		admin.POST("/accounts/reset", s.handleResetAccount)
		admin.POST("/accounts/check", s.handleCheckAccount)
		admin.POST("/accounts/batch-check", s.handleBatchCheckAccounts)
		admin.POST("/accounts/credentials", s.handleUploadCredential)
	}

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// authMiddleware validates the request's x-api-key or Authorization: Bearer
// header against the configured shared keys, per spec.md §6. With no keys
// configured, every request is allowed (matches the teacher's legacy
// behaviour for an unconfigured proxy).
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys := s.cfg.APIKeys
		if len(keys) == 0 {
			c.Next()
			return
		}

		provided := strings.TrimSpace(c.GetHeader("x-api-key"))
		if provided == "" {
			auth := strings.TrimSpace(c.GetHeader("Authorization"))
			if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				provided = strings.TrimSpace(auth[len("bearer "):])
			}
		}

		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing API key"})
			return
		}
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(provided), []byte(k)) == 1 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid API key"})
	}
}

// Start begins serving HTTP (or HTTPS, if tls.enable is set). Blocking.
func (s *Server) Start() error {
	if s.cfg.TLS.Enable {
		cert := strings.TrimSpace(s.cfg.TLS.Cert)
		key := strings.TrimSpace(s.cfg.TLS.Key)
		if cert == "" || key == "" {
			return fmt.Errorf("httpapi: tls.enable is true but cert/key path is missing")
		}
		log.Infof("starting proxy on %s with TLS", s.server.Addr)
		if err := s.server.ListenAndServeTLS(cert, key); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("httpapi: serve TLS: %w", err)
		}
		return nil
	}

	log.Infof("starting proxy on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi: serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the listener.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
