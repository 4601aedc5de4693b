// File: internal/api/server.go
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/xkilldash9x/arborist/internal/config"
	"github.com/xkilldash9x/arborist/internal/service"
)

const shutdownTimeout = 10 * time.Second

// Server exposes an Assistant session to the canvas UI over JSON.
type Server struct {
	assistant *service.Assistant
	cfg       config.ServerConfig
	router    *gin.Engine
	logger    *zap.Logger
}

// NewServer builds the router. Call gin.SetMode before this to pick the mode.
func NewServer(a *service.Assistant, cfg config.ServerConfig, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{assistant: a, cfg: cfg, logger: logger.Named("API")}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger))
	if len(s.cfg.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     s.cfg.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
			AllowHeaders:     []string{"Content-Type", "X-Requested-With"},
			AllowCredentials: true,
		}))
	}

	r.GET("/healthcheck", healthCheck)

	api := r.Group("/api")
	{
		// Tree
		api.GET("/tree", s.getTree)
		api.PUT("/tree", s.putTree)
		api.DELETE("/tree", s.deleteTree)
		api.POST("/nodes", s.createNode)
		api.PATCH("/nodes/:id", s.updateNode)
		api.DELETE("/nodes/:id", s.deleteNode)
		api.POST("/links", s.createLink)
		api.DELETE("/links/:id", s.deleteLink)

		// Assistance
		api.GET("/suggest", s.suggest)
		api.POST("/suggest/accept", s.acceptSuggestion)
		api.GET("/prune", s.prune)
		api.POST("/prune/keep", s.pruneKeep)
		api.POST("/prune/remove", s.pruneRemove)
		api.GET("/explain", s.explain)
		api.GET("/evaluate", s.evaluate)

		// Scenario and session
		api.GET("/scenario", s.getScenario)
		api.PUT("/scenario", s.putScenario)
		api.POST("/scenario/aliases", s.addAliases)
		api.GET("/session/log", s.sessionLog)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening.", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	<-errCh
	s.logger.Info("HTTP server stopped.")
	return nil
}
