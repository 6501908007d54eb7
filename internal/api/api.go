package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/flexquest/flexquest/internal/api/handler"
	"github.com/flexquest/flexquest/internal/config"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 5 * time.Second

type Server struct {
	cfg       *config.Config
	ginEngine *gin.Engine
	handler   *handler.Handler
}

func New(cfg *config.Config, h *handler.Handler, debug bool) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if h == nil {
		return nil, fmt.Errorf("handler is required")
	}

	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		ginEngine: gin.New(),
		handler:   h,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.ginEngine.Use(gin.Recovery(), requestLogger())

	s.ginEngine.GET("/healthz", s.handler.Healthz)

	api := s.ginEngine.Group("/api")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	api.GET("/status", s.handler.Status)
	api.GET("/history", s.handler.History)
	api.GET("/history/:id", s.handler.Run)
	api.GET("/jobs", s.handler.Jobs)
	api.GET("/cache/stats", s.handler.CacheStats)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.ginEngine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.ginEngine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down API server: %w", err)
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	logger := log.Default().WithPrefix("api")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
		)
	}
}
