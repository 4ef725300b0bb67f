package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"example.com/backstage/services/auction/config"
	"example.com/backstage/services/auction/internal/tracing"
)

// Server is the HTTP server for the API
type Server struct {
	cfg        config.ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
}

// NewServer creates a server with the shared middleware and health check.
// Route groups are added with the Register methods.
func NewServer(cfg config.ServerConfig, tracer *tracing.Tracer, logger zerolog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		router: gin.New(),
		logger: logger.With().Str("component", "api").Logger(),
	}

	s.router.Use(RequestIDMiddleware())
	if cfg.CorsEnabled {
		s.router.Use(CORSMiddleware(cfg.CorsOrigins))
	}
	s.router.Use(gin.Recovery())
	if app := tracer.Application(); app != nil {
		s.router.Use(TracingMiddleware(app))
	}
	s.router.Use(LoggingMiddleware(s.logger))

	s.router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})

	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// RegisterMetrics exposes gatherer on /metrics
func (s *Server) RegisterMetrics(gatherer prometheus.Gatherer) {
	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// Run serves until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.cfg.Timeout > 0 {
		s.httpServer.ReadTimeout = s.cfg.Timeout
		s.httpServer.WriteTimeout = s.cfg.Timeout
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", s.cfg.Address).Msg("HTTP server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.logger.Info().Msg("HTTP server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}
