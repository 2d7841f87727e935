package web

import (
	"context"
	"net/http"
	"time"

	"graph-ingest/pipeline"
	"graph-ingest/web/handlers"
	"graph-ingest/web/middleware"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router   *gin.Engine
	importer handlers.Importer
	stats    handlers.StatsReader
	metrics  *pipeline.Metrics
	backend  string
	logger   *zap.Logger
}

func NewServer(importer handlers.Importer, stats handlers.StatsReader, metrics *pipeline.Metrics, backend string, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(logger))

	server := &Server{
		router:   router,
		importer: importer,
		stats:    stats,
		metrics:  metrics,
		backend:  backend,
		logger:   logger,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	importHandler := handlers.NewImportHandler(s.importer, s.logger)
	statsHandler := handlers.NewStatsHandler(s.stats, s.backend, s.logger)
	guard := middleware.NewRunGuard(s.logger)

	api := s.router.Group("/api")
	imports := api.Group("/import", guard.Middleware())
	imports.POST("/forum", importHandler.Forum)
	imports.POST("/top", importHandler.Top)
	imports.POST("/laws", importHandler.Laws)
	api.GET("/stats", statsHandler.Stats)

	s.router.GET("/healthz", statsHandler.Health)
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed to start", zap.Error(err))
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.logger.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
