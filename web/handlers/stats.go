package handlers

import (
	"context"
	"net/http"

	"graph-ingest/graph"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StatsReader summarises the stored graph.
type StatsReader interface {
	Stats(ctx context.Context) (graph.Stats, error)
}

// StatsFunc adapts a function to StatsReader.
type StatsFunc func(ctx context.Context) (graph.Stats, error)

func (f StatsFunc) Stats(ctx context.Context) (graph.Stats, error) { return f(ctx) }

type StatsHandler struct {
	reader  StatsReader
	backend string
	logger  *zap.Logger
}

func NewStatsHandler(reader StatsReader, backend string, logger *zap.Logger) *StatsHandler {
	return &StatsHandler{
		reader:  reader,
		backend: backend,
		logger:  logger,
	}
}

func (h *StatsHandler) Stats(c *gin.Context) {
	stats, err := h.reader.Stats(c.Request.Context())
	if err != nil {
		respondWithError(c, http.StatusInternalServerError, err, "Failed to read graph statistics", h.logger)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Health reports whether the store answers queries.
func (h *StatsHandler) Health(c *gin.Context) {
	if _, err := h.reader.Stats(c.Request.Context()); err != nil {
		h.logger.Warn("Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "store": h.backend})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": h.backend})
}
