package middleware

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RunGuard allows one in-flight import per route. A second request for the
// same route gets 409 until the first one returns.
type RunGuard struct {
	mu      sync.Mutex
	running map[string]bool
	logger  *zap.Logger
}

func NewRunGuard(logger *zap.Logger) *RunGuard {
	return &RunGuard{
		running: make(map[string]bool),
		logger:  logger,
	}
}

func (g *RunGuard) acquire(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[key] {
		return false
	}
	g.running[key] = true
	return true
}

func (g *RunGuard) release(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.running, key)
}

// Middleware keys runs by the matched route path.
func (g *RunGuard) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.FullPath()
		if !g.acquire(key) {
			g.logger.Warn("Rejected concurrent import", zap.String("route", key))
			c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "an import for this source is already running"})
			return
		}
		defer g.release(key)
		c.Next()
	}
}
