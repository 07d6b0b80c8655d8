package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// healthChecker is implemented by status caches that can report their own
// connectivity.
type healthChecker interface {
	Healthy(ctx context.Context) error
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Ready reports the database, the status-count cache and, on instances that
// run checks, the scheduled jobs. Only a database or cache failure makes the
// instance not ready.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	ready := true
	components := gin.H{"database": "ok"}
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("Readiness: database ping failed", zap.Error(err))
		components["database"] = "unavailable"
		ready = false
	}

	if hc, ok := h.cache.(healthChecker); ok {
		components["cache"] = "ok"
		if err := hc.Healthy(ctx); err != nil {
			h.logger.Warn("Readiness: cache ping failed", zap.Error(err))
			components["cache"] = "unavailable"
			ready = false
		}
	} else {
		components["cache"] = "disabled"
	}

	if h.runner != nil {
		components["jobs"] = len(h.runner.Jobs())
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":     status,
		"components": components,
		"time":       time.Now().Unix(),
	})
}
