package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/db"
)

func (h *Handler) ListBlacklistServers(c *gin.Context) {
	servers, err := h.store.ListBlacklistServers(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": servers})
}

type createBlacklistServerRequest struct {
	Name string `json:"name" binding:"required,hostname"`
	Link string `json:"link" binding:"omitempty,url"`
}

func (h *Handler) CreateBlacklistServer(c *gin.Context) {
	var req createBlacklistServerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	server := &db.BlacklistServer{Name: strings.ToLower(strings.TrimSpace(req.Name)), Link: req.Link}
	if err := h.store.CreateBlacklistServer(c.Request.Context(), server); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Blacklist server added", zap.String("name", server.Name))
	c.JSON(http.StatusCreated, server)
}

func (h *Handler) DeleteBlacklistServer(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	if err := h.store.DeleteBlacklistServer(c.Request.Context(), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListLocations(c *gin.Context) {
	locations, err := h.store.ListLocations(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": locations})
}

type createLocationRequest struct {
	Name        string `json:"name" binding:"required"`
	CountryName string `json:"country_name"`
	CountryCode string `json:"country_code" binding:"omitempty,len=2"`
	AgentURL    string `json:"agent_url" binding:"omitempty,url"`
}

func (h *Handler) CreateLocation(c *gin.Context) {
	var req createLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	loc := &core.ProbeLocation{
		Name:        req.Name,
		CountryName: req.CountryName,
		CountryCode: strings.ToUpper(req.CountryCode),
		AgentURL:    strings.TrimRight(req.AgentURL, "/"),
	}
	if err := h.store.CreateLocation(c.Request.Context(), loc); err != nil {
		h.respondError(c, err)
		return
	}

	h.logger.Info("Probe location added", zap.String("name", loc.Name), zap.String("agent_url", loc.AgentURL))
	c.JSON(http.StatusCreated, loc)
}

func (h *Handler) ListJobs(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is not enabled on this instance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": h.runner.Jobs()})
}

// RunJob runs one tick of a job synchronously and returns its result.
func (h *Handler) RunJob(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Scheduler is not enabled on this instance"})
		return
	}
	kind := core.ResourceKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid kind"})
		return
	}

	result, err := h.runner.RunOnce(c.Request.Context(), kind)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
