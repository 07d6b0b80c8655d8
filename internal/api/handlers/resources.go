package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/api/middleware"
	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/db"
	"github.com/leozw/monitrix/internal/registry"
)

type resourceResponse struct {
	*core.Resource
	Rules         []core.Rule `json:"rules,omitempty"`
	OpenIncidents int         `json:"open_incidents,omitempty"`
}

func actor(c *gin.Context) registry.Actor {
	return registry.Actor{UserID: middleware.OwnerID(c), Request: c.Request}
}

func (h *Handler) CreateResource(c *gin.Context) {
	var req registry.CreateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, rules, err := h.registry.Create(c.Request.Context(), actor(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resourceResponse{Resource: res, Rules: rules})
}

func (h *Handler) GetResource(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	res, rules, err := h.registry.Get(c.Request.Context(), middleware.OwnerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resourceResponse{Resource: res, Rules: rules})
}

func (h *Handler) ListResources(c *gin.Context) {
	ownerID := middleware.OwnerID(c)
	filter := db.ResourceFilter{
		OwnerID:     ownerID,
		Kind:        core.ResourceKind(c.Query("kind")),
		Status:      core.ResourceStatus(c.Query("status")),
		AlertStatus: core.AlertStatus(c.Query("alert_status")),
		Search:      c.Query("search"),
		SortBy:      c.Query("sort"),
		SortDesc:    strings.EqualFold(c.Query("order"), "desc"),
		Page:        pageQuery(c),
	}
	if filter.Kind != "" && !filter.Kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid kind"})
		return
	}

	resources, total, err := h.store.ListResources(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	open, err := h.store.CountOpenIncidents(c.Request.Context(), ownerID)
	if err != nil {
		h.logger.Warn("Failed to count open incidents", zap.Int64("owner_id", ownerID), zap.Error(err))
	}
	items := make([]resourceResponse, len(resources))
	for i := range resources {
		items[i] = resourceResponse{Resource: &resources[i], OpenIncidents: open[resources[i].ID]}
	}

	c.JSON(http.StatusOK, listResponse{Items: items, Total: total, Limit: filter.Page.Limit, Offset: filter.Page.Offset})
}

func (h *Handler) UpdateResource(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req registry.UpdateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	res, rules, err := h.registry.Update(c.Request.Context(), actor(c), id, req)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resourceResponse{Resource: res, Rules: rules})
}

type changeStatusRequest struct {
	Status core.ResourceStatus `json:"status" binding:"required"`
}

func (h *Handler) ChangeStatus(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req changeStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.registry.ChangeStatus(c.Request.Context(), actor(c), id, req.Status); err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": id, "status": req.Status})
}

func (h *Handler) DeleteResource(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	if err := h.registry.SoftDelete(c.Request.Context(), actor(c), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) PurgeResource(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}

	if err := h.registry.HardDelete(c.Request.Context(), actor(c), id); err != nil {
		h.respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// CheckResource probes and evaluates the resource immediately.
func (h *Handler) CheckResource(c *gin.Context) {
	if h.runner == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Checks are not enabled on this instance"})
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	res, _, err := h.registry.Get(c.Request.Context(), middleware.OwnerID(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}

	out, err := h.runner.CheckNow(c.Request.Context(), res)
	if err != nil {
		h.respondError(c, err)
		return
	}

	resp := gin.H{
		"resource_id":  res.ID,
		"alert_status": out.AlertStatus,
		"changed":      out.Changed,
		"skipped":      out.Skipped,
		"opened":       out.Opened,
		"closed":       out.Closed,
		"measurement":  res.LastMeasurement,
	}
	if out.ProbeError != nil {
		resp["probe_error"] = out.ProbeError.Error()
	}
	c.JSON(http.StatusOK, resp)
}

// StatusCounts serves the dashboard breakdown, cached per owner and kind.
func (h *Handler) StatusCounts(c *gin.Context) {
	ctx := c.Request.Context()
	ownerID := middleware.OwnerID(c)
	kind := core.ResourceKind(c.Query("kind"))
	if kind != "" && !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid kind"})
		return
	}

	if h.cache != nil {
		count, err := h.cache.GetCachedStatusCount(ctx, ownerID, kind)
		if err == nil {
			c.JSON(http.StatusOK, count)
			return
		}
		if !errors.Is(err, core.ErrNotFound) {
			h.logger.Warn("Status count cache read failed", zap.Error(err))
		}
	}

	count, err := h.store.StatusCounts(ctx, ownerID, kind)
	if err != nil {
		h.respondError(c, err)
		return
	}

	if h.cache != nil {
		if err := h.cache.CacheStatusCount(ctx, ownerID, kind, count); err != nil {
			h.logger.Warn("Status count cache write failed", zap.Error(err))
		}
	}
	c.JSON(http.StatusOK, count)
}
