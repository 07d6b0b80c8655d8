package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/leozw/monitrix/internal/api/middleware"
	"github.com/leozw/monitrix/internal/db"
)

func (h *Handler) ListIncidents(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	page := pageQuery(c)

	incidents, total, err := h.store.ListIncidents(c.Request.Context(), middleware.OwnerID(c), id, page)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse{Items: incidents, Total: total, Limit: page.Limit, Offset: page.Offset})
}

func (h *Handler) ListResolutions(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	page := pageQuery(c)

	resolutions, total, err := h.store.ListResolutions(c.Request.Context(), middleware.OwnerID(c), id, page)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse{Items: resolutions, Total: total, Limit: page.Limit, Offset: page.Offset})
}

func (h *Handler) ListActivityLogs(c *gin.Context) {
	filter := db.ActivityFilter{
		UserID: middleware.OwnerID(c),
		Tag:    c.Query("tag"),
		Status: c.Query("status"),
		Search: c.Query("search"),
		Page:   pageQuery(c),
	}

	entries, total, err := h.store.ListActivityLogs(c.Request.Context(), filter)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, listResponse{Items: entries, Total: total, Limit: filter.Page.Limit, Offset: filter.Page.Offset})
}
