package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/db"
	"github.com/leozw/monitrix/internal/evaluator"
	"github.com/leozw/monitrix/internal/registry"
	"github.com/leozw/monitrix/internal/scheduler"
)

type Registry interface {
	Create(ctx context.Context, actor registry.Actor, in registry.CreateInput) (*core.Resource, []core.Rule, error)
	Update(ctx context.Context, actor registry.Actor, id int64, in registry.UpdateInput) (*core.Resource, []core.Rule, error)
	Get(ctx context.Context, ownerID, id int64) (*core.Resource, []core.Rule, error)
	ChangeStatus(ctx context.Context, actor registry.Actor, id int64, status core.ResourceStatus) error
	SoftDelete(ctx context.Context, actor registry.Actor, id int64) error
	HardDelete(ctx context.Context, actor registry.Actor, id int64) error
}

// Store is the read side served directly from the repository.
type Store interface {
	Ping(ctx context.Context) error
	ListResources(ctx context.Context, f db.ResourceFilter) ([]core.Resource, int, error)
	StatusCounts(ctx context.Context, ownerID int64, kind core.ResourceKind) (core.StatusCount, error)
	CountOpenIncidents(ctx context.Context, ownerID int64) (map[int64]int, error)
	ListIncidents(ctx context.Context, ownerID, resourceID int64, page db.Page) ([]core.Incident, int, error)
	ListResolutions(ctx context.Context, ownerID, resourceID int64, page db.Page) ([]core.Resolution, int, error)
	ListActivityLogs(ctx context.Context, f db.ActivityFilter) ([]core.ActivityLogEntry, int, error)
	ListBlacklistServers(ctx context.Context) ([]db.BlacklistServer, error)
	CreateBlacklistServer(ctx context.Context, s *db.BlacklistServer) error
	DeleteBlacklistServer(ctx context.Context, id int64) error
	ListLocations(ctx context.Context) ([]core.ProbeLocation, error)
	CreateLocation(ctx context.Context, loc *core.ProbeLocation) error
}

type StatusCache interface {
	GetCachedStatusCount(ctx context.Context, ownerID int64, kind core.ResourceKind) (core.StatusCount, error)
	CacheStatusCount(ctx context.Context, ownerID int64, kind core.ResourceKind, count core.StatusCount) error
}

// Runner triggers checks outside the schedule.
type Runner interface {
	CheckNow(ctx context.Context, res *core.Resource) (*evaluator.Outcome, error)
	RunOnce(ctx context.Context, kind core.ResourceKind) (*scheduler.TickResult, error)
	Jobs() []scheduler.JobStatus
}

type Handler struct {
	registry Registry
	store    Store
	cache    StatusCache
	runner   Runner
	logger   *zap.Logger
}

// NewHandler accepts a nil cache or runner; the routes that need a runner
// answer 503 without one.
func NewHandler(reg Registry, store Store, cache StatusCache, runner Runner, logger *zap.Logger) *Handler {
	return &Handler{
		registry: reg,
		store:    store,
		cache:    cache,
		runner:   runner,
		logger:   logger,
	}
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, core.ErrNotFound), errors.Is(err, scheduler.ErrUnknownJob):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrDuplicate),
		errors.Is(err, scheduler.ErrJobRunning),
		errors.Is(err, scheduler.ErrLocked),
		errors.Is(err, scheduler.ErrNotActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, core.ErrInvalidURL),
		errors.Is(err, core.ErrUnreachable),
		errors.Is(err, core.ErrInvalidRule),
		errors.Is(err, core.ErrInvalidKind),
		errors.Is(err, core.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Request failed", zap.String("path", c.FullPath()), zap.Error(err))
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func idParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid id"})
		return 0, false
	}
	return id, true
}

func pageQuery(c *gin.Context) db.Page {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(db.DefaultPageSize)))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if page, err := strconv.Atoi(c.Query("page")); err == nil && page > 1 && c.Query("offset") == "" {
		offset = (page - 1) * limit
	}
	return db.Page{Limit: limit, Offset: offset}.Normalize()
}

type listResponse struct {
	Items  interface{} `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}
