// Package registry owns the lifecycle of monitored resources: creation with
// validation and default rules, edits, status changes and deletion.
package registry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/activity"
	"github.com/leozw/monitrix/internal/core"
	"github.com/leozw/monitrix/internal/rules"
)

type Store interface {
	CreateResource(ctx context.Context, res *core.Resource, rules []core.Rule) error
	GetResource(ctx context.Context, ownerID, id int64) (*core.Resource, error)
	FindByURL(ctx context.Context, ownerID int64, kind core.ResourceKind, url string) (*core.Resource, error)
	FindRules(ctx context.Context, resourceID int64) ([]core.Rule, error)
	UpdateResource(ctx context.Context, res *core.Resource, rules []core.Rule) error
	UpdateStatus(ctx context.Context, ownerID, id int64, status core.ResourceStatus) error
	SoftDelete(ctx context.Context, ownerID, id, deletedBy int64) error
	HardDelete(ctx context.Context, ownerID, id int64) error
}

// Reachability rejects URLs that cannot be fetched at creation time.
type Reachability interface {
	CheckReachable(ctx context.Context, rawURL string) error
}

type ActivityLog interface {
	Append(ctx context.Context, entry core.ActivityLogEntry) string
}

// StatusCache drops cached dashboard counts after a write.
type StatusCache interface {
	InvalidateStatusCounts(ctx context.Context, ownerID int64) error
}

// Actor is the user performing a registry operation and the request it came
// from. Request may be nil for internal callers.
type Actor struct {
	UserID  int64
	Request *http.Request
}

type CreateInput struct {
	Name     string            `json:"name"`
	URL      string            `json:"url" binding:"required"`
	Kind     core.ResourceKind `json:"kind" binding:"required"`
	Settings core.Settings     `json:"settings"`
	// Rules replaces the synthesized defaults when non-empty.
	Rules []core.Rule `json:"rules"`
}

type UpdateInput struct {
	Name     *string        `json:"name"`
	URL      *string        `json:"url"`
	Settings *core.Settings `json:"settings"`
	Rules    []core.Rule    `json:"rules"`
}

type Registry struct {
	store          Store
	reach          Reachability
	activity       ActivityLog
	cache          StatusCache
	logger         *zap.Logger
	loadTimeBudget float64
	now            func() time.Time
}

type Option func(*Registry)

func WithStatusCache(c StatusCache) Option {
	return func(r *Registry) { r.cache = c }
}

// WithLoadTimeBudget sets the default loadTime limit in seconds for websites
// whose settings carry none.
func WithLoadTimeBudget(seconds float64) Option {
	return func(r *Registry) { r.loadTimeBudget = seconds }
}

func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

func New(store Store, reach Reachability, activity ActivityLog, logger *zap.Logger, opts ...Option) *Registry {
	r := &Registry{
		store:    store,
		reach:    reach,
		activity: activity,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NormalizeURL validates raw for the given kind. Domain and blacklist targets
// may omit the scheme and get http:// prefixed.
func NormalizeURL(kind core.ResourceKind, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: url is required", core.ErrInvalidURL)
	}
	if (kind == core.KindDomain || kind == core.KindBlacklist) && !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: add \"http://\" or \"https://\" to the beginning of the URL", core.ErrInvalidURL)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("%w: missing host", core.ErrInvalidURL)
	}
	return raw, nil
}

func needsReachability(kind core.ResourceKind) bool {
	return kind == core.KindWebsite || kind == core.KindSSL
}

func (r *Registry) Create(ctx context.Context, actor Actor, in CreateInput) (*core.Resource, []core.Rule, error) {
	if !in.Kind.Valid() {
		return nil, nil, fmt.Errorf("%w: %q", core.ErrInvalidKind, in.Kind)
	}
	target, err := NormalizeURL(in.Kind, in.URL)
	if err != nil {
		return nil, nil, err
	}

	if err := r.checkDuplicate(ctx, actor.UserID, in.Kind, target, 0); err != nil {
		return nil, nil, err
	}

	if needsReachability(in.Kind) && r.reach != nil {
		if err := r.reach.CheckReachable(ctx, target); err != nil {
			return nil, nil, fmt.Errorf("%s url is invalid: %w", in.Kind, err)
		}
	}

	now := r.now().UTC()
	res := &core.Resource{
		UniqueID:  uuid.New().String(),
		OwnerID:   actor.UserID,
		Name:      strings.TrimSpace(in.Name),
		URL:       target,
		Kind:      in.Kind,
		Status:    core.StatusActive,
		Settings:  in.Settings,
		CreatedAt: now,
		UpdatedAt: now,
		CreatedBy: actor.UserID,
	}

	ruleSet, err := r.ruleSet(res, in.Rules, actor.UserID)
	if err != nil {
		return nil, nil, err
	}

	if err := r.store.CreateResource(ctx, res, ruleSet); err != nil {
		return nil, nil, fmt.Errorf("failed to create resource: %w", err)
	}

	r.logger.Info("Resource created",
		zap.Int64("resource_id", res.ID),
		zap.String("kind", string(res.Kind)),
		zap.Int64("owner_id", res.OwnerID),
		zap.Int("rules", len(ruleSet)),
	)
	r.record(ctx, actor, "Active", fmt.Sprintf("new %s created", strings.ToLower(core.ServiceTag(res.Kind))), res)
	r.invalidate(ctx, res.OwnerID)

	return res, ruleSet, nil
}

// Update saves edits and replaces the whole rule set. Without explicit rules
// the defaults are synthesized again from the new settings.
func (r *Registry) Update(ctx context.Context, actor Actor, id int64, in UpdateInput) (*core.Resource, []core.Rule, error) {
	res, err := r.store.GetResource(ctx, actor.UserID, id)
	if err != nil {
		return nil, nil, err
	}

	if in.Name != nil {
		res.Name = strings.TrimSpace(*in.Name)
	}
	if in.URL != nil {
		target, err := NormalizeURL(res.Kind, *in.URL)
		if err != nil {
			return nil, nil, err
		}
		if target != res.URL {
			if err := r.checkDuplicate(ctx, actor.UserID, res.Kind, target, res.ID); err != nil {
				return nil, nil, err
			}
			if needsReachability(res.Kind) && r.reach != nil {
				if err := r.reach.CheckReachable(ctx, target); err != nil {
					return nil, nil, fmt.Errorf("%s url is invalid: %w", res.Kind, err)
				}
			}
			res.URL = target
		}
	}
	if in.Settings != nil {
		res.Settings = *in.Settings
	}
	res.UpdatedAt = r.now().UTC()

	ruleSet, err := r.ruleSet(res, in.Rules, actor.UserID)
	if err != nil {
		return nil, nil, err
	}

	if err := r.store.UpdateResource(ctx, res, ruleSet); err != nil {
		return nil, nil, fmt.Errorf("failed to update resource: %w", err)
	}

	r.logger.Info("Resource updated",
		zap.Int64("resource_id", res.ID),
		zap.String("kind", string(res.Kind)),
	)
	r.record(ctx, actor, "Active", fmt.Sprintf("%s updated", strings.ToLower(core.ServiceTag(res.Kind))), res)

	return res, ruleSet, nil
}

// Get returns the resource with its current rules.
func (r *Registry) Get(ctx context.Context, ownerID, id int64) (*core.Resource, []core.Rule, error) {
	res, err := r.store.GetResource(ctx, ownerID, id)
	if err != nil {
		return nil, nil, err
	}
	ruleSet, err := r.store.FindRules(ctx, res.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load rules: %w", err)
	}
	return res, ruleSet, nil
}

// ChangeStatus moves a resource between Active, Inactive, Draft and Banned.
// Deletion goes through SoftDelete.
func (r *Registry) ChangeStatus(ctx context.Context, actor Actor, id int64, status core.ResourceStatus) error {
	switch status {
	case core.StatusActive, core.StatusInactive, core.StatusDraft, core.StatusBanned:
	default:
		return fmt.Errorf("%w: %q", core.ErrInvalidStatus, status)
	}

	res, err := r.store.GetResource(ctx, actor.UserID, id)
	if err != nil {
		return err
	}
	if err := r.store.UpdateStatus(ctx, actor.UserID, id, status); err != nil {
		return err
	}
	res.Status = status

	r.logger.Info("Resource status changed",
		zap.Int64("resource_id", id),
		zap.String("status", string(status)),
	)
	r.record(ctx, actor, string(status), fmt.Sprintf("%s status changed to %s", strings.ToLower(core.ServiceTag(res.Kind)), status), res)
	r.invalidate(ctx, actor.UserID)
	return nil
}

func (r *Registry) SoftDelete(ctx context.Context, actor Actor, id int64) error {
	res, err := r.store.GetResource(ctx, actor.UserID, id)
	if err != nil {
		return err
	}
	if err := r.store.SoftDelete(ctx, actor.UserID, id, actor.UserID); err != nil {
		return err
	}

	r.logger.Info("Resource deleted", zap.Int64("resource_id", id))
	r.record(ctx, actor, "Deleted", fmt.Sprintf("%s deleted", strings.ToLower(core.ServiceTag(res.Kind))), res)
	r.invalidate(ctx, actor.UserID)
	return nil
}

// HardDelete removes the resource together with its rules, incidents and
// resolutions. Soft-deleted resources can still be hard deleted.
func (r *Registry) HardDelete(ctx context.Context, actor Actor, id int64) error {
	if err := r.store.HardDelete(ctx, actor.UserID, id); err != nil {
		return err
	}

	r.logger.Info("Resource permanently deleted", zap.Int64("resource_id", id))
	r.record(ctx, actor, "Deleted", "resource permanently deleted", &core.Resource{ID: id})
	r.invalidate(ctx, actor.UserID)
	return nil
}

func (r *Registry) checkDuplicate(ctx context.Context, ownerID int64, kind core.ResourceKind, target string, selfID int64) error {
	existing, err := r.store.FindByURL(ctx, ownerID, kind, target)
	switch {
	case errors.Is(err, core.ErrNotFound):
		return nil
	case err != nil:
		return fmt.Errorf("failed to check duplicate url: %w", err)
	case existing.ID == selfID:
		return nil
	}
	return fmt.Errorf("%w: %s url %s already exists", core.ErrDuplicate, kind, target)
}

func (r *Registry) ruleSet(res *core.Resource, explicit []core.Rule, userID int64) ([]core.Rule, error) {
	ruleSet := explicit
	if len(ruleSet) == 0 {
		ruleSet = rules.Defaults(res, r.loadTimeBudget)
	}

	out := make([]core.Rule, len(ruleSet))
	for i, rule := range ruleSet {
		rule.ID = 0
		rule.OccurrencesCounter = 0
		rule.CreatedBy = userID
		out[i] = rule
	}
	if err := rules.ValidateSet(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Registry) record(ctx context.Context, actor Actor, status, message string, res *core.Resource) {
	if r.activity == nil {
		return
	}
	r.activity.Append(ctx, activity.Entry(actor.Request, actor.UserID, status, message, res))
}

func (r *Registry) invalidate(ctx context.Context, ownerID int64) {
	if r.cache == nil {
		return
	}
	if err := r.cache.InvalidateStatusCounts(ctx, ownerID); err != nil {
		r.logger.Warn("Failed to invalidate status counts", zap.Int64("owner_id", ownerID), zap.Error(err))
	}
}
