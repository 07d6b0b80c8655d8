package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/leozw/monitrix/internal/config"
	"github.com/leozw/monitrix/internal/core"
)

const resourceColumns = `id, unique_id, owner_id, name, url, kind, status, alert_status,
	last_check_time, last_measurement, settings, created_at, updated_at,
	created_by, deleted_at, deleted_by`

const ruleColumns = `id, resource_id, metric_type, operator, limit_value, required_occurrences,
	occurrences_counter, notify_targets, created_at, created_by`

type Repository struct {
	db     *sqlx.DB
	logger *zap.Logger
}

func NewConnection(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, err
	}

	maxOpen := cfg.MaxConnections
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	lifetime := cfg.ConnMaxLifetime
	if lifetime <= 0 {
		lifetime = 5 * time.Minute
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(lifetime)

	return db, nil
}

func NewRepository(db *sqlx.DB, logger *zap.Logger) *Repository {
	return &Repository{db: db, logger: logger}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Resource operations

// CreateResource inserts the resource and its rules in one transaction and
// fills in the generated IDs.
func (r *Repository) CreateResource(ctx context.Context, res *core.Resource, rules []core.Rule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO resources (
			unique_id, owner_id, name, url, kind, status, settings,
			created_at, updated_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	err = tx.QueryRowxContext(ctx, query,
		res.UniqueID, res.OwnerID, res.Name, res.URL, res.Kind, res.Status, res.Settings,
		res.CreatedAt, res.UpdatedAt, res.CreatedBy,
	).Scan(&res.ID)
	if err != nil {
		return mapError(err)
	}

	for i := range rules {
		rules[i].ResourceID = res.ID
	}
	if err := insertRules(ctx, tx, rules); err != nil {
		return err
	}

	return tx.Commit()
}

func insertRules(ctx context.Context, tx *sqlx.Tx, rules []core.Rule) error {
	query := `
		INSERT INTO threshold_rules (
			resource_id, metric_type, operator, limit_value, required_occurrences,
			occurrences_counter, notify_targets, created_at, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	for i := range rules {
		rule := &rules[i]
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = time.Now().UTC()
		}
		err := tx.QueryRowxContext(ctx, query,
			rule.ResourceID, rule.MetricType, rule.Operator, rule.Limit, rule.RequiredOccurrences,
			rule.OccurrencesCounter, rule.NotifyTargets, rule.CreatedAt, rule.CreatedBy,
		).Scan(&rule.ID)
		if err != nil {
			return fmt.Errorf("failed to insert %s rule: %w", rule.MetricType, mapError(err))
		}
	}
	return nil
}

func (r *Repository) GetResource(ctx context.Context, ownerID, id int64) (*core.Resource, error) {
	var res core.Resource
	query := `SELECT ` + resourceColumns + ` FROM resources
		WHERE id = $1 AND owner_id = $2 AND status <> 'Deleted'`
	if err := r.db.GetContext(ctx, &res, query, id, ownerID); err != nil {
		return nil, mapError(err)
	}
	return &res, nil
}

func (r *Repository) GetResourceByUniqueID(ctx context.Context, ownerID int64, uniqueID string) (*core.Resource, error) {
	var res core.Resource
	query := `SELECT ` + resourceColumns + ` FROM resources
		WHERE unique_id = $1 AND owner_id = $2 AND status <> 'Deleted'`
	if err := r.db.GetContext(ctx, &res, query, uniqueID, ownerID); err != nil {
		return nil, mapError(err)
	}
	return &res, nil
}

// FindByURL looks up a live resource of the owner with the same kind and URL.
func (r *Repository) FindByURL(ctx context.Context, ownerID int64, kind core.ResourceKind, url string) (*core.Resource, error) {
	var res core.Resource
	query := `SELECT ` + resourceColumns + ` FROM resources
		WHERE owner_id = $1 AND kind = $2 AND url = $3 AND status <> 'Deleted'
		LIMIT 1`
	if err := r.db.GetContext(ctx, &res, query, ownerID, kind, url); err != nil {
		return nil, mapError(err)
	}
	return &res, nil
}

// ListResources returns one page of the owner's resources and the total
// matching the filter.
func (r *Repository) ListResources(ctx context.Context, f ResourceFilter) ([]core.Resource, int, error) {
	where := []string{"owner_id = $1", "status <> 'Deleted'"}
	args := []interface{}{f.OwnerID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.AlertStatus != "" {
		add("alert_status = $%d", f.AlertStatus)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add("(name ILIKE $%[1]d OR url ILIKE $%[1]d)", "%"+s+"%")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM resources WHERE `+clause, args...); err != nil {
		return nil, 0, err
	}

	col, ok := resourceSortColumns[f.SortBy]
	if !ok {
		col = "created_at"
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT %s FROM resources WHERE %s ORDER BY %s %s, id %s LIMIT $%d OFFSET $%d`,
		resourceColumns, clause, col, dir, dir, len(args)-1, len(args))

	resources := []core.Resource{}
	if err := r.db.SelectContext(ctx, &resources, query, args...); err != nil {
		return nil, 0, err
	}
	return resources, total, nil
}

// FindActiveByKind lists every schedulable resource of a kind across owners.
func (r *Repository) FindActiveByKind(ctx context.Context, kind core.ResourceKind) ([]core.Resource, error) {
	resources := []core.Resource{}
	query := `SELECT ` + resourceColumns + ` FROM resources
		WHERE kind = $1 AND status = 'Active' AND deleted_at IS NULL
		ORDER BY id`
	err := r.db.SelectContext(ctx, &resources, query, kind)
	return resources, err
}

// UpdateResource saves the editable fields and replaces the rule set in one
// transaction. Replaced rules start with fresh counters, and open incidents of
// metrics that lost their rule are resolved.
func (r *Repository) UpdateResource(ctx context.Context, res *core.Resource, rules []core.Rule) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		UPDATE resources SET
			name = :name,
			url = :url,
			settings = :settings,
			updated_at = :updated_at
		WHERE id = :id AND owner_id = :owner_id AND status <> 'Deleted'`

	result, err := tx.NamedExecContext(ctx, query, res)
	if err != nil {
		return mapError(err)
	}
	if err := expectRow(result); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM threshold_rules WHERE resource_id = $1`, res.ID); err != nil {
		return err
	}
	for i := range rules {
		rules[i].ResourceID = res.ID
		rules[i].ID = 0
		rules[i].OccurrencesCounter = 0
	}
	if err := insertRules(ctx, tx, rules); err != nil {
		return err
	}
	if err := closeOrphanIncidents(ctx, tx, res, rules); err != nil {
		return err
	}

	return tx.Commit()
}

// RuleRemovedMessage is the resolution text for incidents whose metric lost
// its rule.
const RuleRemovedMessage = "rule removed"

// closeOrphanIncidents resolves open incidents of metrics the new rule set no
// longer covers. No later evaluation would ever close them.
func closeOrphanIncidents(ctx context.Context, tx *sqlx.Tx, res *core.Resource, rules []core.Rule) error {
	metrics := make(pq.StringArray, len(rules))
	for i := range rules {
		metrics[i] = string(rules[i].MetricType)
	}

	query := `
		WITH closed AS (
			UPDATE incidents SET is_occurred = 0, closed_at = $2
			WHERE resource_id = $1 AND is_occurred = 1 AND NOT (metric_type = ANY($3))
			RETURNING id, resource_id, metric_type
		)
		INSERT INTO resolutions (resource_id, incident_id, metric_type, message, created_at)
		SELECT resource_id, id, metric_type, $4, $2 FROM closed`

	if _, err := tx.ExecContext(ctx, query, res.ID, res.UpdatedAt, metrics, RuleRemovedMessage); err != nil {
		return fmt.Errorf("failed to close orphan incidents: %w", err)
	}
	return nil
}

func (r *Repository) UpdateStatus(ctx context.Context, ownerID, id int64, status core.ResourceStatus) error {
	query := `UPDATE resources SET status = $1, updated_at = NOW()
		WHERE id = $2 AND owner_id = $3 AND status <> 'Deleted'`
	result, err := r.db.ExecContext(ctx, query, status, id, ownerID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (r *Repository) SoftDelete(ctx context.Context, ownerID, id, deletedBy int64) error {
	query := `UPDATE resources SET status = 'Deleted', deleted_at = NOW(), deleted_by = $1, updated_at = NOW()
		WHERE id = $2 AND owner_id = $3 AND status <> 'Deleted'`
	result, err := r.db.ExecContext(ctx, query, deletedBy, id, ownerID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

// HardDelete removes the row; rules, incidents and resolutions cascade.
func (r *Repository) HardDelete(ctx context.Context, ownerID, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM resources WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (r *Repository) UpdateAlertState(ctx context.Context, resourceID int64, state core.AlertState) error {
	query := `UPDATE resources SET alert_status = $1, last_check_time = $2, last_measurement = $3
		WHERE id = $4`
	_, err := r.db.ExecContext(ctx, query, state.AlertStatus, state.LastCheckTime, state.LastMeasurement, resourceID)
	return err
}

// StatusCounts groups the owner's live resources by alert status. An empty
// kind counts every kind.
func (r *Repository) StatusCounts(ctx context.Context, ownerID int64, kind core.ResourceKind) (core.StatusCount, error) {
	var count core.StatusCount
	query := `
		SELECT
			COUNT(*) FILTER (WHERE alert_status = 'up')    AS up,
			COUNT(*) FILTER (WHERE alert_status = 'alert') AS alert,
			COUNT(*) FILTER (WHERE alert_status = 'down')  AS down
		FROM resources
		WHERE owner_id = $1 AND status <> 'Deleted' AND ($2 = '' OR kind = $2)`
	err := r.db.GetContext(ctx, &count, query, ownerID, string(kind))
	return count, err
}

// Rule operations

func (r *Repository) FindRules(ctx context.Context, resourceID int64) ([]core.Rule, error) {
	rules := []core.Rule{}
	query := `SELECT ` + ruleColumns + ` FROM threshold_rules WHERE resource_id = $1 ORDER BY id`
	err := r.db.SelectContext(ctx, &rules, query, resourceID)
	return rules, err
}

func (r *Repository) UpdateRuleCounters(ctx context.Context, rules []core.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rule := range rules {
		_, err := tx.ExecContext(ctx, `UPDATE threshold_rules SET occurrences_counter = $1 WHERE id = $2`,
			rule.OccurrencesCounter, rule.ID)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func expectRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return core.ErrNotFound
	}
	return nil
}

// mapError translates driver errors into core sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return core.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return fmt.Errorf("%w: %s", core.ErrDuplicate, pqErr.Constraint)
	}
	return err
}
