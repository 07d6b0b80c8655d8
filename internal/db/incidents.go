package db

import (
	"context"

	"github.com/leozw/monitrix/internal/core"
)

const incidentColumns = `id, resource_id, metric_type, comparison, limit_at_time, message,
	is_occurred, created_at, closed_at`

// FindOpenIncident returns core.ErrNotFound when nothing is open.
func (r *Repository) FindOpenIncident(ctx context.Context, resourceID int64, metric core.MetricType) (*core.Incident, error) {
	var inc core.Incident
	query := `SELECT ` + incidentColumns + ` FROM incidents
		WHERE resource_id = $1 AND metric_type = $2 AND is_occurred = 1
		LIMIT 1`
	if err := r.db.GetContext(ctx, &inc, query, resourceID, metric); err != nil {
		return nil, mapError(err)
	}
	return &inc, nil
}

func (r *Repository) OpenIncident(ctx context.Context, inc *core.Incident) error {
	query := `
		INSERT INTO incidents (
			resource_id, metric_type, comparison, limit_at_time, message, is_occurred, created_at
		) VALUES ($1, $2, $3, $4, $5, 1, $6)
		RETURNING id`

	err := r.db.QueryRowxContext(ctx, query,
		inc.ResourceID, inc.MetricType, inc.Comparison, inc.LimitAtTime, inc.Message, inc.CreatedAt,
	).Scan(&inc.ID)
	if err != nil {
		return mapError(err)
	}
	inc.IsOccurred = 1
	return nil
}

// CloseIncident flips the incident to closed and records its resolution in
// one transaction.
func (r *Repository) CloseIncident(ctx context.Context, inc *core.Incident, res *core.Resolution) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE incidents SET is_occurred = 0, closed_at = $1 WHERE id = $2 AND is_occurred = 1`,
		res.CreatedAt, inc.ID)
	if err != nil {
		return err
	}
	if err := expectRow(result); err != nil {
		return err
	}

	query := `
		INSERT INTO resolutions (resource_id, incident_id, metric_type, message, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	err = tx.QueryRowxContext(ctx, query,
		res.ResourceID, inc.ID, res.MetricType, res.Message, res.CreatedAt,
	).Scan(&res.ID)
	if err != nil {
		return mapError(err)
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	closed := res.CreatedAt
	inc.IsOccurred = 0
	inc.ClosedAt = &closed
	res.IncidentID = inc.ID
	return nil
}

// ListIncidents returns the resource's incident history, newest first. The
// owner check keeps tenants apart.
func (r *Repository) ListIncidents(ctx context.Context, ownerID, resourceID int64, page Page) ([]core.Incident, int, error) {
	page = page.Normalize()

	var total int
	countQuery := `SELECT COUNT(*) FROM incidents i JOIN resources r ON r.id = i.resource_id
		WHERE i.resource_id = $1 AND r.owner_id = $2`
	if err := r.db.GetContext(ctx, &total, countQuery, resourceID, ownerID); err != nil {
		return nil, 0, err
	}

	incidents := []core.Incident{}
	query := `SELECT i.id, i.resource_id, i.metric_type, i.comparison, i.limit_at_time, i.message,
			i.is_occurred, i.created_at, i.closed_at
		FROM incidents i JOIN resources r ON r.id = i.resource_id
		WHERE i.resource_id = $1 AND r.owner_id = $2
		ORDER BY i.created_at DESC, i.id DESC
		LIMIT $3 OFFSET $4`
	if err := r.db.SelectContext(ctx, &incidents, query, resourceID, ownerID, page.Limit, page.Offset); err != nil {
		return nil, 0, err
	}
	return incidents, total, nil
}

func (r *Repository) ListResolutions(ctx context.Context, ownerID, resourceID int64, page Page) ([]core.Resolution, int, error) {
	page = page.Normalize()

	var total int
	countQuery := `SELECT COUNT(*) FROM resolutions s JOIN resources r ON r.id = s.resource_id
		WHERE s.resource_id = $1 AND r.owner_id = $2`
	if err := r.db.GetContext(ctx, &total, countQuery, resourceID, ownerID); err != nil {
		return nil, 0, err
	}

	resolutions := []core.Resolution{}
	query := `SELECT s.id, s.resource_id, s.incident_id, s.metric_type, s.message, s.created_at
		FROM resolutions s JOIN resources r ON r.id = s.resource_id
		WHERE s.resource_id = $1 AND r.owner_id = $2
		ORDER BY s.created_at DESC, s.id DESC
		LIMIT $3 OFFSET $4`
	if err := r.db.SelectContext(ctx, &resolutions, query, resourceID, ownerID, page.Limit, page.Offset); err != nil {
		return nil, 0, err
	}
	return resolutions, total, nil
}

// CountOpenIncidents is the number of currently open incidents per resource
// of an owner.
func (r *Repository) CountOpenIncidents(ctx context.Context, ownerID int64) (map[int64]int, error) {
	rows, err := r.db.QueryxContext(ctx, `
		SELECT i.resource_id, COUNT(*) FROM incidents i JOIN resources r ON r.id = i.resource_id
		WHERE r.owner_id = $1 AND i.is_occurred = 1
		GROUP BY i.resource_id`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var id int64
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
