package db

import (
	"context"

	"github.com/leozw/monitrix/internal/core"
)

// BlacklistProviders lists the admin-managed DNSBL zones. An empty result
// means the configured defaults apply.
func (r *Repository) BlacklistProviders(ctx context.Context) ([]string, error) {
	names := []string{}
	err := r.db.SelectContext(ctx, &names, `SELECT name FROM blacklist_servers ORDER BY name`)
	return names, err
}

func (r *Repository) ListBlacklistServers(ctx context.Context) ([]BlacklistServer, error) {
	servers := []BlacklistServer{}
	err := r.db.SelectContext(ctx, &servers, `SELECT id, name, link FROM blacklist_servers ORDER BY name`)
	return servers, err
}

func (r *Repository) CreateBlacklistServer(ctx context.Context, s *BlacklistServer) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO blacklist_servers (name, link) VALUES ($1, $2) RETURNING id`,
		s.Name, s.Link,
	).Scan(&s.ID)
	return mapError(err)
}

func (r *Repository) DeleteBlacklistServer(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM blacklist_servers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (r *Repository) Location(ctx context.Context, id int64) (*core.ProbeLocation, error) {
	var loc core.ProbeLocation
	query := `SELECT id, name, country_name, country_code, agent_url FROM probe_locations WHERE id = $1`
	if err := r.db.GetContext(ctx, &loc, query, id); err != nil {
		return nil, mapError(err)
	}
	return &loc, nil
}

func (r *Repository) ListLocations(ctx context.Context) ([]core.ProbeLocation, error) {
	locations := []core.ProbeLocation{}
	err := r.db.SelectContext(ctx, &locations,
		`SELECT id, name, country_name, country_code, agent_url FROM probe_locations ORDER BY id`)
	return locations, err
}

func (r *Repository) CreateLocation(ctx context.Context, loc *core.ProbeLocation) error {
	err := r.db.QueryRowxContext(ctx,
		`INSERT INTO probe_locations (name, country_name, country_code, agent_url)
		VALUES ($1, $2, $3, $4) RETURNING id`,
		loc.Name, loc.CountryName, loc.CountryCode, loc.AgentURL,
	).Scan(&loc.ID)
	return mapError(err)
}
