package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/leozw/monitrix/internal/core"
)

func (r *Repository) InsertActivityLog(ctx context.Context, e *core.ActivityLogEntry) error {
	query := `
		INSERT INTO activity_logs (user_id, ip_address, browser, logged_at, message_details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`
	return r.db.QueryRowxContext(ctx, query, e.UserID, e.IPAddress, e.Browser, e.Time, e.MessageDetails).Scan(&e.ID)
}

// ListActivityLogs pages through a user's activity, newest first.
func (r *Repository) ListActivityLogs(ctx context.Context, f ActivityFilter) ([]core.ActivityLogEntry, int, error) {
	where := []string{"user_id = $1"}
	args := []interface{}{f.UserID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Tag != "" {
		add("message_details->'services'->>'tag' = $%d", f.Tag)
	}
	if f.Status != "" {
		add("message_details->>'status' = $%d", f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		add("message_details->>'message' ILIKE $%d", "%"+s+"%")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM activity_logs WHERE `+clause, args...); err != nil {
		return nil, 0, err
	}

	page := f.Page.Normalize()
	args = append(args, page.Limit, page.Offset)
	query := fmt.Sprintf(`SELECT id, user_id, ip_address, browser, logged_at, message_details
		FROM activity_logs WHERE %s ORDER BY logged_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		clause, len(args)-1, len(args))

	entries := []core.ActivityLogEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
