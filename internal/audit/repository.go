package audit

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence for the audit trail.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// List returns entries matching the filters, newest first. It fetches one
// row beyond the limit so the caller can detect a next page.
func (r *Repository) List(ctx context.Context, f Filters, limit, offset int) ([]Entry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, action, actor_id, target_user_id, permission_id, role_id, details, occurred_at
		FROM permission_audit_log
		WHERE ($1 = '' OR action = $1)
		  AND ($2 = 0 OR actor_id = $2)
		  AND ($3 = 0 OR target_user_id = $3)
		ORDER BY occurred_at DESC, id DESC
		LIMIT $4 OFFSET $5`,
		string(f.Action), f.ActorID, f.TargetUserID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var details []byte
		if err := rows.Scan(&e.ID, &e.Action, &e.ActorID, &e.TargetUserID, &e.PermissionID, &e.RoleID, &details, &e.At); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &e.Details); err != nil {
				return nil, err
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
