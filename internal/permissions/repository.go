package permissions

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-hms/meridian-hms/internal/audit"
	"github.com/meridian-hms/meridian-hms/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the permission core.
type Repository struct {
	pool    *pgxpool.Pool
	auditor *audit.Recorder
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool, auditor *audit.Recorder) *Repository {
	return &Repository{pool: pool, auditor: auditor}
}

// TxStore exposes the mutations that must run inside one transaction,
// together with the audit write that travels with them.
type TxStore interface {
	UpsertOverride(ctx context.Context, o Override) error
	DeleteOverride(ctx context.Context, userID, permissionID int64) (bool, error)
	UpsertAssignment(ctx context.Context, a RoleAssignment) error
	DeleteAssignment(ctx context.Context, userID, roleID int64) (bool, error)
	AttachRolePermission(ctx context.Context, roleID, permissionID, grantedBy int64) error
	DetachRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	SetDefaultRole(ctx context.Context, roleID int64) error
	RecordAudit(ctx context.Context, e audit.Entry) error
}

type txStore struct {
	tx      pgx.Tx
	auditor *audit.Recorder
}

// WithTx runs fn inside a repeatable-read transaction and hands it the
// transactional mutation surface.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txStore{tx: tx, auditor: r.auditor})
	})
}

// EnsurePermission inserts a permission if the (resource_key, operation)
// pair is new and returns the row either way. The second return value
// reports whether the row was created by this call.
func (r *Repository) EnsurePermission(ctx context.Context, resourceKey string, op Operation) (Permission, bool, error) {
	var p Permission
	err := r.pool.QueryRow(ctx, `
		INSERT INTO permissions (resource_key, operation, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (resource_key, operation) DO NOTHING
		RETURNING id, resource_key, operation, is_active, created_at`,
		resourceKey, string(op)).Scan(&p.ID, &p.ResourceKey, &p.Operation, &p.Active, &p.CreatedAt)
	if err == nil {
		return p, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, false, err
	}
	p, err = r.findPermission(ctx, resourceKey, op, false)
	return p, false, err
}

// FindActivePermission returns the active permission for the pair, or
// ErrNotFound.
func (r *Repository) FindActivePermission(ctx context.Context, resourceKey string, op Operation) (Permission, error) {
	return r.findPermission(ctx, resourceKey, op, true)
}

func (r *Repository) findPermission(ctx context.Context, resourceKey string, op Operation, activeOnly bool) (Permission, error) {
	query := `SELECT id, resource_key, operation, is_active, created_at FROM permissions WHERE resource_key = $1 AND operation = $2`
	if activeOnly {
		query += ` AND is_active`
	}
	var p Permission
	err := r.pool.QueryRow(ctx, query, resourceKey, string(op)).Scan(&p.ID, &p.ResourceKey, &p.Operation, &p.Active, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ListPermissions returns the full catalog ordered by resource and operation.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, resource_key, operation, is_active, created_at FROM permissions ORDER BY resource_key, operation`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.ResourceKey, &p.Operation, &p.Active, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// ActiveCodes returns every active permission code.
func (r *Repository) ActiveCodes(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT resource_key || '.' || operation FROM permissions WHERE is_active ORDER BY 1`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// ActiveOverride returns the live override for (user, permission), or nil
// when none exists. Expired overrides are filtered here so they behave
// exactly like absent rows before the dominance rule applies.
func (r *Repository) ActiveOverride(ctx context.Context, userID, permissionID int64) (*Override, error) {
	var o Override
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, permission_id, is_granted, granted_by, granted_at, expires_at
		FROM user_permission_overrides
		WHERE user_id = $1 AND permission_id = $2
		  AND (expires_at IS NULL OR expires_at > NOW())`,
		userID, permissionID).Scan(&o.UserID, &o.PermissionID, &o.Granted, &o.GrantedBy, &o.GrantedAt, &o.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// HasRoleGrant reports whether any live role assignment of the user carries
// the permission through an active role.
func (r *Repository) HasRoleGrant(ctx context.Context, userID, permissionID int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM role_assignments ra
			JOIN roles ro ON ro.id = ra.role_id AND ro.is_active
			JOIN role_permissions rp ON rp.role_id = ra.role_id
			WHERE ra.user_id = $1 AND rp.permission_id = $2
			  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
		)`, userID, permissionID).Scan(&exists)
	return exists, err
}

// RoleGrantedCodes returns deduplicated active permission codes the user
// holds through live role assignments.
func (r *Repository) RoleGrantedCodes(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT p.resource_key || '.' || p.operation
		FROM role_assignments ra
		JOIN roles ro ON ro.id = ra.role_id AND ro.is_active
		JOIN role_permissions rp ON rp.role_id = ra.role_id
		JOIN permissions p ON p.id = rp.permission_id AND p.is_active
		WHERE ra.user_id = $1
		  AND (ra.expires_at IS NULL OR ra.expires_at > NOW())
		ORDER BY 1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStrings(rows)
}

// OverrideCode pairs a permission code with its override direction.
type OverrideCode struct {
	Code    string
	Granted bool
}

// UserOverrideCodes returns the user's live overrides against active
// permissions.
func (r *Repository) UserOverrideCodes(ctx context.Context, userID int64) ([]OverrideCode, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.resource_key || '.' || p.operation, o.is_granted
		FROM user_permission_overrides o
		JOIN permissions p ON p.id = o.permission_id AND p.is_active
		WHERE o.user_id = $1
		  AND (o.expires_at IS NULL OR o.expires_at > NOW())`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OverrideCode
	for rows.Next() {
		var oc OverrideCode
		if err := rows.Scan(&oc.Code, &oc.Granted); err != nil {
			return nil, err
		}
		out = append(out, oc)
	}
	return out, rows.Err()
}

// FindActiveRoleByName returns the active role with the given name, or
// ErrRoleNotFound when it is missing or inactive.
func (r *Repository) FindActiveRoleByName(ctx context.Context, name string) (Role, error) {
	var role Role
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, description, is_active, is_default, created_at, updated_at
		FROM roles WHERE name = $1 AND is_active`, name).
		Scan(&role.ID, &role.Name, &role.Description, &role.Active, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRoleNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, is_active, is_default, created_at, updated_at FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		var role Role
		if err := rows.Scan(&role.ID, &role.Name, &role.Description, &role.Active, &role.IsDefault, &role.CreatedAt, &role.UpdatedAt); err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpsertOverride writes the single override row for (user, permission).
// The unique constraint makes concurrent upserts converge on one row.
func (t *txStore) UpsertOverride(ctx context.Context, o Override) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_permission_overrides (user_id, permission_id, is_granted, granted_by, granted_at, expires_at)
		VALUES ($1, $2, $3, $4, NOW(), $5)
		ON CONFLICT (user_id, permission_id)
		DO UPDATE SET is_granted = EXCLUDED.is_granted,
		              granted_by = EXCLUDED.granted_by,
		              granted_at = NOW(),
		              expires_at = EXCLUDED.expires_at`,
		o.UserID, o.PermissionID, o.Granted, o.GrantedBy, o.ExpiresAt)
	return err
}

// DeleteOverride removes the override row if present and reports whether a
// row was deleted.
func (t *txStore) DeleteOverride(ctx context.Context, userID, permissionID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM user_permission_overrides WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// UpsertAssignment writes the single assignment row for (user, role).
func (t *txStore) UpsertAssignment(ctx context.Context, a RoleAssignment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO role_assignments (user_id, role_id, assigned_by, assigned_at, expires_at)
		VALUES ($1, $2, $3, NOW(), $4)
		ON CONFLICT (user_id, role_id)
		DO UPDATE SET assigned_by = EXCLUDED.assigned_by,
		              assigned_at = NOW(),
		              expires_at = EXCLUDED.expires_at`,
		a.UserID, a.RoleID, a.AssignedBy, a.ExpiresAt)
	return err
}

// DeleteAssignment removes the assignment row if present.
func (t *txStore) DeleteAssignment(ctx context.Context, userID, roleID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM role_assignments WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AttachRolePermission links a permission to a role, idempotently.
func (t *txStore) AttachRolePermission(ctx context.Context, roleID, permissionID, grantedBy int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, granted_by, granted_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (role_id, permission_id) DO NOTHING`,
		roleID, permissionID, grantedBy)
	return err
}

// DetachRolePermission unlinks a permission from a role if present.
func (t *txStore) DetachRolePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetDefaultRole clears the default flag everywhere and sets it on the
// given role, so no reader observes zero or two defaults.
func (t *txStore) SetDefaultRole(ctx context.Context, roleID int64) error {
	if _, err := t.tx.Exec(ctx, `UPDATE roles SET is_default = FALSE, updated_at = NOW() WHERE is_default AND id <> $1`, roleID); err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `UPDATE roles SET is_default = TRUE, updated_at = NOW() WHERE id = $1 AND is_active`, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoleNotFound
	}
	return nil
}

// RecordAudit appends the audit entry inside the surrounding transaction.
func (t *txStore) RecordAudit(ctx context.Context, e audit.Entry) error {
	return t.auditor.Record(ctx, t.tx, e)
}

// UserIDsWithRole returns users currently assigned the role, including
// expired assignments: their cached decisions are invalidated anyway, which
// errs on the safe side.
func (r *Repository) UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM role_assignments WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanStrings(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
