package permissions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridian-hms/meridian-hms/internal/audit"
)

// GrantStore defines the persistence surface the grant service needs.
type GrantStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxStore) error) error
	FindActiveRoleByName(ctx context.Context, name string) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UserIDsWithRole(ctx context.Context, roleID int64) ([]int64, error)
}

// Service orchestrates grant mutations. Every mutation runs as one
// transaction carrying its audit entry; cache invalidation happens only
// after the transaction commits, so a stale read can never race ahead of a
// slow write.
type Service struct {
	store   GrantStore
	catalog *Catalog
	cache   *DecisionCache
	logger  *slog.Logger
}

// NewService builds Service instance.
func NewService(store GrantStore, catalog *Catalog, cache *DecisionCache, logger *slog.Logger) *Service {
	return &Service{store: store, catalog: catalog, cache: cache, logger: logger}
}

// GrantUserPermission upserts an explicit grant override for the user.
func (s *Service) GrantUserPermission(ctx context.Context, userID int64, code string, actorID int64, expiresAt *time.Time) error {
	return s.writeOverride(ctx, userID, code, actorID, expiresAt, true)
}

// DenyUserPermission upserts an explicit denial override. The denial
// dominates every role grant the user holds.
func (s *Service) DenyUserPermission(ctx context.Context, userID int64, code string, actorID int64, expiresAt *time.Time) error {
	return s.writeOverride(ctx, userID, code, actorID, expiresAt, false)
}

func (s *Service) writeOverride(ctx context.Context, userID int64, code string, actorID int64, expiresAt *time.Time, granted bool) error {
	perm, err := s.catalog.ResolveCode(ctx, code)
	if err != nil {
		return err
	}

	action := audit.ActionGrantUser
	if !granted {
		action = audit.ActionRevokeUser
	}
	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.UpsertOverride(ctx, Override{
			UserID:       userID,
			PermissionID: perm.ID,
			Granted:      granted,
			GrantedBy:    actorID,
			ExpiresAt:    expiresAt,
		}); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Entry{
			Action:       action,
			ActorID:      actorID,
			TargetUserID: userID,
			PermissionID: &perm.ID,
			Details:      map[string]any{"code": perm.Code(), "is_granted": granted},
		})
	})
	if err != nil {
		return fmt.Errorf("permissions: write override: %w", err)
	}

	s.invalidateCode(ctx, userID, perm.Code())
	return nil
}

// RevokeUserPermission deletes the user's override for the code, whether it
// was a grant or a denial. Revoking an absent override is not an error.
func (s *Service) RevokeUserPermission(ctx context.Context, userID int64, code string, actorID int64) error {
	perm, err := s.catalog.ResolveCode(ctx, code)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		deleted, err := tx.DeleteOverride(ctx, userID, perm.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		return tx.RecordAudit(ctx, audit.Entry{
			Action:       audit.ActionRevokeUser,
			ActorID:      actorID,
			TargetUserID: userID,
			PermissionID: &perm.ID,
			Details:      map[string]any{"code": perm.Code(), "removed_override": true},
		})
	})
	if err != nil {
		return fmt.Errorf("permissions: revoke override: %w", err)
	}

	s.invalidateCode(ctx, userID, perm.Code())
	return nil
}

// AssignRole upserts a role assignment for the user. Fails with
// ErrRoleNotFound when the role is missing or inactive.
func (s *Service) AssignRole(ctx context.Context, userID int64, roleName string, actorID int64, expiresAt *time.Time) error {
	role, err := s.store.FindActiveRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.UpsertAssignment(ctx, RoleAssignment{
			UserID:     userID,
			RoleID:     role.ID,
			AssignedBy: actorID,
			ExpiresAt:  expiresAt,
		}); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Entry{
			Action:       audit.ActionAssignRole,
			ActorID:      actorID,
			TargetUserID: userID,
			RoleID:       &role.ID,
			Details:      map[string]any{"role": role.Name},
		})
	})
	if err != nil {
		return fmt.Errorf("permissions: assign role: %w", err)
	}

	// A role touches an unbounded set of codes, so drop everything cached
	// for the user instead of tracking which codes changed.
	s.invalidateUser(ctx, userID)
	return nil
}

// UnassignRole deletes the user's assignment for the role.
func (s *Service) UnassignRole(ctx context.Context, userID int64, roleName string, actorID int64) error {
	role, err := s.store.FindActiveRoleByName(ctx, roleName)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		deleted, err := tx.DeleteAssignment(ctx, userID, role.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		return tx.RecordAudit(ctx, audit.Entry{
			Action:       audit.ActionUnassignRole,
			ActorID:      actorID,
			TargetUserID: userID,
			RoleID:       &role.ID,
			Details:      map[string]any{"role": role.Name},
		})
	})
	if err != nil {
		return fmt.Errorf("permissions: unassign role: %w", err)
	}

	s.invalidateUser(ctx, userID)
	return nil
}

// GrantRolePermission attaches a permission to a role, idempotently.
func (s *Service) GrantRolePermission(ctx context.Context, roleName, code string, actorID int64) error {
	role, err := s.store.FindActiveRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	perm, err := s.catalog.ResolveCode(ctx, code)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		if err := tx.AttachRolePermission(ctx, role.ID, perm.ID, actorID); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.Entry{
			Action:       audit.ActionGrantRole,
			ActorID:      actorID,
			PermissionID: &perm.ID,
			RoleID:       &role.ID,
			Details:      map[string]any{"role": role.Name, "code": perm.Code()},
		})
	})
	if err != nil {
		return fmt.Errorf("permissions: grant role permission: %w", err)
	}

	s.invalidateRoleMembers(ctx, role.ID)
	return nil
}

// RevokeRolePermission detaches a permission from a role.
func (s *Service) RevokeRolePermission(ctx context.Context, roleName, code string, actorID int64) error {
	role, err := s.store.FindActiveRoleByName(ctx, roleName)
	if err != nil {
		return err
	}
	perm, err := s.catalog.ResolveCode(ctx, code)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		deleted, err := tx.DetachRolePermission(ctx, role.ID, perm.ID)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
		return tx.RecordAudit(ctx, audit.Entry{
			Action:       audit.ActionRevokeRole,
			ActorID:      actorID,
			PermissionID: &perm.ID,
			RoleID:       &role.ID,
			Details:      map[string]any{"role": role.Name, "code": perm.Code()},
		})
	})
	if err != nil {
		return fmt.Errorf("permissions: revoke role permission: %w", err)
	}

	s.invalidateRoleMembers(ctx, role.ID)
	return nil
}

// SetRoleDefault makes the role the single system-wide default inside one
// transaction, so no reader observes zero or two defaults.
func (s *Service) SetRoleDefault(ctx context.Context, roleID int64) error {
	return s.store.WithTx(ctx, func(ctx context.Context, tx TxStore) error {
		return tx.SetDefaultRole(ctx, roleID)
	})
}

// ListRoles returns all roles.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.store.ListRoles(ctx)
}

func (s *Service) invalidateCode(ctx context.Context, userID int64, code string) {
	if err := s.cache.InvalidateCode(ctx, userID, code); err != nil {
		s.logWarn("invalidate decision", err, userID)
	}
}

func (s *Service) invalidateUser(ctx context.Context, userID int64) {
	if err := s.cache.InvalidateUser(ctx, userID); err != nil {
		s.logWarn("invalidate user decisions", err, userID)
	}
}

func (s *Service) invalidateRoleMembers(ctx context.Context, roleID int64) {
	userIDs, err := s.store.UserIDsWithRole(ctx, roleID)
	if err != nil {
		s.logWarn("list role members for invalidation", err, roleID)
		return
	}
	for _, id := range userIDs {
		s.invalidateUser(ctx, id)
	}
}

func (s *Service) logWarn(msg string, err error, id int64) {
	if s.logger != nil {
		s.logger.Warn(msg, slog.Any("error", err), slog.Int64("id", id))
	}
}
