// Package audit records and serves the append-only trail of permission
// mutations. Entries are never updated or deleted once written.
package audit

import "time"

// Action identifies the kind of mutation an entry records.
type Action string

const (
	ActionGrantUser    Action = "grant_user"
	ActionRevokeUser   Action = "revoke_user"
	ActionGrantRole    Action = "grant_role"
	ActionRevokeRole   Action = "revoke_role"
	ActionAssignRole   Action = "assign_role"
	ActionUnassignRole Action = "unassign_role"
)

// Valid reports whether the action is one of the known values.
func (a Action) Valid() bool {
	switch a {
	case ActionGrantUser, ActionRevokeUser, ActionGrantRole, ActionRevokeRole, ActionAssignRole, ActionUnassignRole:
		return true
	}
	return false
}

// Entry is a single immutable audit record.
type Entry struct {
	ID           int64
	Action       Action
	ActorID      int64
	TargetUserID int64
	PermissionID *int64
	RoleID       *int64
	Details      map[string]any
	At           time.Time
}

// Filters narrows the audit listing.
type Filters struct {
	Action       Action
	ActorID      int64
	TargetUserID int64
	Page         int
	PageSize     int
}
