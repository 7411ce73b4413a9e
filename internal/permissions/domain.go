// Package permissions implements the layered access-control core: a catalog
// of (resource, operation) capabilities, role and override grants, a cached
// resolver, and the administrative mutations that feed it.
package permissions

import (
	"errors"
	"strings"
	"time"
)

// Operation enumerates the controllable actions on a resource.
type Operation string

const (
	OpCreate  Operation = "create"
	OpRead    Operation = "read"
	OpUpdate  Operation = "update"
	OpDelete  Operation = "delete"
	OpExport  Operation = "export"
	OpImport  Operation = "import"
	OpApprove Operation = "approve"
	OpReject  Operation = "reject"
	OpManage  Operation = "manage"
)

// Operations lists every known operation in catalog order.
func Operations() []Operation {
	return []Operation{OpCreate, OpRead, OpUpdate, OpDelete, OpExport, OpImport, OpApprove, OpReject, OpManage}
}

// Valid reports whether the operation is one of the known values.
func (o Operation) Valid() bool {
	switch o {
	case OpCreate, OpRead, OpUpdate, OpDelete, OpExport, OpImport, OpApprove, OpReject, OpManage:
		return true
	}
	return false
}

var (
	// ErrInvalidCodeFormat indicates a permission code that is not exactly
	// "<resource_key>.<operation>" with two non-empty parts.
	ErrInvalidCodeFormat = errors.New("permissions: invalid code format")
	// ErrNotFound indicates that no active permission matches the code.
	ErrNotFound = errors.New("permissions: permission not found")
	// ErrRoleNotFound indicates the referenced role is missing or inactive.
	ErrRoleNotFound = errors.New("permissions: role not found")
)

// Permission is an atomic (resource, operation) capability. Identity is
// immutable once created; inactive permissions are invisible to resolution.
type Permission struct {
	ID          int64
	ResourceKey string
	Operation   Operation
	Active      bool
	CreatedAt   time.Time
}

// Code returns the wire form "<resource_key>.<operation>".
func (p Permission) Code() string {
	return p.ResourceKey + "." + string(p.Operation)
}

// Role is a named bundle of permissions assignable to users. At most one
// role system-wide may be the default.
type Role struct {
	ID          int64
	Name        string
	Description string
	Active      bool
	IsDefault   bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// RoleAssignment links a user to a role, optionally time-limited. An
// assignment past its expiry behaves exactly as if it never existed.
type RoleAssignment struct {
	UserID     int64
	RoleID     int64
	AssignedBy int64
	AssignedAt time.Time
	ExpiresAt  *time.Time
}

// Override is a direct user-level grant or denial. A user holds at most one
// override per permission; denials dominate every role-derived grant.
type Override struct {
	UserID       int64
	PermissionID int64
	Granted      bool
	GrantedBy    int64
	GrantedAt    time.Time
	ExpiresAt    *time.Time
}

// ParseCode splits a permission code into its resource key and operation.
// The only accepted shape is two non-empty dot-separated parts; anything
// else fails with ErrInvalidCodeFormat so ambiguity is rejected at the
// boundary instead of branching on part count later.
func ParseCode(code string) (string, Operation, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	parts := strings.Split(code, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", ErrInvalidCodeFormat
	}
	return parts[0], Operation(parts[1]), nil
}
