// Package users holds staff identities for the hospital backend.
package users

import "time"

// User represents a staff account.
type User struct {
	ID           int64
	Email        string
	FullName     string
	RoleTitle    string
	Department   string
	EmployeeID   string
	PasswordHash string
	IsSuperuser  bool
	IsActive     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// GetID implements shared.Principal.
func (u *User) GetID() int64 { return u.ID }

// IsSuperUser implements shared.Principal. Superusers bypass the entire
// permission model.
func (u *User) IsSuperUser() bool { return u.IsSuperuser }
