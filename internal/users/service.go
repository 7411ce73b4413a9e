package users

import (
	"context"

	"github.com/meridian-hms/meridian-hms/internal/shared"
)

// RepositoryPort defines data access methods for users.
type RepositoryPort interface {
	FindByID(ctx context.Context, id int64) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	List(ctx context.Context) ([]User, error)
}

// Service handles user lookups for authentication and administration.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// FindByID returns the active user with the given id.
func (s *Service) FindByID(ctx context.Context, id int64) (*User, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByEmail returns the active user with the given email.
func (s *Service) FindByEmail(ctx context.Context, email string) (*User, error) {
	return s.repo.FindByEmail(ctx, email)
}

// List returns all users.
func (s *Service) List(ctx context.Context) ([]User, error) {
	return s.repo.List(ctx)
}

// FindPrincipal returns the user as an authorization principal.
func (s *Service) FindPrincipal(ctx context.Context, id int64) (shared.Principal, error) {
	return s.repo.FindByID(ctx, id)
}
