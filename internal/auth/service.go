package auth

import (
	"context"
	"errors"

	"golang.org/x/crypto/bcrypt"

	"github.com/meridian-hms/meridian-hms/internal/users"
)

// ErrInvalidCredentials indicates a failed login.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// UserPort defines the identity lookups the service needs.
type UserPort interface {
	FindByID(ctx context.Context, id int64) (*users.User, error)
	FindByEmail(ctx context.Context, email string) (*users.User, error)
}

// Service handles login and logout.
type Service struct {
	users  UserPort
	tokens *TokenStore
}

// NewService builds Service instance.
func NewService(users UserPort, tokens *TokenStore) *Service {
	return &Service{users: users, tokens: tokens}
}

// Login verifies credentials and issues a bearer token.
func (s *Service) Login(ctx context.Context, email, password string) (string, *users.User, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return "", nil, ErrInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return "", nil, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(ctx, user.ID)
	if err != nil {
		return "", nil, err
	}
	return token, user, nil
}

// Logout revokes the token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.tokens.Revoke(ctx, token)
}
