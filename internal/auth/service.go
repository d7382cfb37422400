package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/olab/turktalk-server/internal/store"
)

var (
	// ErrInvalidCredentials is returned when username/password don't match.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserExists is returned when registering an existing username.
	ErrUserExists = errors.New("user already exists")
	// ErrInvalidUsername is returned when username doesn't meet constraints.
	ErrInvalidUsername = errors.New("invalid username")
	// ErrInvalidPassword is returned when password doesn't meet constraints.
	ErrInvalidPassword = errors.New("invalid password")
)

// Service issues and validates identity tokens. Registered accounts come from
// the user store; guests get an ephemeral learner identity.
type Service struct {
	store     store.UserStore
	jwtConfig *JWTConfig
}

// NewService creates a new authentication service.
func NewService(userStore store.UserStore, jwtConfig *JWTConfig) *Service {
	return &Service{
		store:     userStore,
		jwtConfig: jwtConfig,
	}
}

// Register creates a learner account with a hashed password and returns a
// token. Moderator accounts are provisioned out of band.
func (s *Service) Register(ctx context.Context, username, nickname, password string) (string, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 32 {
		return "", ErrInvalidUsername
	}
	if len(password) < 6 {
		return "", ErrInvalidPassword
	}
	if nickname == "" {
		nickname = username
	}

	if existing, err := s.store.GetUserByUsername(ctx, username); err == nil && existing != nil {
		return "", ErrUserExists
	}

	hashedPassword, err := HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, nickname, hashedPassword, store.RoleLearner)
	if err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}

	return GenerateToken(s.jwtConfig, user.ID, user.Nickname, user.Role, false)
}

// Login validates credentials and returns a token carrying the stored role.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", fmt.Errorf("lookup user: %w", err)
	}

	if err := ComparePassword(user.PasswordHash, password); err != nil {
		return "", ErrInvalidCredentials
	}

	return GenerateToken(s.jwtConfig, user.ID, user.Nickname, user.Role, false)
}

// GuestToken issues an ephemeral learner identity with a fresh user id. The
// id stays stable for the token's lifetime, so guest reconnects merge into
// the same participant.
func (s *Service) GuestToken(nickname string) (string, error) {
	userID := uuid.NewString()
	if nickname == "" {
		nickname = "guest-" + userID[:8]
	}
	return GenerateToken(s.jwtConfig, userID, nickname, store.RoleLearner, true)
}

// ValidateToken validates a token string against the service configuration.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	return ValidateToken(s.jwtConfig, tokenString)
}
