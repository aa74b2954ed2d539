package auth

import (
	"context"
	"fmt"

	"embpay-license-server/internal/database"
	"embpay-license-server/internal/logging"
)

// Service handles authentication for the admin surface
type Service struct {
	repo      *database.Repository
	jwt       *JWTManager
	passwords *PasswordManager
	logger    *logging.Logger
	config    Config
}

// NewService creates a new authentication service
func NewService(repo *database.Repository, config Config) (*Service, error) {
	if config.JWTSecret == "" {
		return nil, fmt.Errorf("jwt secret is required")
	}
	if config.AccessTokenDuration <= 0 {
		config.AccessTokenDuration = DefaultConfig().AccessTokenDuration
	}

	return &Service{
		repo:      repo,
		jwt:       NewJWTManager(config.JWTSecret, config.AccessTokenDuration),
		passwords: NewPasswordManager(DefaultBcryptCost, config.MinPasswordLength),
		logger:    logging.Default().WithComponent("auth"),
		config:    config,
	}, nil
}

// JWT returns the token manager, for middleware wiring
func (s *Service) JWT() *JWTManager {
	return s.jwt
}

// Login authenticates a user by email and password
func (s *Service) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		// Burn a bcrypt comparison so response timing does not reveal
		// whether the account exists
		s.passwords.VerifyPassword(req.Password, "$2a$12$invalidhashinvalidhashinvalidhashinvalidhashinvalidha")
		return nil, ErrInvalidCredentials
	}

	if !s.passwords.VerifyPassword(req.Password, user.PasswordHash) {
		s.logger.WithField("email", req.Email).Warn("failed login attempt")
		return nil, ErrInvalidCredentials
	}

	token, err := s.jwt.GenerateAccessToken(UserClaims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	if err := s.repo.UpdateUserLastLogin(ctx, user.ID); err != nil {
		s.logger.WithError(err).Warn("failed to record last login")
	}

	s.logger.WithField("user_id", user.ID).Info("user logged in")

	return &LoginResponse{
		User:        toUserResponse(user),
		AccessToken: token,
		ExpiresIn:   s.jwt.GetAccessTokenDuration(),
		TokenType:   "Bearer",
	}, nil
}

// ChangePassword updates a user's password after verifying the current one
func (s *Service) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	if !s.passwords.VerifyPassword(req.CurrentPassword, user.PasswordHash) {
		return ErrInvalidCredentials
	}

	if err := s.passwords.ValidatePasswordStrength(req.NewPassword); err != nil {
		return AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}

	hash, err := s.passwords.HashPassword(req.NewPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.repo.UpdateUserPassword(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	s.logger.WithField("user_id", user.ID).Info("password changed")
	return nil
}

// GetUser returns the user record for the given ID
func (s *Service) GetUser(ctx context.Context, userID string) (*UserResponse, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}
	resp := toUserResponse(user)
	return &resp, nil
}

// CreateUser creates a new user account with the given role
func (s *Service) CreateUser(ctx context.Context, email, password, name, role string) (*database.User, error) {
	existing, err := s.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	if existing != nil {
		return nil, ErrEmailExists
	}

	if err := s.passwords.ValidatePasswordStrength(password); err != nil {
		return nil, AuthError{Code: ErrWeakPassword.Code, Message: err.Error()}
	}

	hash, err := s.passwords.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &database.User{
		Email:        email,
		PasswordHash: hash,
		Name:         name,
		Role:         role,
	}
	if err := s.repo.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	s.logger.WithField("user_id", user.ID).
		WithField("role", role).
		Info("user created")
	return user, nil
}

func toUserResponse(user *database.User) UserResponse {
	return UserResponse{
		ID:          user.ID,
		Email:       user.Email,
		Name:        user.Name,
		Role:        user.Role,
		CreatedAt:   user.CreatedAt,
		LastLoginAt: user.LastLoginAt,
	}
}
