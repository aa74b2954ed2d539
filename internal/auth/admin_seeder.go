package auth

import (
	"context"
	"fmt"

	"embpay-license-server/internal/database"
)

// SeedAdmin ensures an initial admin account exists. It is a no-op when the
// configured admin email is empty or the account already exists, so restarts
// are safe.
func (s *Service) SeedAdmin(ctx context.Context) error {
	if s.config.AdminEmail == "" {
		s.logger.Debug("no admin email configured, skipping admin seed")
		return nil
	}

	existing, err := s.repo.GetUserByEmail(ctx, s.config.AdminEmail)
	if err != nil {
		return fmt.Errorf("failed to check for existing admin: %w", err)
	}
	if existing != nil {
		return nil
	}

	if s.config.AdminPassword == "" {
		return fmt.Errorf("admin email configured without admin password")
	}

	hash, err := s.passwords.HashPassword(s.config.AdminPassword)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}

	admin := &database.User{
		Email:        s.config.AdminEmail,
		PasswordHash: hash,
		Name:         "Administrator",
		Role:         database.RoleSuperAdmin,
	}
	if err := s.repo.CreateUser(ctx, admin); err != nil {
		return fmt.Errorf("failed to create admin account: %w", err)
	}

	s.logger.WithField("email", s.config.AdminEmail).Info("seeded initial admin account")
	return nil
}
