package directory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUserNotFound indicates no directory entry exists for the identifier.
	ErrUserNotFound = errors.New("directory: user not found")
	// ErrInvalidUserID indicates an empty or malformed identifier.
	ErrInvalidUserID = errors.New("directory: invalid user id")

	errMissingDatabase = errors.New("database handle is required")

	noOpLogger = zap.NewNop()
)

// ServiceConfig configures the directory lookup service.
type ServiceConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Service resolves principals and tenants from the user directory. Lookups are
// read-only; account mutation belongs to the surrounding CRUD application.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService constructs a directory Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{db: cfg.Database, logger: logger}, nil
}

// FindUser returns the directory entry for the identifier.
func (s *Service) FindUser(ctx context.Context, userID string) (*User, error) {
	trimmed := strings.TrimSpace(userID)
	if trimmed == "" {
		return nil, ErrInvalidUserID
	}

	var user User
	err := s.db.WithContext(ctx).Where("id = ?", trimmed).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, trimmed)
	}
	if err != nil {
		s.logger.Error("directory lookup failed", zap.String("user_id", trimmed), zap.Error(err))
		return nil, err
	}
	return &user, nil
}

// FindGymOwner resolves the identifier to an active gym-owner entry, the
// tenant root for all scoped data.
func (s *Service) FindGymOwner(ctx context.Context, tenantID string) (*User, error) {
	user, err := s.FindUser(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if user.Role != RoleGymOwner {
		return nil, fmt.Errorf("%w: %s is not a gym owner", ErrUserNotFound, tenantID)
	}
	return user, nil
}

// Upsert stores a directory entry. Intended for seeding and for mirroring
// account changes pushed by the surrounding CRUD application.
func (s *Service) Upsert(ctx context.Context, user *User) error {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return ErrInvalidUserID
	}
	return s.db.WithContext(ctx).Save(user).Error
}
