package auth

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+$`)

// LoginPolicy decides whether a user with valid credentials may log in.
type LoginPolicy func(user *User) bool

func ActiveUsers(user *User) bool {
	return user.IsActive
}

type Service struct {
	config      *config.AuthConfig
	db          *gorm.DB
	loginPolicy LoginPolicy
	logger      *logging.Service

	dummyOnce sync.Once
	dummyHash []byte
}

func NewService(cfg *config.Config, db *gorm.DB, logger *logging.Service) *Service {
	authCfg := cfg.Auth
	if authCfg.BcryptCost < bcrypt.MinCost || authCfg.BcryptCost > bcrypt.MaxCost {
		authCfg.BcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		config:      &authCfg,
		db:          db,
		loginPolicy: ActiveUsers,
		logger:      logger,
	}
}

func (s *Service) SetLoginPolicy(policy LoginPolicy) {
	s.loginPolicy = policy
}

// Authenticate verifies credentials. Failures are *Error values with a
// stable code.
func (s *Service) Authenticate(ctx context.Context, creds Credentials) (*User, error) {
	username := creds.Username
	failure := ErrInvalidCredentials

	if username == "" {
		if creds.Email == "" {
			return nil, ErrMissingIdentifier
		}

		resolved, err := s.usernameForEmail(ctx, creds.Email)
		if err != nil {
			return nil, err
		}
		username = resolved
		failure = errInvalidEmailCredentials
	}

	var user User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to load user: %w", err)
		}
		// keep response timing independent of whether the user exists
		_ = bcrypt.CompareHashAndPassword(s.dummy(), []byte(creds.Password))
		s.logFailure("unknown user", username)
		return nil, failure
	}

	if err := s.VerifyPassword(user.PasswordHash, creds.Password); err != nil {
		s.logFailure("wrong password", username)
		return nil, failure
	}

	if s.loginPolicy != nil && !s.loginPolicy(&user) {
		s.logFailure("login not permitted", username)
		return nil, failure
	}

	if s.logger != nil {
		s.logger.Info("user authenticated",
			zap.Uint("user_id", user.ID),
			zap.String("username", user.Username))
	}
	return &user, nil
}

func (s *Service) usernameForEmail(ctx context.Context, email string) (string, error) {
	if !emailPattern.MatchString(email) {
		return "", ErrInvalidEmail
	}

	var users []User
	err := s.db.WithContext(ctx).
		Select("id", "username").
		Where("email = ?", email).
		Limit(2).
		Find(&users).Error
	if err != nil {
		return "", fmt.Errorf("failed to look up email: %w", err)
	}

	switch len(users) {
	case 0:
		return "", ErrEmailNotFound
	case 1:
		return users[0].Username, nil
	default:
		return "", ErrEmailNotUnique
	}
}

func (s *Service) dummy() []byte {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = bcrypt.GenerateFromPassword([]byte("chowkidar-dummy-password"), s.config.BcryptCost)
	})
	return s.dummyHash
}

func (s *Service) logFailure(reason, username string) {
	if s.logger != nil {
		s.logger.Warn("authentication failed",
			zap.String("reason", reason),
			zap.String("username", username))
	}
}

func (s *Service) ValidatePassword(password string) error {
	if len(password) < s.config.PasswordMinLength {
		return fmt.Errorf("password must be at least %d characters", s.config.PasswordMinLength)
	}

	var hasUpper, hasLower, hasNumber, hasSpecial bool
	for _, char := range password {
		switch {
		case unicode.IsUpper(char):
			hasUpper = true
		case unicode.IsLower(char):
			hasLower = true
		case unicode.IsNumber(char):
			hasNumber = true
		case unicode.IsPunct(char) || unicode.IsSymbol(char):
			hasSpecial = true
		}
	}

	var missing []string
	if s.config.PasswordRequireUpper && !hasUpper {
		missing = append(missing, "one uppercase letter")
	}
	if s.config.PasswordRequireLower && !hasLower {
		missing = append(missing, "one lowercase letter")
	}
	if s.config.PasswordRequireNumber && !hasNumber {
		missing = append(missing, "one number")
	}
	if s.config.PasswordRequireSpecial && !hasSpecial {
		missing = append(missing, "one special character")
	}

	if len(missing) > 0 {
		return fmt.Errorf("password must contain at least %s", strings.Join(missing, ", "))
	}
	return nil
}

func (s *Service) HashPassword(password string) (string, error) {
	if err := s.ValidatePassword(password); err != nil {
		return "", err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.config.BcryptCost)
	if err != nil {
		if s.logger != nil {
			s.logger.Error("password hashing failed", zap.Error(err))
		}
		return "", ErrPasswordHashingFailed
	}
	return string(hash), nil
}

func (s *Service) VerifyPassword(hashedPassword, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

func (s *Service) CreateUser(ctx context.Context, username, email, password string) (*User, error) {
	if username == "" {
		return nil, ErrMissingIdentifier
	}
	if email != "" && !emailPattern.MatchString(email) {
		return nil, ErrInvalidEmail
	}

	hash, err := s.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrUsernameTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if s.logger != nil {
		s.logger.Info("user created",
			zap.Uint("user_id", user.ID),
			zap.String("username", user.Username))
	}
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, userID uint) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// Username returns the username placed in access-token claims.
func (s *Service) Username(ctx context.Context, userID uint) (string, error) {
	var user User
	err := s.db.WithContext(ctx).Select("id", "username").First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	return user.Username, nil
}

// RecordLogin stores at as the user's last login.
func (s *Service) RecordLogin(ctx context.Context, userID uint, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("last_login", at)
	if result.Error != nil {
		return fmt.Errorf("failed to record login: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

func (s *Service) SetActive(ctx context.Context, userID uint, active bool) error {
	result := s.db.WithContext(ctx).Model(&User{}).Where("id = ?", userID).Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update user: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}
