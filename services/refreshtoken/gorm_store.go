package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GormStore keeps refresh tokens in the refresh_tokens table. The database
// must be opened with TranslateError so unique violations surface as
// gorm.ErrDuplicatedKey.
type GormStore struct {
	db     *gorm.DB
	logger *logging.Service
}

func NewGormStore(db *gorm.DB, logger *logging.Service) *GormStore {
	return &GormStore{db: db, logger: logger}
}

func (s *GormStore) Create(ctx context.Context, token *RefreshToken) error {
	if err := s.db.WithContext(ctx).Create(token).Error; err != nil {
		return s.translate("create", err)
	}
	return nil
}

func (s *GormStore) FindActiveBySecret(ctx context.Context, secret string) (*RefreshToken, error) {
	var token RefreshToken
	err := s.db.WithContext(ctx).
		Where("secret_hash = ? AND revoked_at IS NULL", HashSecret(secret)).
		First(&token).Error
	if err != nil {
		return nil, s.translate("find", err)
	}
	return &token, nil
}

func (s *GormStore) Revoke(ctx context.Context, token *RefreshToken, at time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", token.ID).
			Update("revoked_at", at)
		if result.Error != nil {
			return s.translate("revoke", result.Error)
		}
		if result.RowsAffected == 1 {
			token.RevokedAt = &at
			return nil
		}

		var current RefreshToken
		if err := tx.Select("id", "revoked_at").First(&current, token.ID).Error; err != nil {
			return s.translate("revoke", err)
		}
		token.RevokedAt = current.RevokedAt
		return nil
	})
}

func (s *GormStore) Rotate(ctx context.Context, old, next *RefreshToken, at time.Time) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&RefreshToken{}).
			Where("id = ? AND revoked_at IS NULL", old.ID).
			Update("revoked_at", at)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected != 1 {
			return ErrTokenRevoked
		}
		return tx.Create(next).Error
	})
	if err != nil {
		next.ID = 0
		return s.translate("rotate", err)
	}

	old.RevokedAt = &at
	return nil
}

func (s *GormStore) RevokeAllExcept(ctx context.Context, userID uint, exceptSecret string, at time.Time) (int64, error) {
	query := s.db.WithContext(ctx).Model(&RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", userID)
	if exceptSecret != "" {
		query = query.Where("secret_hash <> ?", HashSecret(exceptSecret))
	}

	result := query.Update("revoked_at", at)
	if result.Error != nil {
		return 0, s.translate("revoke all", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) Purge(ctx context.Context, revokedBefore, issuedBefore time.Time) (int64, error) {
	result := s.db.WithContext(ctx).
		Where("(revoked_at IS NOT NULL AND revoked_at < ?) OR issued_at < ?", revokedBefore, issuedBefore).
		Delete(&RefreshToken{})
	if result.Error != nil {
		return 0, s.translate("purge", result.Error)
	}
	return result.RowsAffected, nil
}

func (s *GormStore) translate(op string, err error) error {
	switch {
	case errors.Is(err, ErrTokenRevoked):
		return err
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrTokenNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrSecretConflict
	}

	if s.logger != nil {
		s.logger.Error("refresh token store operation failed",
			zap.String("op", op),
			zap.Error(err))
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
