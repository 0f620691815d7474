package refreshtoken

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
	jwtservice "github.com/tech-arch1tect/chowkidar/services/jwt"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrInvalidTokenPayload = errors.New("invalid refresh token payload")
	ErrRefreshTokenExpired = errors.New("refresh token has expired")
)

const maxSecretAttempts = 3

// CookieClaims is the payload of the refresh-token cookie: the row secret
// plus the client it was issued to, both in the clear and as a signed
// fingerprint.
type CookieClaims struct {
	RefreshToken string  `json:"refreshToken"`
	Fingerprint  string  `json:"fingerprint"`
	IP           *string `json:"ip"`
	UserAgent    *string `json:"userAgent"`
	jwt.RegisteredClaims
}

func (c *CookieClaims) Registered() *jwt.RegisteredClaims {
	return &c.RegisteredClaims
}

func (c *CookieClaims) Client() fingerprint.Client {
	return fingerprint.Client{IP: c.IP, UserAgent: c.UserAgent}
}

// Service owns issuance, verification, rotation and revocation of refresh
// tokens. It keeps no state between calls; the store is the only point of
// coordination.
type Service struct {
	store        Store
	codec        *jwtservice.Codec
	fingerprints *fingerprint.Service
	config       *config.Config
	newSecret    func() (string, error)
	logger       *logging.Service
}

func NewService(store Store, codec *jwtservice.Codec, fingerprints *fingerprint.Service, cfg *config.Config, logger *logging.Service) *Service {
	s := &Service{
		store:        store,
		codec:        codec,
		fingerprints: fingerprints,
		config:       cfg,
		logger:       logger,
	}
	s.newSecret = s.randomSecret

	if logger != nil {
		logger.Info("initializing refresh token service",
			zap.String("store", cfg.RefreshToken.Store),
			zap.Duration("refresh_expiry", codec.RefreshExpiry()),
			zap.Int("secret_bytes", cfg.RefreshToken.SecretBytes),
			zap.Bool("log_ip", cfg.RefreshToken.LogIP),
			zap.Bool("log_user_agent", cfg.RefreshToken.LogUserAgent))
	}

	return s
}

// SetSecretGenerator replaces the random secret source.
func (s *Service) SetSecretGenerator(fn func() (string, error)) {
	s.newSecret = fn
}

func (s *Service) Lifetime() time.Duration {
	return s.codec.RefreshExpiry()
}

func (s *Service) randomSecret() (string, error) {
	buf := make([]byte, s.config.RefreshToken.SecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate refresh token secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// now is the timestamp written to the store. Rows are kept in UTC at
// microsecond precision so every backend compares them the same way.
func (s *Service) now() time.Time {
	return s.codec.Now().UTC().Truncate(time.Microsecond)
}

func (s *Service) newRow(userID uint, client fingerprint.Client, now time.Time) (*RefreshToken, error) {
	secret, err := s.newSecret()
	if err != nil {
		return nil, err
	}

	client = s.fingerprints.Mask(client)
	return &RefreshToken{
		UserID:     userID,
		Secret:     secret,
		SecretHash: HashSecret(secret),
		IssuedAt:   now,
		IP:         client.IP,
		UserAgent:  client.UserAgent,
	}, nil
}

// Issue creates a new active row for userID bound to client.
func (s *Service) Issue(ctx context.Context, userID uint, client fingerprint.Client) (*RefreshToken, error) {
	for attempt := 1; ; attempt++ {
		row, err := s.newRow(userID, client, s.now())
		if err != nil {
			return nil, err
		}

		err = s.store.Create(ctx, row)
		if err == nil {
			if s.logger != nil {
				s.logger.Info("refresh token issued",
					append(fingerprint.LogFields(row.Client()),
						zap.Uint("user_id", userID),
						zap.Uint("token_id", row.ID))...)
			}
			return row, nil
		}

		if !errors.Is(err, ErrSecretConflict) || attempt == maxSecretAttempts {
			return nil, fmt.Errorf("failed to issue refresh token: %w", err)
		}
		if s.logger != nil {
			s.logger.Warn("refresh token secret collision, retrying", zap.Int("attempt", attempt))
		}
	}
}

// Verify checks a refresh cookie against its own fingerprint and the store,
// returning the active row it names.
func (s *Service) Verify(ctx context.Context, cookie string) (*RefreshToken, error) {
	claims := &CookieClaims{}
	if err := s.codec.Decode(cookie, claims); err != nil {
		if errors.Is(err, jwtservice.ErrExpiredToken) {
			return nil, ErrRefreshTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
	}

	captured, err := s.fingerprints.Verify(claims.Fingerprint)
	if err != nil {
		return nil, err
	}
	if !s.fingerprints.Equal(captured, claims.Client()) {
		s.warn("refresh cookie fingerprint does not match its claims", claims.RefreshToken)
		return nil, ErrInvalidTokenPayload
	}

	row, err := s.store.FindActiveBySecret(ctx, claims.RefreshToken)
	if err != nil {
		if errors.Is(err, ErrTokenNotFound) {
			return nil, ErrInvalidRefreshToken
		}
		return nil, err
	}
	row.Secret = claims.RefreshToken

	if !s.fingerprints.Equal(row.Client(), claims.Client()) {
		s.warn("refresh cookie claims do not match stored token", claims.RefreshToken,
			zap.Uint("token_id", row.ID),
			zap.Uint("user_id", row.UserID))
		return nil, ErrInvalidTokenPayload
	}

	if row.Expired(s.codec.Now(), s.Lifetime()) {
		return nil, ErrRefreshTokenExpired
	}

	return row, nil
}

// NeedsRotation reports whether the current client differs from the one the
// row was issued to.
func (s *Service) NeedsRotation(row *RefreshToken, current fingerprint.Client) bool {
	return !s.fingerprints.Equal(row.Client(), s.fingerprints.Mask(current))
}

// Rotate atomically revokes old and issues its replacement bound to client.
// Losing a concurrent rotation of the same row fails with
// ErrInvalidRefreshToken.
func (s *Service) Rotate(ctx context.Context, old *RefreshToken, client fingerprint.Client) (*RefreshToken, error) {
	for attempt := 1; ; attempt++ {
		now := s.now()
		next, err := s.newRow(old.UserID, client, now)
		if err != nil {
			return nil, err
		}

		err = s.store.Rotate(ctx, old, next, now)
		switch {
		case err == nil:
			if s.logger != nil {
				s.logger.Info("refresh token rotated",
					append(fingerprint.LogFields(next.Client()),
						zap.Uint("user_id", old.UserID),
						zap.Uint("old_token_id", old.ID),
						zap.Uint("new_token_id", next.ID))...)
			}
			return next, nil
		case errors.Is(err, ErrTokenRevoked):
			if s.logger != nil {
				s.logger.Info("refresh token rotation lost to a concurrent rotation",
					zap.Uint("token_id", old.ID))
			}
			return nil, fmt.Errorf("%w: %w", ErrInvalidRefreshToken, err)
		case errors.Is(err, ErrSecretConflict) && attempt < maxSecretAttempts:
			continue
		default:
			return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
		}
	}
}

// Revoke marks row revoked. Revoking twice keeps the first timestamp.
func (s *Service) Revoke(ctx context.Context, row *RefreshToken) error {
	if err := s.store.Revoke(ctx, row, s.now()); err != nil {
		return err
	}

	if s.logger != nil {
		s.logger.Info("refresh token revoked",
			zap.Uint("token_id", row.ID),
			zap.Uint("user_id", row.UserID))
	}
	return nil
}

// RevokeByCookie revokes the row named by a refresh cookie.
func (s *Service) RevokeByCookie(ctx context.Context, cookie string) error {
	row, err := s.Verify(ctx, cookie)
	if err != nil {
		return err
	}
	return s.Revoke(ctx, row)
}

// RevokeAllExcept revokes the user's other active rows.
func (s *Service) RevokeAllExcept(ctx context.Context, userID uint, exceptSecret string) (int64, error) {
	count, err := s.store.RevokeAllExcept(ctx, userID, exceptSecret, s.now())
	if err != nil {
		return 0, err
	}

	if s.logger != nil {
		s.logger.Info("revoked sibling refresh tokens",
			zap.Uint("user_id", userID),
			zap.Int64("count", count))
	}
	return count, nil
}

// EncodeCookie signs the refresh cookie for a row that still carries its
// secret. The cookie expires together with the row.
func (s *Service) EncodeCookie(row *RefreshToken) (string, time.Time, error) {
	if row.Secret == "" {
		return "", time.Time{}, fmt.Errorf("%w: row has no secret", ErrInvalidRefreshToken)
	}

	expiresAt := row.ExpiresAt(s.Lifetime())
	remaining := expiresAt.Sub(s.codec.Now())
	if remaining <= 0 {
		return "", time.Time{}, ErrRefreshTokenExpired
	}

	client := row.Client()
	fp, err := s.fingerprints.Derive(client)
	if err != nil {
		return "", time.Time{}, err
	}

	token, err := s.codec.Encode(&CookieClaims{
		RefreshToken: row.Secret,
		Fingerprint:  fp,
		IP:           client.IP,
		UserAgent:    client.UserAgent,
	}, remaining)
	if err != nil {
		return "", time.Time{}, err
	}

	return token, expiresAt, nil
}

// Purge deletes rows that have been revoked or expired for longer than the
// retention period.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	now := s.now()
	retention := s.config.RefreshToken.Retention

	count, err := s.store.Purge(ctx, now.Add(-retention), now.Add(-s.Lifetime()-retention))
	if err != nil {
		return 0, err
	}

	if s.logger != nil {
		s.logger.Info("purged refresh tokens",
			zap.Int64("count", count),
			zap.Duration("retention", retention))
	}
	return count, nil
}

func (s *Service) warn(msg, secret string, fields ...zap.Field) {
	if s.logger == nil {
		return
	}
	if secret != "" {
		fields = append(fields, zap.String("secret_hash", hashPrefix(HashSecret(secret))))
	}
	s.logger.Warn(msg, fields...)
}
