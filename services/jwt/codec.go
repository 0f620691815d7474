package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidToken = errors.New("invalid JWT token")
	ErrExpiredToken = errors.New("JWT token has expired")

	ErrUnsupportedAlgorithm = errors.New("unsupported JWT algorithm")
)

// Claims is any claim set the codec can stamp with registered claims.
type Claims interface {
	jwt.Claims
	Registered() *jwt.RegisteredClaims
}

// AccessClaims is the payload of the access-token cookie.
type AccessClaims struct {
	UserID   uint   `json:"userID"`
	Username string `json:"username"`
	// OrigIat is the unix time of the login that started this token chain.
	OrigIat int64 `json:"origIat"`
	jwt.RegisteredClaims
}

func (c *AccessClaims) Registered() *jwt.RegisteredClaims {
	return &c.RegisteredClaims
}

// Codec signs and verifies claim sets with the configured algorithm and keys.
type Codec struct {
	config    *config.JWTConfig
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	parser    *jwt.Parser
	now       func() time.Time
	logger    *logging.Service
}

func NewCodec(cfg *config.Config, logger *logging.Service) (*Codec, error) {
	method := jwt.GetSigningMethod(cfg.JWT.Algorithm)
	if method == nil || method.Alg() == "none" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, cfg.JWT.Algorithm)
	}

	signKey, verifyKey, err := loadKeys(&cfg.JWT)
	if err != nil {
		return nil, err
	}

	c := &Codec{
		config:    &cfg.JWT,
		method:    method,
		signKey:   signKey,
		verifyKey: verifyKey,
		now:       time.Now,
		logger:    logger,
	}
	c.parser = c.newParser()

	if logger != nil {
		logger.Info("initializing token codec",
			zap.String("algorithm", method.Alg()),
			zap.Duration("access_expiry", cfg.JWT.AccessExpiry),
			zap.Duration("refresh_expiry", cfg.JWT.RefreshExpiry),
			zap.Bool("issuer_set", cfg.JWT.Issuer != ""))
	}

	return c, nil
}

func (c *Codec) newParser() *jwt.Parser {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(c.config.Leeway),
		jwt.WithTimeFunc(func() time.Time { return c.now() }),
	}
	if c.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(c.config.Issuer))
	}
	return jwt.NewParser(opts...)
}

// SetClock replaces the time source used for stamping and validation.
func (c *Codec) SetClock(now func() time.Time) {
	c.now = now
}

func (c *Codec) Now() time.Time {
	return c.now()
}

func (c *Codec) AccessExpiry() time.Duration {
	return c.config.AccessExpiry
}

func (c *Codec) RefreshExpiry() time.Duration {
	return c.config.RefreshExpiry
}

// Encode stamps iat, exp, jti and the configured issuer onto claims and signs them.
func (c *Codec) Encode(claims Claims, lifetime time.Duration) (string, error) {
	now := c.now()
	registered := claims.Registered()
	registered.IssuedAt = jwt.NewNumericDate(now)
	registered.ExpiresAt = jwt.NewNumericDate(now.Add(lifetime))
	registered.ID = uuid.NewString()
	if c.config.Issuer != "" {
		registered.Issuer = c.config.Issuer
	}

	signed, err := jwt.NewWithClaims(c.method, claims).SignedString(c.signKey)
	if err != nil {
		if c.logger != nil {
			c.logger.Error("failed to sign token", zap.Error(err))
		}
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Decode verifies token and fills claims. Expiry maps to ErrExpiredToken;
// every other violation maps to ErrInvalidToken.
func (c *Codec) Decode(token string, claims Claims) error {
	if token == "" {
		return ErrInvalidToken
	}

	_, err := c.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return c.verifyKey, nil
	})
	if err != nil {
		if c.logger != nil {
			c.logger.Debug("token validation failed", zap.Error(err))
		}
		if errors.Is(err, jwt.ErrTokenExpired) {
			return ErrExpiredToken
		}
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	// WithIssuedAt only validates iat when present.
	if claims.Registered().IssuedAt == nil {
		return fmt.Errorf("%w: missing iat", ErrInvalidToken)
	}

	return nil
}

// Remaining is the validity left on decoded claims.
func (c *Codec) Remaining(claims Claims) time.Duration {
	exp := claims.Registered().ExpiresAt
	if exp == nil {
		return 0
	}
	return exp.Sub(c.now())
}

func (c *Codec) EncodeAccess(userID uint, username string, origIat time.Time) (string, time.Time, error) {
	claims := &AccessClaims{
		UserID:   userID,
		Username: username,
		OrigIat:  origIat.Unix(),
	}
	token, err := c.Encode(claims, c.config.AccessExpiry)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, claims.ExpiresAt.Time, nil
}

func (c *Codec) DecodeAccess(token string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := c.Decode(token, claims); err != nil {
		return nil, err
	}
	return claims, nil
}
