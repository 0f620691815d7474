package config

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Server       ServerConfig       `envPrefix:"SERVER_"`
	Log          LogConfig          `envPrefix:"LOG_"`
	Database     DatabaseConfig     `envPrefix:"DATABASE_"`
	JWT          JWTConfig          `envPrefix:"JWT_"`
	RefreshToken RefreshTokenConfig `envPrefix:"REFRESH_TOKEN_"`
	Fingerprint  FingerprintConfig  `envPrefix:"FINGERPRINT_"`
	Cookie       CookieConfig       `envPrefix:"COOKIE_"`
	Auth         AuthConfig         `envPrefix:"AUTH_"`
	Redis        RedisConfig        `envPrefix:"REDIS_"`
	CSRF         CSRFConfig         `envPrefix:"CSRF_"`
	RateLimit    RateLimitConfig    `envPrefix:"RATE_LIMIT_"`
}

type ServerConfig struct {
	Port           string   `env:"PORT" envDefault:"8080"`
	Host           string   `env:"HOST" envDefault:"localhost"`
	TrustedProxies []string `env:"TRUSTED_PROXIES" envSeparator:","`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"json"`
	Output string `env:"OUTPUT" envDefault:"stdout"`
}

type DatabaseConfig struct {
	Driver      string `env:"DRIVER" envDefault:"sqlite"`
	DSN         string `env:"DSN" envDefault:"chowkidar.db"`
	AutoMigrate bool   `env:"AUTO_MIGRATE" envDefault:"true"`
	// Migrations selects the schema mechanism: "auto" (GORM AutoMigrate) or "goose".
	Migrations string `env:"MIGRATIONS" envDefault:"auto"`
}

// JWTConfig holds the signing setup shared by access and refresh cookies.
// HS* algorithms use SecretKey; RS*, PS*, ES* and EdDSA use the PEM key pair,
// given inline or by file path.
type JWTConfig struct {
	Algorithm      string        `env:"ALGORITHM" envDefault:"HS256"`
	SecretKey      string        `env:"SECRET_KEY"`
	PrivateKey     string        `env:"PRIVATE_KEY"`
	PublicKey      string        `env:"PUBLIC_KEY"`
	PrivateKeyFile string        `env:"PRIVATE_KEY_FILE"`
	PublicKeyFile  string        `env:"PUBLIC_KEY_FILE"`
	AccessExpiry   time.Duration `env:"ACCESS_EXPIRY" envDefault:"5m"`
	RefreshExpiry  time.Duration `env:"REFRESH_EXPIRY" envDefault:"168h"`
	Leeway         time.Duration `env:"LEEWAY" envDefault:"0s"`
	Issuer         string        `env:"ISSUER"`
}

type RefreshTokenConfig struct {
	Store        string        `env:"STORE" envDefault:"database"`
	SecretBytes  int           `env:"SECRET_BYTES" envDefault:"20"`
	LogIP        bool          `env:"LOG_IP" envDefault:"true"`
	LogUserAgent bool          `env:"LOG_USER_AGENT" envDefault:"true"`
	Retention    time.Duration `env:"RETENTION" envDefault:"720h"`
}

type FingerprintConfig struct {
	// SecretKey falls back to JWT.SecretKey when empty.
	SecretKey string `env:"SECRET_KEY"`
}

type CookieConfig struct {
	AccessName  string `env:"ACCESS_NAME" envDefault:"JWT_TOKEN"`
	RefreshName string `env:"REFRESH_NAME" envDefault:"JWT_REFRESH_TOKEN"`
	Secure      bool   `env:"SECURE" envDefault:"true"`
	HTTPOnly    bool   `env:"HTTP_ONLY" envDefault:"true"`
	SameSite    string `env:"SAME_SITE" envDefault:"lax"`
	Domain      string `env:"DOMAIN"`
	Path        string `env:"PATH" envDefault:"/"`
}

// HTTPSameSite is the SameSite attribute shared by every cookie the service
// sets. Unknown values fall back to lax.
func (c CookieConfig) HTTPSameSite() http.SameSite {
	switch c.SameSite {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteLaxMode
	}
}

type AuthConfig struct {
	PasswordMinLength          int  `env:"PASSWORD_MIN_LENGTH" envDefault:"8"`
	PasswordRequireUpper       bool `env:"PASSWORD_REQUIRE_UPPER" envDefault:"true"`
	PasswordRequireLower       bool `env:"PASSWORD_REQUIRE_LOWER" envDefault:"true"`
	PasswordRequireNumber      bool `env:"PASSWORD_REQUIRE_NUMBER" envDefault:"true"`
	PasswordRequireSpecial     bool `env:"PASSWORD_REQUIRE_SPECIAL" envDefault:"false"`
	BcryptCost                 int  `env:"BCRYPT_COST" envDefault:"10"`
	UpdateLastLoginOnAuth      bool `env:"UPDATE_LAST_LOGIN_ON_AUTH" envDefault:"true"`
	UpdateLastLoginOnRefresh   bool `env:"UPDATE_LAST_LOGIN_ON_REFRESH" envDefault:"false"`
	IssueAccessOnLogin         bool `env:"ISSUE_ACCESS_ON_LOGIN" envDefault:"false"`
	RevokeOtherSessionsOnLogin bool `env:"REVOKE_OTHER_SESSIONS_ON_LOGIN" envDefault:"false"`
}

type RedisConfig struct {
	Addr     string `env:"ADDR" envDefault:"localhost:6379"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	Prefix   string `env:"PREFIX" envDefault:"chowkidar"`
}

type CSRFConfig struct {
	Enabled        bool   `env:"ENABLED" envDefault:"true"`
	TokenLength    uint8  `env:"TOKEN_LENGTH" envDefault:"32"`
	TokenLookup    string `env:"TOKEN_LOOKUP" envDefault:"header:X-CSRF-Token"`
	ContextKey     string `env:"CONTEXT_KEY" envDefault:"csrf"`
	CookieName     string `env:"COOKIE_NAME" envDefault:"_csrf"`
	CookieMaxAge   int    `env:"COOKIE_MAX_AGE" envDefault:"86400"`
	CookieHTTPOnly bool   `env:"COOKIE_HTTP_ONLY" envDefault:"false"`
}

type CountingMode string

const (
	CountAll      CountingMode = "all"
	CountFailures CountingMode = "failures"
	CountSuccess  CountingMode = "success"
)

type RateLimitConfig struct {
	Store       string        `env:"STORE" envDefault:"memory"`
	LoginRate   int           `env:"LOGIN_RATE" envDefault:"5"`
	LoginPeriod time.Duration `env:"LOGIN_PERIOD" envDefault:"1m"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

func LoadConfig(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("No .env file loaded: %v", err)
	}

	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("failed to parse environment: %w", err)
	}

	return cfg.Validate()
}

// Default returns the documented defaults without reading the environment.
func Default() *Config {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{}}); err != nil {
		panic(err)
	}
	return cfg
}

func (c *Config) Validate() error {
	err := errors.Join(
		validateJWTConfig(&c.JWT),
		validateRefreshTokenConfig(&c.RefreshToken),
		validateCookieConfig(&c.Cookie),
	)

	switch {
	case c.Fingerprint.SecretKey == "" && c.JWT.SecretKey == "":
		err = errors.Join(err, errors.New("FINGERPRINT_SECRET_KEY is required when JWT_SECRET_KEY is empty"))
	case c.Fingerprint.SecretKey != "" && len(c.Fingerprint.SecretKey) < 32:
		err = errors.Join(err, errors.New("fingerprint secret key must be at least 32 characters long"))
	}

	switch c.Database.Migrations {
	case "", "auto", "goose":
	default:
		err = errors.Join(err, fmt.Errorf("unknown migration mode %q", c.Database.Migrations))
	}

	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		err = errors.Join(err, fmt.Errorf("rate limit store must be memory or redis, got %q", c.RateLimit.Store))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "postgresql", "mysql":
	default:
		err = errors.Join(err, fmt.Errorf("unsupported database driver %q", c.Database.Driver))
	}

	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func validateJWTConfig(cfg *JWTConfig) error {
	var err error

	switch {
	case strings.HasPrefix(cfg.Algorithm, "HS"):
		if len(cfg.SecretKey) < 32 {
			err = errors.Join(err, errors.New("JWT secret key must be at least 32 characters long"))
		}
	case strings.HasPrefix(cfg.Algorithm, "RS"), strings.HasPrefix(cfg.Algorithm, "PS"),
		strings.HasPrefix(cfg.Algorithm, "ES"), cfg.Algorithm == "EdDSA":
		if cfg.PublicKey == "" && cfg.PublicKeyFile == "" {
			err = errors.Join(err, fmt.Errorf("a public key is required for %s", cfg.Algorithm))
		}
		if cfg.PrivateKey == "" && cfg.PrivateKeyFile == "" {
			err = errors.Join(err, fmt.Errorf("a private key is required for %s", cfg.Algorithm))
		}
	default:
		err = errors.Join(err, fmt.Errorf("unsupported JWT algorithm %q", cfg.Algorithm))
	}

	if cfg.AccessExpiry <= 0 || cfg.RefreshExpiry <= 0 {
		err = errors.Join(err, errors.New("token lifetimes must be positive"))
	} else if cfg.RefreshExpiry <= cfg.AccessExpiry {
		err = errors.Join(err, errors.New("refresh lifetime must exceed access lifetime"))
	}

	if cfg.Leeway < 0 {
		err = errors.Join(err, errors.New("JWT leeway cannot be negative"))
	}

	return err
}

func validateRefreshTokenConfig(cfg *RefreshTokenConfig) error {
	var err error

	if cfg.SecretBytes < 16 {
		err = errors.Join(err, errors.New("refresh token secret must be at least 16 bytes"))
	}
	if cfg.SecretBytes > 64 {
		err = errors.Join(err, errors.New("refresh token secret cannot exceed 64 bytes"))
	}

	if cfg.Retention < 0 {
		err = errors.Join(err, errors.New("refresh token retention cannot be negative"))
	}

	switch cfg.Store {
	case "database", "redis":
	default:
		err = errors.Join(err, fmt.Errorf("refresh token store must be database or redis, got %q", cfg.Store))
	}

	return err
}

func validateCookieConfig(cfg *CookieConfig) error {
	var err error

	switch cfg.SameSite {
	case "strict", "lax", "none":
	default:
		err = errors.Join(err, fmt.Errorf("cookie SameSite must be strict, lax, or none, got %q", cfg.SameSite))
	}

	if cfg.AccessName == "" || cfg.RefreshName == "" {
		err = errors.Join(err, errors.New("cookie names cannot be empty"))
	} else if cfg.AccessName == cfg.RefreshName {
		err = errors.Join(err, errors.New("access and refresh cookies need distinct names"))
	}

	return err
}

// UsesRedis reports whether any component is backed by Redis.
func (c *Config) UsesRedis() bool {
	return c.RefreshToken.Store == "redis" || c.RateLimit.Store == "redis"
}

// FingerprintSecret is the HMAC key used for fingerprint tokens.
func (c *Config) FingerprintSecret() []byte {
	if c.Fingerprint.SecretKey != "" {
		return []byte(c.Fingerprint.SecretKey)
	}
	return []byte(c.JWT.SecretKey)
}
