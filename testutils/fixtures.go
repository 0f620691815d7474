package testutils

import (
	"time"

	"github.com/tech-arch1tect/chowkidar/config"
	"golang.org/x/crypto/bcrypt"
)

const TestSecret = "test-secret-key-32-chars-long!!!"

// GetTestConfig returns defaults adjusted for tests: an HMAC secret, sqlite
// in memory, insecure cookies and CSRF off.
func GetTestConfig() *config.Config {
	cfg := config.Default()
	cfg.JWT.SecretKey = TestSecret
	cfg.JWT.Issuer = "test-issuer"
	cfg.JWT.AccessExpiry = 5 * time.Minute
	cfg.JWT.RefreshExpiry = 7 * 24 * time.Hour
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = ":memory:"
	cfg.Cookie.Secure = false
	cfg.CSRF.Enabled = false
	cfg.Auth.BcryptCost = bcrypt.MinCost
	cfg.Log.Level = "error"
	return cfg
}

var TestUsers = struct {
	Alice struct {
		Username string
		Email    string
		Password string
	}
	Bob struct {
		Username string
		Email    string
		Password string
	}
}{
	Alice: struct {
		Username string
		Email    string
		Password string
	}{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "Password123",
	},
	Bob: struct {
		Username string
		Email    string
		Password string
	}{
		Username: "bob",
		Email:    "bob@example.com",
		Password: "Hunter2Hunter2",
	},
}

// Clock is a settable time source.
type Clock struct {
	T time.Time
}

func NewClock() *Clock {
	return &Clock{T: time.Now().Truncate(time.Second)}
}

func (c *Clock) Now() time.Time {
	return c.T
}

func (c *Clock) Advance(d time.Duration) {
	c.T = c.T.Add(d)
}
