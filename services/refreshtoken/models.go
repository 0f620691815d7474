package refreshtoken

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
)

type State int

const (
	StateActive State = iota
	StateRevoked
)

func (s State) String() string {
	if s == StateRevoked {
		return "revoked"
	}
	return "active"
}

// RefreshToken is one issued refresh credential. Only RevokedAt ever changes
// after creation.
type RefreshToken struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	UserID     uint       `json:"user_id" gorm:"not null;index"`
	SecretHash string     `json:"-" gorm:"uniqueIndex;size:64;not null"`
	IssuedAt   time.Time  `json:"issued_at" gorm:"not null;index"`
	RevokedAt  *time.Time `json:"revoked_at" gorm:"index"`
	IP         *string    `json:"ip" gorm:"size:45"`
	UserAgent  *string    `json:"user_agent" gorm:"size:500"`

	// Secret is set on rows returned by Issue and Rotate, or on rows
	// looked up with it. It is never persisted.
	Secret string `json:"-" gorm:"-"`
}

func (RefreshToken) TableName() string {
	return "refresh_tokens"
}

// Client is the client metadata captured when the row was issued.
func (t *RefreshToken) Client() fingerprint.Client {
	return fingerprint.Client{IP: t.IP, UserAgent: t.UserAgent}
}

func (t *RefreshToken) State() State {
	if t.RevokedAt != nil {
		return StateRevoked
	}
	return StateActive
}

// ExpiresAt is the end of the row's validity for a given refresh lifetime.
func (t *RefreshToken) ExpiresAt(lifetime time.Duration) time.Time {
	return t.IssuedAt.Add(lifetime)
}

func (t *RefreshToken) Expired(now time.Time, lifetime time.Duration) bool {
	return !t.ExpiresAt(lifetime).After(now)
}

// HashSecret is the lookup key stored in place of a raw secret.
func HashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func hashPrefix(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
