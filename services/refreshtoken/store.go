package refreshtoken

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTokenNotFound    = errors.New("refresh token not found")
	ErrSecretConflict   = errors.New("refresh token secret already in use")
	ErrTokenRevoked     = errors.New("refresh token already revoked")
	ErrStoreUnavailable = errors.New("refresh token store unavailable")
)

// Store persists refresh tokens. Implementations must reject a second row
// with an existing SecretHash, and must apply Rotate as a single unit so that
// exactly one of any concurrent rotations of the same row succeeds.
type Store interface {
	// Create assigns token.ID. A taken SecretHash fails with ErrSecretConflict.
	Create(ctx context.Context, token *RefreshToken) error

	// FindActiveBySecret returns the non-revoked row for secret, or
	// ErrTokenNotFound.
	FindActiveBySecret(ctx context.Context, secret string) (*RefreshToken, error)

	// Revoke sets RevokedAt once. Revoking a revoked row leaves the original
	// timestamp in place and is not an error.
	Revoke(ctx context.Context, token *RefreshToken, at time.Time) error

	// Rotate revokes old and creates next together. When old is no longer
	// active nothing is written and ErrTokenRevoked is returned.
	Rotate(ctx context.Context, old, next *RefreshToken, at time.Time) error

	// RevokeAllExcept revokes every active row of userID whose secret is not
	// exceptSecret and reports how many were revoked.
	RevokeAllExcept(ctx context.Context, userID uint, exceptSecret string, at time.Time) (int64, error)

	// Purge deletes rows revoked before revokedBefore and rows issued before
	// issuedBefore.
	Purge(ctx context.Context, revokedBefore, issuedBefore time.Time) (int64, error)
}
