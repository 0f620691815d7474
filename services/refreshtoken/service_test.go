package refreshtoken

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/fingerprint"
	jwtservice "github.com/tech-arch1tect/chowkidar/services/jwt"
	"github.com/tech-arch1tect/chowkidar/testutils"
)

type testEnv struct {
	cfg          *config.Config
	clock        *testutils.Clock
	codec        *jwtservice.Codec
	fingerprints *fingerprint.Service
	store        Store
	service      *Service
}

func newTestEnv(t *testing.T, backend string, mutate ...func(*config.Config)) *testEnv {
	t.Helper()

	cfg := testutils.GetTestConfig()
	cfg.RefreshToken.Store = backend
	for _, m := range mutate {
		m(cfg)
	}

	clock := testutils.NewClock()
	codec, err := jwtservice.NewCodec(cfg, nil)
	require.NoError(t, err)
	codec.SetClock(clock.Now)

	fingerprints := fingerprint.NewService(cfg, nil)
	store := newTestStore(t, backend)

	return &testEnv{
		cfg:          cfg,
		clock:        clock,
		codec:        codec,
		fingerprints: fingerprints,
		store:        store,
		service:      NewService(store, codec, fingerprints, cfg, nil),
	}
}

func client(ip, agent string) fingerprint.Client {
	return fingerprint.Client{IP: fingerprint.String(ip), UserAgent: fingerprint.String(agent)}
}

// issueCookie logs userID in from c and returns the row and its cookie.
func (e *testEnv) issueCookie(t *testing.T, userID uint, c fingerprint.Client) (*RefreshToken, string) {
	t.Helper()

	row, err := e.service.Issue(context.Background(), userID, c)
	require.NoError(t, err)

	cookie, _, err := e.service.EncodeCookie(row)
	require.NoError(t, err)
	return row, cookie
}

// forgeCookie signs cookie claims directly, so claims and fingerprint can
// disagree.
func (e *testEnv) forgeCookie(t *testing.T, secret string, claimed, captured fingerprint.Client, lifetime time.Duration) string {
	t.Helper()

	fp, err := e.fingerprints.Derive(captured)
	require.NoError(t, err)

	cookie, err := e.codec.Encode(&CookieClaims{
		RefreshToken: secret,
		Fingerprint:  fp,
		IP:           claimed.IP,
		UserAgent:    claimed.UserAgent,
	}, lifetime)
	require.NoError(t, err)
	return cookie
}

func TestService_Issue(t *testing.T) {
	env := newTestEnv(t, "database")

	row, err := env.service.Issue(context.Background(), 42, client("1.1.1.1", "agent"))
	require.NoError(t, err)

	assert.NotZero(t, row.ID)
	assert.Equal(t, uint(42), row.UserID)
	assert.Len(t, row.Secret, 2*env.cfg.RefreshToken.SecretBytes)
	assert.Equal(t, HashSecret(row.Secret), row.SecretHash)
	assert.True(t, env.clock.Now().UTC().Truncate(time.Microsecond).Equal(row.IssuedAt))
	assert.Equal(t, StateActive, row.State())

	other, err := env.service.Issue(context.Background(), 42, client("1.1.1.1", "agent"))
	require.NoError(t, err)
	assert.NotEqual(t, row.Secret, other.Secret)
}

func TestService_IssueRespectsCaptureSettings(t *testing.T) {
	env := newTestEnv(t, "database", func(cfg *config.Config) {
		cfg.RefreshToken.LogIP = false
	})

	row, err := env.service.Issue(context.Background(), 1, client("1.1.1.1", "agent"))
	require.NoError(t, err)
	assert.Nil(t, row.IP)
	require.NotNil(t, row.UserAgent)
	assert.Equal(t, "agent", *row.UserAgent)
}

func sequence(secrets ...string) func() (string, error) {
	var mu sync.Mutex
	i := 0
	return func() (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(secrets) {
			return "", errors.New("sequence exhausted")
		}
		s := secrets[i]
		i++
		return s, nil
	}
}

func TestService_IssueRetriesSecretCollision(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, backend)
			ctx := context.Background()

			env.service.SetSecretGenerator(sequence("taken", "taken", "fresh"))
			_, err := env.service.Issue(ctx, 1, client("1.1.1.1", "agent"))
			require.NoError(t, err)

			row, err := env.service.Issue(ctx, 1, client("1.1.1.1", "agent"))
			require.NoError(t, err)
			assert.Equal(t, "fresh", row.Secret)

			env.service.SetSecretGenerator(sequence("taken", "taken", "taken", "unused"))
			_, err = env.service.Issue(ctx, 1, client("1.1.1.1", "agent"))
			assert.ErrorIs(t, err, ErrSecretConflict)
		})
	}
}

func TestService_Verify(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, backend)
			ctx := context.Background()
			alice := client("1.1.1.1", "firefox")

			row, cookie := env.issueCookie(t, 1, alice)

			t.Run("valid cookie", func(t *testing.T) {
				verified, err := env.service.Verify(ctx, cookie)
				require.NoError(t, err)
				assert.Equal(t, row.ID, verified.ID)
				assert.Equal(t, row.Secret, verified.Secret)
			})

			t.Run("garbage cookie", func(t *testing.T) {
				_, err := env.service.Verify(ctx, "not-a-jwt")
				assert.ErrorIs(t, err, ErrInvalidRefreshToken)

				_, err = env.service.Verify(ctx, "")
				assert.ErrorIs(t, err, ErrInvalidRefreshToken)
			})

			t.Run("unknown secret", func(t *testing.T) {
				forged := env.forgeCookie(t, "never-issued", alice, alice, time.Hour)
				_, err := env.service.Verify(ctx, forged)
				assert.ErrorIs(t, err, ErrInvalidRefreshToken)
			})

			t.Run("forged fingerprint signature", func(t *testing.T) {
				forged, err := env.codec.Encode(&CookieClaims{
					RefreshToken: row.Secret,
					Fingerprint:  "forged",
					IP:           alice.IP,
					UserAgent:    alice.UserAgent,
				}, time.Hour)
				require.NoError(t, err)

				_, err = env.service.Verify(ctx, forged)
				assert.ErrorIs(t, err, fingerprint.ErrInvalidFingerprint)
			})

			t.Run("claims disagree with fingerprint", func(t *testing.T) {
				current := client("2.2.2.2", "firefox")
				tampered := env.forgeCookie(t, row.Secret, alice, current, time.Hour)

				_, err := env.service.Verify(ctx, tampered)
				assert.ErrorIs(t, err, ErrInvalidTokenPayload)
			})

			t.Run("consistent cookie with substituted client", func(t *testing.T) {
				elsewhere := client("3.3.3.3", "firefox")
				substituted := env.forgeCookie(t, row.Secret, elsewhere, elsewhere, time.Hour)

				_, err := env.service.Verify(ctx, substituted)
				assert.ErrorIs(t, err, ErrInvalidTokenPayload)
			})

			t.Run("revoked row", func(t *testing.T) {
				_, revokedCookie := env.issueCookie(t, 1, alice)
				require.NoError(t, env.service.RevokeByCookie(ctx, revokedCookie))

				_, err := env.service.Verify(ctx, revokedCookie)
				assert.ErrorIs(t, err, ErrInvalidRefreshToken)
			})
		})
	}
}

func TestService_VerifyExpiry(t *testing.T) {
	env := newTestEnv(t, "database")
	ctx := context.Background()
	alice := client("1.1.1.1", "firefox")

	t.Run("cookie expired", func(t *testing.T) {
		_, cookie := env.issueCookie(t, 1, alice)
		env.clock.Advance(env.service.Lifetime() + time.Second)

		_, err := env.service.Verify(ctx, cookie)
		assert.ErrorIs(t, err, ErrRefreshTokenExpired)
	})

	t.Run("row expired under a longer cookie", func(t *testing.T) {
		row, err := env.service.Issue(ctx, 1, alice)
		require.NoError(t, err)
		cookie := env.forgeCookie(t, row.Secret, alice, alice, 2*env.service.Lifetime())

		env.clock.Advance(env.service.Lifetime())

		_, err = env.service.Verify(ctx, cookie)
		assert.ErrorIs(t, err, ErrRefreshTokenExpired)
	})
}

func TestService_EncodeCookie(t *testing.T) {
	env := newTestEnv(t, "database")

	row, err := env.service.Issue(context.Background(), 1, client("1.1.1.1", "firefox"))
	require.NoError(t, err)

	cookie, expires, err := env.service.EncodeCookie(row)
	require.NoError(t, err)
	assert.True(t, row.IssuedAt.Add(env.service.Lifetime()).Equal(expires))

	claims := &CookieClaims{}
	require.NoError(t, env.codec.Decode(cookie, claims))
	assert.Equal(t, row.Secret, claims.RefreshToken)
	assert.Equal(t, "1.1.1.1", *claims.IP)
	assert.Equal(t, "firefox", *claims.UserAgent)
	assert.Equal(t, expires.Unix(), claims.ExpiresAt.Unix())

	captured, err := env.fingerprints.Verify(claims.Fingerprint)
	require.NoError(t, err)
	assert.True(t, env.fingerprints.Equal(captured, row.Client()))

	t.Run("row without secret", func(t *testing.T) {
		_, _, err := env.service.EncodeCookie(&RefreshToken{ID: row.ID, IssuedAt: row.IssuedAt})
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
	})

	t.Run("expired row", func(t *testing.T) {
		env.clock.Advance(env.service.Lifetime())
		_, _, err := env.service.EncodeCookie(row)
		assert.ErrorIs(t, err, ErrRefreshTokenExpired)
	})
}

func TestService_Rotate(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, backend)
			ctx := context.Background()

			old, oldCookie := env.issueCookie(t, 1, client("1.1.1.1", "firefox"))
			roaming := client("2.2.2.2", "firefox")

			verified, err := env.service.Verify(ctx, oldCookie)
			require.NoError(t, err)
			assert.True(t, env.service.NeedsRotation(verified, roaming))

			next, err := env.service.Rotate(ctx, verified, roaming)
			require.NoError(t, err)
			assert.Equal(t, old.UserID, next.UserID)
			assert.NotEqual(t, old.Secret, next.Secret)
			assert.Equal(t, "2.2.2.2", *next.IP)
			assert.False(t, env.service.NeedsRotation(next, roaming))

			_, err = env.service.Verify(ctx, oldCookie)
			assert.ErrorIs(t, err, ErrInvalidRefreshToken)

			nextCookie, _, err := env.service.EncodeCookie(next)
			require.NoError(t, err)
			_, err = env.service.Verify(ctx, nextCookie)
			assert.NoError(t, err)

			_, err = env.service.Rotate(ctx, verified, roaming)
			assert.ErrorIs(t, err, ErrInvalidRefreshToken)
			assert.ErrorIs(t, err, ErrTokenRevoked)
		})
	}
}

func TestService_ConcurrentRotation(t *testing.T) {
	const workers = 16

	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, backend)
			ctx := context.Background()

			_, cookie := env.issueCookie(t, 1, client("1.1.1.1", "firefox"))

			var wg sync.WaitGroup
			results := make([]*RefreshToken, workers)
			errs := make([]error, workers)
			start := make(chan struct{})

			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					<-start

					row, err := env.service.Verify(ctx, cookie)
					if err != nil {
						errs[i] = err
						return
					}
					results[i], errs[i] = env.service.Rotate(ctx, row, client(fmt.Sprintf("10.0.0.%d", i), "firefox"))
				}(i)
			}
			close(start)
			wg.Wait()

			var winner *RefreshToken
			for i := range errs {
				if errs[i] == nil {
					require.Nil(t, winner, "only one rotation may succeed")
					winner = results[i]
					continue
				}
				assert.ErrorIs(t, errs[i], ErrInvalidRefreshToken)
			}
			require.NotNil(t, winner)

			_, err := env.service.Verify(ctx, cookie)
			assert.ErrorIs(t, err, ErrInvalidRefreshToken)

			winnerCookie, _, err := env.service.EncodeCookie(winner)
			require.NoError(t, err)
			_, err = env.service.Verify(ctx, winnerCookie)
			assert.NoError(t, err)
		})
	}
}

func TestService_Revoke(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, backend)
			ctx := context.Background()

			row, cookie := env.issueCookie(t, 1, client("1.1.1.1", "firefox"))

			require.NoError(t, env.service.Revoke(ctx, row))
			first := *row.RevokedAt

			env.clock.Advance(time.Minute)
			require.NoError(t, env.service.Revoke(ctx, row))
			assert.True(t, first.Equal(*row.RevokedAt))

			_, err := env.service.Verify(ctx, cookie)
			assert.ErrorIs(t, err, ErrInvalidRefreshToken)

			assert.ErrorIs(t, env.service.RevokeByCookie(ctx, cookie), ErrInvalidRefreshToken)
		})
	}
}

func TestService_RevokeAllExcept(t *testing.T) {
	for _, backend := range backends() {
		t.Run(backend, func(t *testing.T) {
			env := newTestEnv(t, backend)
			ctx := context.Background()
			c := client("1.1.1.1", "firefox")

			current, currentCookie := env.issueCookie(t, 1, c)
			_, siblingCookie := env.issueCookie(t, 1, c)
			_, bobCookie := env.issueCookie(t, 2, c)

			count, err := env.service.RevokeAllExcept(ctx, 1, current.Secret)
			require.NoError(t, err)
			assert.EqualValues(t, 1, count)

			_, err = env.service.Verify(ctx, currentCookie)
			assert.NoError(t, err)
			_, err = env.service.Verify(ctx, siblingCookie)
			assert.ErrorIs(t, err, ErrInvalidRefreshToken)
			_, err = env.service.Verify(ctx, bobCookie)
			assert.NoError(t, err)
		})
	}
}

func TestService_Purge(t *testing.T) {
	env := newTestEnv(t, "database", func(cfg *config.Config) {
		cfg.RefreshToken.Retention = 24 * time.Hour
	})
	ctx := context.Background()
	c := client("1.1.1.1", "firefox")

	revoked, _ := env.issueCookie(t, 1, c)
	require.NoError(t, env.service.Revoke(ctx, revoked))
	_, activeCookie := env.issueCookie(t, 1, c)

	env.clock.Advance(25 * time.Hour)

	count, err := env.service.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	_, err = env.service.Verify(ctx, activeCookie)
	assert.NoError(t, err)

	env.clock.Advance(env.service.Lifetime())
	count, err = env.service.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "active", StateActive.String())
	assert.Equal(t, "revoked", StateRevoked.String())
}
