package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/testutils"
)

func newTestCodec(t *testing.T, mutate ...func(*config.Config)) (*Codec, *testutils.Clock) {
	t.Helper()
	cfg := testutils.GetTestConfig()
	for _, m := range mutate {
		m(cfg)
	}
	codec, err := NewCodec(cfg, nil)
	require.NoError(t, err)

	clock := testutils.NewClock()
	codec.SetClock(clock.Now)
	return codec, clock
}

func pemPair(t *testing.T, private crypto.PrivateKey, public crypto.PublicKey) (string, string) {
	t.Helper()
	privDER, err := x509.MarshalPKCS8PrivateKey(private)
	require.NoError(t, err)
	pubDER, err := x509.MarshalPKIXPublicKey(public)
	require.NoError(t, err)

	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	return string(privPEM), string(pubPEM)
}

func TestNewCodec(t *testing.T) {
	t.Run("HMAC", func(t *testing.T) {
		codec, _ := newTestCodec(t)
		assert.Equal(t, "HS256", codec.method.Alg())
		assert.Equal(t, 5*time.Minute, codec.AccessExpiry())
		assert.Equal(t, 7*24*time.Hour, codec.RefreshExpiry())
	})

	t.Run("unknown algorithm", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.JWT.Algorithm = "XX999"

		_, err := NewCodec(cfg, nil)
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	})

	t.Run("none algorithm", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.JWT.Algorithm = "none"

		_, err := NewCodec(cfg, nil)
		assert.ErrorIs(t, err, ErrUnsupportedAlgorithm)
	})

	t.Run("asymmetric without public key", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.JWT.Algorithm = "RS256"

		_, err := NewCodec(cfg, nil)
		assert.ErrorContains(t, err, "public key required")
	})

	t.Run("garbage PEM", func(t *testing.T) {
		cfg := testutils.GetTestConfig()
		cfg.JWT.Algorithm = "ES256"
		cfg.JWT.PublicKey = "not a pem"

		_, err := NewCodec(cfg, nil)
		assert.ErrorContains(t, err, "failed to parse ES256 key")
	})
}

func TestCodec_RoundTrip(t *testing.T) {
	codec, clock := newTestCodec(t)

	claims := &AccessClaims{UserID: 42, Username: "alice", OrigIat: 1700000000}
	token, err := codec.Encode(claims, time.Minute)
	require.NoError(t, err)

	decoded := &AccessClaims{}
	require.NoError(t, codec.Decode(token, decoded))

	assert.Equal(t, uint(42), decoded.UserID)
	assert.Equal(t, "alice", decoded.Username)
	assert.Equal(t, int64(1700000000), decoded.OrigIat)
	assert.Equal(t, clock.Now().Unix(), decoded.IssuedAt.Unix())
	assert.Equal(t, clock.Now().Add(time.Minute).Unix(), decoded.ExpiresAt.Unix())
	assert.Equal(t, "test-issuer", decoded.Issuer)
	assert.NotEmpty(t, decoded.ID)
}

func TestCodec_UniqueJTI(t *testing.T) {
	codec, _ := newTestCodec(t)

	first := encodeDecodeAccess(t, codec, 1)
	second := encodeDecodeAccess(t, codec, 1)

	assert.NotEqual(t, first.ID, second.ID)
}

func encodeDecodeAccess(t *testing.T, c *Codec, userID uint) *AccessClaims {
	t.Helper()
	token, _, err := c.EncodeAccess(userID, "user", c.Now())
	require.NoError(t, err)
	claims, err := c.DecodeAccess(token)
	require.NoError(t, err)
	return claims
}

func TestCodec_Expiry(t *testing.T) {
	t.Run("expired token fails with ErrExpiredToken", func(t *testing.T) {
		codec, clock := newTestCodec(t)

		token, _, err := codec.EncodeAccess(1, "alice", clock.Now())
		require.NoError(t, err)

		clock.Advance(codec.AccessExpiry() + time.Second)

		_, err = codec.DecodeAccess(token)
		testutils.AssertErrorType(t, ErrExpiredToken, err)
	})

	t.Run("exp in the past at encode time", func(t *testing.T) {
		codec, _ := newTestCodec(t)

		token, err := codec.Encode(&AccessClaims{UserID: 1}, -time.Minute)
		require.NoError(t, err)

		err = codec.Decode(token, &AccessClaims{})
		testutils.AssertErrorType(t, ErrExpiredToken, err)
	})

	t.Run("leeway tolerates small skew", func(t *testing.T) {
		codec, clock := newTestCodec(t, func(cfg *config.Config) {
			cfg.JWT.Leeway = 30 * time.Second
		})

		token, err := codec.Encode(&AccessClaims{UserID: 1}, time.Minute)
		require.NoError(t, err)

		clock.Advance(time.Minute + 10*time.Second)
		assert.NoError(t, codec.Decode(token, &AccessClaims{}))

		clock.Advance(time.Minute)
		assert.ErrorIs(t, codec.Decode(token, &AccessClaims{}), ErrExpiredToken)
	})
}

func TestCodec_InvalidTokens(t *testing.T) {
	codec, clock := newTestCodec(t)

	t.Run("empty", func(t *testing.T) {
		assert.ErrorIs(t, codec.Decode("", &AccessClaims{}), ErrInvalidToken)
	})

	t.Run("malformed", func(t *testing.T) {
		assert.ErrorIs(t, codec.Decode("invalid.token.string", &AccessClaims{}), ErrInvalidToken)
	})

	t.Run("wrong signature", func(t *testing.T) {
		other, _ := newTestCodec(t, func(cfg *config.Config) {
			cfg.JWT.SecretKey = "another-secret-key-32-chars-long!!"
		})
		token, err := other.Encode(&AccessClaims{UserID: 1}, time.Minute)
		require.NoError(t, err)

		assert.ErrorIs(t, codec.Decode(token, &AccessClaims{}), ErrInvalidToken)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		other, _ := newTestCodec(t, func(cfg *config.Config) {
			cfg.JWT.Issuer = "someone-else"
		})
		token, err := other.Encode(&AccessClaims{UserID: 1}, time.Minute)
		require.NoError(t, err)

		assert.ErrorIs(t, codec.Decode(token, &AccessClaims{}), ErrInvalidToken)
	})

	t.Run("missing exp", func(t *testing.T) {
		claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:   "test-issuer",
			IssuedAt: jwt.NewNumericDate(clock.Now()),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testutils.TestSecret))
		require.NoError(t, err)

		assert.ErrorIs(t, codec.Decode(token, &AccessClaims{}), ErrInvalidToken)
	})

	t.Run("missing iat", func(t *testing.T) {
		claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testutils.TestSecret))
		require.NoError(t, err)

		err = codec.Decode(token, &AccessClaims{})
		assert.ErrorIs(t, err, ErrInvalidToken)
		assert.ErrorContains(t, err, "missing iat")
	})

	t.Run("none algorithm rejected", func(t *testing.T) {
		claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		require.NoError(t, err)

		assert.ErrorIs(t, codec.Decode(token, &AccessClaims{}), ErrInvalidToken)
	})

	t.Run("other HMAC size rejected", func(t *testing.T) {
		claims := AccessClaims{RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test-issuer",
			IssuedAt:  jwt.NewNumericDate(clock.Now()),
			ExpiresAt: jwt.NewNumericDate(clock.Now().Add(time.Hour)),
		}}
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte(testutils.TestSecret))
		require.NoError(t, err)

		assert.ErrorIs(t, codec.Decode(token, &AccessClaims{}), ErrInvalidToken)
	})
}

func TestCodec_Remaining(t *testing.T) {
	codec, clock := newTestCodec(t)

	token, _, err := codec.EncodeAccess(7, "alice", clock.Now())
	require.NoError(t, err)

	clock.Advance(time.Minute)
	claims, err := codec.DecodeAccess(token)
	require.NoError(t, err)

	assert.Equal(t, 4*time.Minute, codec.Remaining(claims))
}

func TestCodec_AsymmetricAlgorithms(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	tests := []struct {
		alg     string
		private crypto.PrivateKey
		public  crypto.PublicKey
	}{
		{"RS256", rsaKey, &rsaKey.PublicKey},
		{"PS384", rsaKey, &rsaKey.PublicKey},
		{"ES256", ecKey, &ecKey.PublicKey},
		{"EdDSA", edPriv, edPub},
	}

	for _, tt := range tests {
		t.Run(tt.alg, func(t *testing.T) {
			privPEM, pubPEM := pemPair(t, tt.private, tt.public)

			signer, _ := newTestCodec(t, func(cfg *config.Config) {
				cfg.JWT.Algorithm = tt.alg
				cfg.JWT.PrivateKey = privPEM
				cfg.JWT.PublicKey = pubPEM
			})

			token, err := signer.Encode(&AccessClaims{UserID: 9, Username: "alice"}, time.Minute)
			require.NoError(t, err)

			// A verifier holding only the public key accepts the token.
			verifier, _ := newTestCodec(t, func(cfg *config.Config) {
				cfg.JWT.Algorithm = tt.alg
				cfg.JWT.PublicKey = pubPEM
			})

			claims := &AccessClaims{}
			require.NoError(t, verifier.Decode(token, claims))
			assert.Equal(t, uint(9), claims.UserID)

			_, err = verifier.Encode(&AccessClaims{}, time.Minute)
			assert.Error(t, err, "verify-only codec cannot sign")
		})
	}
}

func TestCodec_KeyFiles(t *testing.T) {
	edPub, edPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	privPEM, pubPEM := pemPair(t, edPriv, edPub)

	dir := t.TempDir()
	privPath := filepath.Join(dir, "private.pem")
	pubPath := filepath.Join(dir, "public.pem")
	require.NoError(t, os.WriteFile(privPath, []byte(privPEM), 0o600))
	require.NoError(t, os.WriteFile(pubPath, []byte(pubPEM), 0o644))

	codec, _ := newTestCodec(t, func(cfg *config.Config) {
		cfg.JWT.Algorithm = "EdDSA"
		cfg.JWT.PrivateKeyFile = privPath
		cfg.JWT.PublicKeyFile = pubPath
	})

	token, err := codec.Encode(&AccessClaims{UserID: 3}, time.Minute)
	require.NoError(t, err)
	assert.NoError(t, codec.Decode(token, &AccessClaims{}))

	_, err = NewCodec(&config.Config{JWT: config.JWTConfig{
		Algorithm:     "EdDSA",
		PublicKeyFile: filepath.Join(dir, "missing.pem"),
	}}, nil)
	assert.ErrorContains(t, err, "failed to read public key")
}
