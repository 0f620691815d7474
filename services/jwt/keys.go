package jwt

import (
	"fmt"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/tech-arch1tect/chowkidar/config"
)

func loadKeys(cfg *config.JWTConfig) (sign any, verify any, err error) {
	alg := cfg.Algorithm
	if strings.HasPrefix(alg, "HS") {
		if cfg.SecretKey == "" {
			return nil, nil, fmt.Errorf("secret key required for %s", alg)
		}
		return []byte(cfg.SecretKey), []byte(cfg.SecretKey), nil
	}

	privatePEM, err := pemSource(cfg.PrivateKey, cfg.PrivateKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read private key: %w", err)
	}
	publicPEM, err := pemSource(cfg.PublicKey, cfg.PublicKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read public key: %w", err)
	}
	if publicPEM == nil {
		return nil, nil, fmt.Errorf("public key required for %s", alg)
	}

	switch {
	case strings.HasPrefix(alg, "RS"), strings.HasPrefix(alg, "PS"):
		verify, err = jwt.ParseRSAPublicKeyFromPEM(publicPEM)
		if err == nil && privatePEM != nil {
			sign, err = jwt.ParseRSAPrivateKeyFromPEM(privatePEM)
		}
	case strings.HasPrefix(alg, "ES"):
		verify, err = jwt.ParseECPublicKeyFromPEM(publicPEM)
		if err == nil && privatePEM != nil {
			sign, err = jwt.ParseECPrivateKeyFromPEM(privatePEM)
		}
	case alg == "EdDSA":
		verify, err = jwt.ParseEdPublicKeyFromPEM(publicPEM)
		if err == nil && privatePEM != nil {
			sign, err = jwt.ParseEdPrivateKeyFromPEM(privatePEM)
		}
	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, alg)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse %s key: %w", alg, err)
	}

	// A verify-only codec is valid; Encode fails without a private key.
	return sign, verify, nil
}

func pemSource(inline, path string) ([]byte, error) {
	if inline != "" {
		return []byte(inline), nil
	}
	if path == "" {
		return nil, nil
	}
	return os.ReadFile(path)
}
