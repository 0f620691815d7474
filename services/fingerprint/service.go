// Package fingerprint binds refresh tokens to the client that obtained them.
//
// A fingerprint is a signed, non-secret snapshot of the client IP and
// User-Agent. Only the fields enabled by configuration are captured; a
// disabled field is always nil and never takes part in a comparison.
package fingerprint

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/zap"
)

var (
	ErrInvalidFingerprint = errors.New("invalid fingerprint")
	ErrIPMissing          = errors.New("cannot retrieve client IP address")
)

// Client identifies the network and device a request came from.
type Client struct {
	IP        *string
	UserAgent *string
}

type claims struct {
	IP    *string `json:"ip"`
	Agent *string `json:"agent"`
	jwt.RegisteredClaims
}

type Service struct {
	captureIP    bool
	captureAgent bool
	secret       []byte
	parser       *jwt.Parser
	logger       *logging.Service
}

func NewService(cfg *config.Config, logger *logging.Service) *Service {
	return &Service{
		captureIP:    cfg.RefreshToken.LogIP,
		captureAgent: cfg.RefreshToken.LogUserAgent,
		secret:       cfg.FingerprintSecret(),
		parser:       jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
		logger:       logger,
	}
}

// FromRequest extracts the client of an echo request. The IP comes from
// echo's RealIP, which honours the server's trusted proxy configuration.
func (s *Service) FromRequest(c echo.Context) (Client, error) {
	var client Client

	if s.captureIP {
		ip := c.RealIP()
		if ip == "" {
			return Client{}, ErrIPMissing
		}
		client.IP = &ip
	}

	if s.captureAgent {
		if values := c.Request().Header.Values("User-Agent"); len(values) > 0 {
			agent := values[0]
			client.UserAgent = &agent
		}
	}

	return client, nil
}

// Derive signs the enabled fields of client.
func (s *Service) Derive(client Client) (string, error) {
	client = s.Mask(client)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims{
		IP:    client.IP,
		Agent: client.UserAgent,
	}).SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign fingerprint: %w", err)
	}
	return token, nil
}

// Verify checks the signature of a fingerprint and returns its contents.
func (s *Service) Verify(fingerprint string) (Client, error) {
	if fingerprint == "" {
		return Client{}, ErrInvalidFingerprint
	}

	decoded := &claims{}
	_, err := s.parser.ParseWithClaims(fingerprint, decoded, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		if s.logger != nil {
			s.logger.Debug("fingerprint verification failed", zap.Error(err))
		}
		return Client{}, ErrInvalidFingerprint
	}

	return s.Mask(Client{IP: decoded.IP, UserAgent: decoded.Agent}), nil
}

// Equal reports whether a and b match on every enabled field.
func (s *Service) Equal(a, b Client) bool {
	if s.captureIP && !equalPtr(a.IP, b.IP) {
		return false
	}
	if s.captureAgent && !equalPtr(a.UserAgent, b.UserAgent) {
		return false
	}
	return true
}

// Mask drops the fields that are not captured.
func (s *Service) Mask(client Client) Client {
	if !s.captureIP {
		client.IP = nil
	}
	if !s.captureAgent {
		client.UserAgent = nil
	}
	return client
}

// LogFields describes client for structured logs.
func LogFields(client Client) []zap.Field {
	fields := make([]zap.Field, 0, 4)
	if client.IP != nil {
		fields = append(fields, zap.String("client_ip", *client.IP))
	}
	if client.UserAgent != nil {
		device := Describe(*client.UserAgent)
		fields = append(fields,
			zap.String("browser", device.Browser),
			zap.String("os", device.OS),
			zap.String("device_type", device.Type))
	}
	return fields
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func String(v string) *string {
	return &v
}
