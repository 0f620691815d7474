package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service is a nil-safe wrapper around zap. Components accept a *Service
// that may be nil and log through it unconditionally.
type Service struct {
	logger *zap.Logger
	sugar  *zap.SugaredLogger
}

type LogLevel string

const (
	Debug LogLevel = "debug"
	Info  LogLevel = "info"
	Warn  LogLevel = "warn"
	Error LogLevel = "error"
)

type Config struct {
	Level      LogLevel
	Format     string
	OutputPath string
}

func NewService(config Config) (*Service, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(config.Level))

	switch config.Format {
	case "console":
		zapConfig.Encoding = "console"
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		zapConfig.Encoding = "json"
	}

	if config.OutputPath != "" && config.OutputPath != "stdout" {
		zapConfig.OutputPaths = []string{config.OutputPath}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, err
	}

	return FromLogger(logger), nil
}

// FromLogger wraps an existing zap logger, e.g. one built on an observer core in tests.
func FromLogger(logger *zap.Logger) *Service {
	return &Service{
		logger: logger,
		sugar:  logger.Sugar(),
	}
}

func NewNop() *Service {
	return FromLogger(zap.NewNop())
}

func (s *Service) Logger() *zap.Logger {
	if s != nil {
		return s.logger
	}
	return nil
}

func (s *Service) Sugar() *zap.SugaredLogger {
	if s != nil {
		return s.sugar
	}
	return nil
}

// With returns a child service that adds fields to every entry.
func (s *Service) With(fields ...zap.Field) *Service {
	if s == nil || s.logger == nil {
		return s
	}
	return FromLogger(s.logger.With(fields...))
}

// Named returns a child service whose entries carry the given logger name.
func (s *Service) Named(name string) *Service {
	if s == nil || s.logger == nil {
		return s
	}
	return FromLogger(s.logger.Named(name))
}

func (s *Service) Debug(msg string, fields ...zap.Field) { s.write(zapcore.DebugLevel, msg, fields) }

func (s *Service) Info(msg string, fields ...zap.Field) { s.write(zapcore.InfoLevel, msg, fields) }

func (s *Service) Warn(msg string, fields ...zap.Field) { s.write(zapcore.WarnLevel, msg, fields) }

func (s *Service) Error(msg string, fields ...zap.Field) { s.write(zapcore.ErrorLevel, msg, fields) }

func (s *Service) write(level zapcore.Level, msg string, fields []zap.Field) {
	if s == nil || s.logger == nil {
		return
	}
	if ce := s.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (s *Service) Infof(template string, args ...any) {
	if s != nil && s.sugar != nil {
		s.sugar.Infof(template, args...)
	}
}

func (s *Service) Errorf(template string, args ...any) {
	if s != nil && s.sugar != nil {
		s.sugar.Errorf(template, args...)
	}
}

func (s *Service) Sync() error {
	if s != nil && s.logger != nil {
		return s.logger.Sync()
	}
	return nil
}

func parseLogLevel(level LogLevel) zapcore.Level {
	parsed, err := zapcore.ParseLevel(string(level))
	if err != nil || parsed < zapcore.DebugLevel || parsed > zapcore.ErrorLevel {
		return zapcore.InfoLevel
	}
	return parsed
}
