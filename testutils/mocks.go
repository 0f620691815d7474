package testutils

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
)

// MockUserDirectory stands in for the user store consulted by the interceptor.
type MockUserDirectory struct {
	mock.Mock
}

func (m *MockUserDirectory) Username(ctx context.Context, userID uint) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

func (m *MockUserDirectory) RecordLogin(ctx context.Context, userID uint, at time.Time) error {
	args := m.Called(ctx, userID, at)
	return args.Error(0)
}
