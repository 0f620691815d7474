package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tech-arch1tect/chowkidar/internal/options"
	"go.uber.org/fx"
)

func TestNew_Options(t *testing.T) {
	type Note struct {
		ID   uint `gorm:"primaryKey"`
		Text string
	}

	invoked := false
	app, err := New(
		options.WithConfig(createTestConfig(t)),
		options.WithModels(&Note{}),
		options.WithoutHTTP(),
		options.WithFxOptions(fx.Invoke(func() { invoked = true })),
	)
	require.NoError(t, err)

	assert.True(t, invoked)
	assert.Nil(t, app.Server())
	assert.True(t, app.DB().Migrator().HasTable(&Note{}))

	require.NoError(t, app.Start(context.Background()))
	require.NoError(t, app.Stop(context.Background()))
}
