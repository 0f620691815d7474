package app

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/server"
	"github.com/tech-arch1tect/chowkidar/services/auth"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"github.com/tech-arch1tect/chowkidar/services/refreshtoken"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const stopTimeout = 30 * time.Second

type App struct {
	fx     *fx.App
	config *config.Config
	logger *logging.Service
	db     *gorm.DB
	server *server.Server
	users  *auth.Service
	tokens *refreshtoken.Service
}

func (a *App) Start(ctx context.Context) error {
	return a.fx.Start(ctx)
}

func (a *App) Stop(ctx context.Context) error {
	return a.fx.Stop(ctx)
}

// Run starts the application and blocks until SIGINT, SIGTERM or an fx
// shutdown request, then stops it gracefully.
func (a *App) Run() {
	if err := a.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	exitCode := 0
	select {
	case sig := <-sigChan:
		a.logger.Info("received shutdown signal, stopping gracefully", zap.String("signal", sig.String()))
	case shutdown := <-a.fx.Wait():
		exitCode = shutdown.ExitCode
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()

	if err := a.Stop(ctx); err != nil {
		a.logger.Error("failed to stop application gracefully", zap.Error(err))
		exitCode = 1
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) Logger() *logging.Service {
	return a.logger
}

func (a *App) DB() *gorm.DB {
	return a.db
}

// Server is nil when the app was built WithoutHTTP.
func (a *App) Server() *server.Server {
	return a.server
}

func (a *App) Users() *auth.Service {
	return a.users
}

func (a *App) Tokens() *refreshtoken.Service {
	return a.tokens
}
