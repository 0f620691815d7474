package database

import (
	"context"

	"github.com/tech-arch1tect/chowkidar/config"
	"github.com/tech-arch1tect/chowkidar/services/logging"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	LC     fx.Lifecycle
	Config *config.Config
	Models *ModelsOption `optional:"true"`
	Logger *logging.Service
}

var Module = fx.Options(
	fx.Provide(ProvideDatabaseFx),
)

func ProvideDatabaseFx(p Params) (*gorm.DB, error) {
	db, err := ProvideDatabase(p.Config, p.Models, p.Logger)
	if err != nil {
		return nil, err
	}

	p.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}
