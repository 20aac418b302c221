package migration

import (
	"github.com/smallbiznis/kwhtracker/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, log *zap.Logger) error {
		log = log.Named("migrations")
		if cfg.DBType == "postgres" {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
			log.Info("postgres migrations applied")
			return nil
		}

		if !cfg.DBAutoMigrate {
			log.Info("schema auto-migration disabled", zap.String("db_type", cfg.DBType))
			return nil
		}
		if err := AutoMigrate(conn); err != nil {
			return err
		}
		log.Info("schema auto-migrated", zap.String("db_type", cfg.DBType))
		return nil
	}),
)
