package app

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"oidc-linker/internal/auth/store"
	"oidc-linker/internal/config"
	"oidc-linker/internal/db"
	"oidc-linker/internal/directory"
	"oidc-linker/internal/logger"
	"oidc-linker/internal/redis"
)

type Infra struct {
	DB    *db.DB
	Redis *redis.Client
}

func setupInfra(ctx context.Context, cfg *config.Config) (*Infra, error) {
	database, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, err
	}

	if err := Migrate(ctx, database.DB, false); err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("database ready", nil)

	redisClient, err := redis.New(ctx, redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		_ = database.Close()
		return nil, err
	}

	logger.Info("redis ready", nil)

	return &Infra{
		DB:    database,
		Redis: redisClient,
	}, nil
}

func (i *Infra) Close() error {
	redisErr := i.Redis.Close()
	if err := i.DB.Close(); err != nil {
		return err
	}
	return redisErr
}

// Migrate brings the schema up to date and moves identities still stored on
// the users table into oidc_links. dropLegacy also removes those columns.
func Migrate(ctx context.Context, gdb *gorm.DB, dropLegacy bool) error {
	models := append(directory.Models(), store.Models()...)
	if err := db.Migrate(ctx, gdb, models...); err != nil {
		return err
	}

	links, err := store.New(gdb)
	if err != nil {
		return err
	}

	copied, err := links.MigrateLegacyColumns(ctx)
	if err != nil {
		return err
	}
	if copied > 0 {
		logger.Info("legacy identities migrated", map[string]any{"rows": copied})
	}

	if dropLegacy {
		if err := links.DropLegacyColumns(ctx); err != nil {
			return err
		}
		logger.Info("legacy identity columns dropped", nil)
	}
	return nil
}

// RunMigrations opens the configured database, migrates it and closes it.
func RunMigrations(ctx context.Context, cfg *config.Config, dropLegacy bool) error {
	database, err := db.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := Migrate(ctx, database.DB, dropLegacy); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
