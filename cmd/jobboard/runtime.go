package main

import (
	"context"
	"fmt"

	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/cache"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/config"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/database"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/docstore"
	"github.com/MarcoPoloResearchLab/jobboard/backend/internal/logging"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const redisKeyPrefix = "jobboard:cache:"

// runtime carries the shared infrastructure of every command.
type runtime struct {
	config  config.AppConfig
	logger  *zap.Logger
	db      *gorm.DB
	docs    *docstore.Store
	closers []func() error
}

func openRuntime() (*runtime, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	docs, err := docstore.New(docstore.Config{
		Database:     db,
		ProjectID:    appConfig.ProjectID,
		IDProvider:   docstore.NewUUIDProvider(),
		Logger:       logger.Named("docstore"),
		PollInterval: appConfig.StorePollInterval,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &runtime{
		config:  appConfig,
		logger:  logger,
		db:      db,
		docs:    docs,
		closers: []func() error{sqlDB.Close},
	}, nil
}

// openCache builds the local cache on the configured backend.
func (r *runtime) openCache(ctx context.Context) (*cache.Cache, error) {
	var backend cache.Backend
	switch r.config.CacheDriver {
	case config.CacheDriverSQLite:
		gormBackend, err := cache.NewGormBackend(r.db, r.config.CacheNamespace)
		if err != nil {
			return nil, err
		}
		backend = gormBackend
	case config.CacheDriverRedis:
		client, err := cache.NewRedisClient(ctx, r.config.CacheRedisURL)
		if err != nil {
			return nil, err
		}
		r.closers = append([]func() error{client.Close}, r.closers...)
		redisBackend, err := cache.NewRedisBackend(client, redisKeyPrefix+r.config.CacheNamespace+":")
		if err != nil {
			return nil, err
		}
		backend = redisBackend
	case config.CacheDriverMemory:
		backend = cache.NewMemoryBackend()
	default:
		return nil, fmt.Errorf("cache driver %q is not supported", r.config.CacheDriver)
	}
	return cache.New(cache.Config{Backend: backend, Logger: r.logger.Named("cache")}), nil
}

func (r *runtime) Close() {
	r.docs.Wait()
	for _, closer := range r.closers {
		if err := closer(); err != nil {
			r.logger.Warn("shutdown close failed", zap.Error(err))
		}
	}
	_ = r.logger.Sync()
}
