package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/persona-council/internal/config"
	"github.com/yungbote/persona-council/internal/platform/logger"
	"github.com/yungbote/persona-council/internal/store"
	"github.com/yungbote/persona-council/internal/store/gormstore"
	"github.com/yungbote/persona-council/internal/store/memstore"
	"github.com/yungbote/persona-council/internal/store/redisstore"
)

// openStore selects the backend named in cfg. The returned close func is
// never nil.
func openStore(ctx context.Context, cfg config.StoreConfig, log *logger.Logger, hooks store.Hooks) (store.TransactionalStore, func() error, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	switch backend {
	case "", "memory":
		log.Warn("using in-memory store; data is lost on restart")
		return memstore.New(), func() error { return nil }, nil
	case "sqlite", "postgres":
		db, err := gormstore.Open(gormstore.Config{
			Driver:       backend,
			DSN:          cfg.DSN,
			MaxOpenConns: cfg.MaxOpenConns,
			SlowQuery:    cfg.SlowQuery,
			AutoMigrate:  cfg.AutoMigrate,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.AutoMigrate {
			if err := gormstore.AutoMigrate(db); err != nil {
				return nil, nil, fmt.Errorf("%s automigrate: %w", backend, err)
			}
		}
		st := gormstore.New(db, log, hooks)
		return st, st.Close, nil
	case "redis":
		st, err := redisstore.Open(ctx, redisstore.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			KeyPrefix: cfg.Redis.Prefix,
		}, log, hooks)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// Migrate runs schema migrations for SQL backends. Other backends need none.
func Migrate(cfg config.StoreConfig) error {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if backend != "sqlite" && backend != "postgres" {
		return nil
	}
	db, err := gormstore.Open(gormstore.Config{
		Driver:       backend,
		DSN:          cfg.DSN,
		MaxOpenConns: cfg.MaxOpenConns,
		SlowQuery:    cfg.SlowQuery,
	})
	if err != nil {
		return err
	}
	defer func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()
	return gormstore.AutoMigrate(db)
}
