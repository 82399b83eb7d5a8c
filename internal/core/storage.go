package core

import (
	"context"
	"fmt"

	"stockpile/internal/config"
	"stockpile/internal/infra/persistence/memory"
	"stockpile/internal/infra/persistence/postgres"
	"stockpile/internal/infra/persistence/sqlite"
	"stockpile/pkg/domain"
)

// OpenPersistentStore selects the committed-inventory backend named by
// cfg.StorageDriver.
//
//	memory: records live for the lifetime of the process
//	sqlite: cfg.SQLitePath (default stockpile.db)
//	postgres: cfg.PostgresDSN (default postgres.DefaultDSN)
func OpenPersistentStore(ctx context.Context, cfg config.Config) (domain.PersistentStore, error) {
	switch cfg.StorageDriver {
	case config.StorageMemory, "":
		return memory.NewStore(), nil
	case config.StorageSQLite:
		store, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}
}

// NewServiceFromConfig opens the configured store and builds a service using
// the configured drop limit and authority. Options are applied after the
// configuration.
func NewServiceFromConfig(ctx context.Context, cfg config.Config, opts ...Option) (*Service, error) {
	store, err := OpenPersistentStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	base := []Option{WithDropLimit(cfg.DropLimit), WithAuthoritative(cfg.Authoritative)}
	return NewService(store, append(base, opts...)...), nil
}
