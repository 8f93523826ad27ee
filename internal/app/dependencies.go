package app

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/brandcatalog/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/brandcatalog/internal/health"
	"github.com/vladislavdragonenkov/brandcatalog/internal/storage/memory"
	"github.com/vladislavdragonenkov/brandcatalog/internal/storage/postgres"
)

// runtimeDependencies — репозитории выбранного хранилища.
type runtimeDependencies struct {
	brands          domain.BrandRepository
	products        domain.ProductRepository
	prices          domain.PriceQueries
	outboxRepo      domain.OutboxRepository
	transactor      domain.Transactor
	idempotencyRepo domain.IdempotencyRepository
	storageChecker  healthcheck.Checker
	closeFn         func() error
}

func (d *runtimeDependencies) close(logger *log.Entry) {
	if d == nil || d.closeFn == nil {
		return
	}
	if err := d.closeFn(); err != nil {
		logger.WithError(err).Warn("failed to close storage")
	}
}

// initRuntimeDependencies создаёт репозитории под cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if driver == "" {
		driver = StorageDriverMemory
	}

	switch driver {
	case StorageDriverMemory:
		store := memory.NewCatalog()
		logger.WithField("storage", driver).Info("using in-memory storage")
		return &runtimeDependencies{
			brands:          memory.NewBrandRepository(store),
			products:        memory.NewProductRepository(store),
			prices:          memory.NewPriceQueries(store),
			outboxRepo:      memory.NewOutboxRepository(),
			transactor:      memory.NewTransactor(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			storageChecker:  healthcheck.NewSimpleChecker("storage", func() error { return nil }),
		}, nil

	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}

		store, err := postgres.Open(ctx, dsn, postgres.WithPool(postgresPool(cfg)))
		if err != nil {
			return nil, err
		}
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				_ = store.Close()
				return nil, fmt.Errorf("apply postgres migrations: %w", err)
			}
		}

		pool := store.Pool()
		logger.WithFields(log.Fields{
			"storage":        driver,
			"auto_migrate":   cfg.PostgresAutoMigrate,
			"max_open_conns": pool.MaxOpenConns,
			"max_idle_conns": pool.MaxIdleConns,
		}).Info("using postgres storage")
		return &runtimeDependencies{
			brands:          postgres.NewBrandRepository(store),
			products:        postgres.NewProductRepository(store),
			prices:          postgres.NewPriceQueries(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			transactor:      store,
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			storageChecker:  healthcheck.NewPingChecker("storage", store.Ping),
			closeFn:         store.Close,
		}, nil

	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}

func postgresPool(cfg Config) postgres.PoolConfig {
	return postgres.PoolConfig{
		MaxOpenConns:    cfg.PostgresMaxOpenConns,
		MaxIdleConns:    cfg.PostgresMaxIdleConns,
		ConnMaxLifetime: cfg.PostgresConnMaxLifetime,
		ConnMaxIdleTime: cfg.PostgresConnMaxIdleTime,
	}
}
