package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/storage/postgres"
	redisstore "github.com/vladislavdragonenkov/pos/internal/storage/redis"
	"github.com/vladislavdragonenkov/pos/internal/storage/seed"
)

// runtimeDependencies - хранилища, выбранные конфигурацией.
type runtimeDependencies struct {
	sales          domain.SaleRepository
	journal        domain.SaleJournal
	catalog        domain.Catalog
	customers      domain.CustomerDirectory
	stock          domain.StockStore
	itemWriter     seed.ItemWriter
	customerWriter seed.CustomerWriter
	checkers       map[string]healthcheck.Checker
	closeFn        func() error
}

func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (*runtimeDependencies, error) {
	deps := &runtimeDependencies{checkers: make(map[string]healthcheck.Checker)}
	var closers []func() error
	deps.closeFn = func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}

	fail := func(err error) (*runtimeDependencies, error) {
		_ = deps.closeFn()
		return nil, err
	}

	storageDriver := strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	stockDriver := strings.ToLower(strings.TrimSpace(cfg.stockDriver()))

	switch storageDriver {
	case StorageDriverMemory, StorageDriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
	switch stockDriver {
	case StockDriverMemory, StockDriverRedis, StockDriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported stock driver %q", stockDriver)
	}

	var store *postgres.Store
	if storageDriver == StorageDriverPostgres || stockDriver == StockDriverPostgres {
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return nil, errors.New("postgres dsn is required for postgres driver")
		}
		var err error
		store, err = postgres.Open(ctx, dsn)
		if err != nil {
			return nil, err
		}
		closers = append(closers, store.Close)
		if cfg.PostgresAutoMigrate {
			if err := store.EnsureSchema(ctx); err != nil {
				return fail(fmt.Errorf("apply migrations: %w", err))
			}
			logger.Info("postgres schema is up to date")
		}
		deps.checkers["postgres"] = healthcheck.NewPingChecker("postgres", store.Ping)
	}

	switch stockDriver {
	case StockDriverMemory:
		deps.stock = memory.NewStockStore()
	case StockDriverPostgres:
		deps.stock = postgres.NewStockStore(store.Pool())
	case StockDriverRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		closers = append(closers, client.Close)
		redisStock := redisstore.NewStockStore(client, "")
		if err := redisStock.Ping(ctx); err != nil {
			return fail(fmt.Errorf("ping redis: %w", err))
		}
		deps.stock = redisStock
		deps.checkers["redis"] = healthcheck.NewPingChecker("redis", redisStock.Ping)
	}

	switch storageDriver {
	case StorageDriverMemory:
		catalog := memory.NewCatalog(deps.stock)
		customers := memory.NewCustomerDirectory()
		deps.sales = memory.NewSaleRepository()
		deps.journal = memory.NewSaleJournal()
		deps.catalog, deps.itemWriter = catalog, catalog
		deps.customers, deps.customerWriter = customers, customers
	case StorageDriverPostgres:
		catalog := postgres.NewCatalog(store)
		customers := postgres.NewCustomerDirectory(store)
		deps.sales = postgres.NewSaleRepository(store)
		deps.journal = postgres.NewSaleJournal(store)
		deps.catalog, deps.itemWriter = catalog, catalog
		deps.customers, deps.customerWriter = customers, customers
	}

	logger.WithFields(log.Fields{
		"storage_driver": storageDriver,
		"stock_driver":   stockDriver,
	}).Info("storage initialized")

	if path := strings.TrimSpace(cfg.SeedFile); path != "" {
		file, err := seed.Read(path)
		if err != nil {
			return fail(err)
		}
		if err := seed.Apply(ctx, file, cfg.Currency, deps.itemWriter, deps.stock, deps.customerWriter); err != nil {
			return fail(err)
		}
		logger.WithFields(log.Fields{
			"items":     len(file.Items),
			"customers": len(file.Customers),
		}).Info("seed data applied")
	}

	return deps, nil
}
