package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
)

func TestInitRuntimeDependencies_Memory(t *testing.T) {
	t.Parallel()

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
	}, log.WithField("test", "memory-storage"))
	require.NoError(t, err)
	defer func() { _ = deps.closeFn() }()

	require.NotNil(t, deps.sales)
	require.NotNil(t, deps.journal)
	require.NotNil(t, deps.catalog)
	require.NotNil(t, deps.customers)
	require.NotNil(t, deps.stock)
	require.Empty(t, deps.checkers)
}

func TestInitRuntimeDependencies_AppliesSeed(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"items": [{"item_id": "sku-1", "name": "Cable", "price_minor": 500, "on_hand": 4, "min_threshold": 1}],
		"customers": [{"ref": "cust-1", "name": "Alice"}]
	}`), 0o600))

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		SeedFile:      path,
		Currency:      "EUR",
	}, log.WithField("test", "seed"))
	require.NoError(t, err)
	defer func() { _ = deps.closeFn() }()

	item, err := deps.catalog.GetItem(context.Background(), "sku-1")
	require.NoError(t, err)
	require.Equal(t, "EUR", item.Currency)
	require.EqualValues(t, 4, item.OnHand)

	customer, err := deps.customers.Resolve(context.Background(), "cust-1")
	require.NoError(t, err)
	require.Equal(t, "Alice", customer.Name)
}

func TestInitRuntimeDependencies_MissingSeedFile(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		SeedFile:      filepath.Join(t.TempDir(), "missing.json"),
	}, log.WithField("test", "seed-missing"))
	require.Error(t, err)
}

func TestInitRuntimeDependencies_RedisStock(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)

	deps, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		StockDriver:   StockDriverRedis,
		RedisAddr:     mr.Addr(),
	}, log.WithField("test", "redis-stock"))
	require.NoError(t, err)
	defer func() { _ = deps.closeFn() }()

	checker, ok := deps.checkers["redis"]
	require.True(t, ok, "redis checker must be registered")
	require.Equal(t, healthcheck.StatusHealthy, checker.Check(context.Background()).Status)
}

func TestInitRuntimeDependencies_RedisUnavailable(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		StockDriver:   StockDriverRedis,
		RedisAddr:     addr,
	}, log.WithField("test", "redis-down"))
	require.Error(t, err)
}

func TestInitRuntimeDependencies_PostgresRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverPostgres,
	}, log.WithField("test", "postgres-missing-dsn"))
	require.Error(t, err)

	_, err = initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		StockDriver:   StockDriverPostgres,
	}, log.WithField("test", "postgres-stock-missing-dsn"))
	require.Error(t, err)
}

func TestInitRuntimeDependencies_UnsupportedDriver(t *testing.T) {
	t.Parallel()

	_, err := initRuntimeDependencies(context.Background(), Config{
		StorageDriver: "sqlite",
	}, log.WithField("test", "unsupported-driver"))
	require.ErrorContains(t, err, "unsupported storage driver")

	_, err = initRuntimeDependencies(context.Background(), Config{
		StorageDriver: StorageDriverMemory,
		StockDriver:   "etcd",
	}, log.WithField("test", "unsupported-stock-driver"))
	require.ErrorContains(t, err, "unsupported stock driver")
}
