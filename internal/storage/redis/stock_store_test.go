package redis_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/ledger"
	"github.com/vladislavdragonenkov/pos/internal/storage/redis"
)

func setupStockStore(t *testing.T) (*redis.StockStore, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return redis.NewStockStore(client, ""), mr
}

func TestStockStore_PutGet(t *testing.T) {
	store, mr := setupStockStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, domain.StockRecord{ItemID: "sku-1", OnHand: 7, MinThreshold: 2}))
	require.Equal(t, "7", mr.HGet("stock:sku-1", "on_hand"))

	records, err := store.Get(ctx, []string{"sku-1", "missing"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, int64(7), records["sku-1"].OnHand)
	require.Equal(t, int64(2), records["sku-1"].MinThreshold)
	require.Equal(t, int64(1), records["sku-1"].Version)
	require.NoError(t, store.Ping(ctx))
}

func TestStockStore_CompareAndSwap(t *testing.T) {
	store, _ := setupStockStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, domain.StockRecord{ItemID: "sku-1", OnHand: 5}))

	ok, err := store.CompareAndSwap(ctx, "sku-1", 4, 1)
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = store.CompareAndSwap(ctx, "sku-1", 5, 3)
	require.NoError(t, err)
	require.True(t, ok)

	records, err := store.Get(ctx, []string{"sku-1"})
	require.NoError(t, err)
	require.Equal(t, int64(3), records["sku-1"].OnHand)
	require.Equal(t, int64(2), records["sku-1"].Version)

	_, err = store.CompareAndSwap(ctx, "missing", 0, 1)
	require.ErrorIs(t, err, domain.ErrStockRecordNotFound)
	_, err = store.CompareAndSwap(ctx, "sku-1", 3, -1)
	require.ErrorIs(t, err, domain.ErrStockNegative)
}

func TestStockStore_Adjust(t *testing.T) {
	store, _ := setupStockStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, domain.StockRecord{ItemID: "sku-1", OnHand: 2, MinThreshold: 1}))

	record, err := store.Adjust(ctx, "sku-1", 3)
	require.NoError(t, err)
	require.Equal(t, int64(5), record.OnHand)
	require.Equal(t, int64(1), record.MinThreshold)
	require.Equal(t, int64(2), record.Version)

	_, err = store.Adjust(ctx, "sku-1", -10)
	require.ErrorIs(t, err, domain.ErrStockNegative)
	_, err = store.Adjust(ctx, "missing", 1)
	require.ErrorIs(t, err, domain.ErrStockRecordNotFound)
}

func TestStockStore_WithLedger(t *testing.T) {
	store, _ := setupStockStore(t)
	ctx := context.Background()
	require.NoError(t, store.Put(ctx, domain.StockRecord{ItemID: "sku-1", OnHand: 3, MinThreshold: 1}))

	l := ledger.New(store)
	reservation, err := l.Reserve(ctx, "sale-1", []domain.StockRequest{{LineID: "l1", ItemID: "sku-1", Quantity: 2}})
	require.NoError(t, err)
	require.Equal(t, int64(1), reservation.Lines[0].OnHandAfter)

	_, err = l.Reserve(ctx, "sale-2", []domain.StockRequest{{LineID: "l1", ItemID: "sku-1", Quantity: 2}})
	require.True(t, domain.IsInsufficientStock(err))

	require.NoError(t, l.Release(ctx, &reservation))
	records, err := store.Get(ctx, []string{"sku-1"})
	require.NoError(t, err)
	require.Equal(t, int64(3), records["sku-1"].OnHand)
}
