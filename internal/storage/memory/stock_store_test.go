package memory_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

func TestStockStore_CompareAndSwap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStockStore()
	if err := store.Put(ctx, domain.StockRecord{ItemID: "sku-1", OnHand: 10, MinThreshold: 2}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	ok, err := store.CompareAndSwap(ctx, "sku-1", 9, 5)
	if err != nil || ok {
		t.Fatalf("expected stale CAS to fail without error, ok=%v err=%v", ok, err)
	}

	ok, err = store.CompareAndSwap(ctx, "sku-1", 10, 7)
	if err != nil || !ok {
		t.Fatalf("expected CAS to succeed, ok=%v err=%v", ok, err)
	}

	records, err := store.Get(ctx, []string{"sku-1", "missing"})
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records["sku-1"].OnHand != 7 {
		t.Fatalf("expected on_hand 7, got %d", records["sku-1"].OnHand)
	}
	if records["sku-1"].Version != 1 {
		t.Fatalf("expected version 1, got %d", records["sku-1"].Version)
	}

	if _, err := store.CompareAndSwap(ctx, "sku-1", 7, -1); !errors.Is(err, domain.ErrStockNegative) {
		t.Fatalf("expected ErrStockNegative, got %v", err)
	}
	if _, err := store.CompareAndSwap(ctx, "missing", 0, 1); !errors.Is(err, domain.ErrStockRecordNotFound) {
		t.Fatalf("expected ErrStockRecordNotFound, got %v", err)
	}
}

func TestStockStore_Adjust(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStockStore()
	if err := store.Put(ctx, domain.StockRecord{ItemID: "sku-1", OnHand: 1}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	record, err := store.Adjust(ctx, "sku-1", 4)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if record.OnHand != 5 {
		t.Fatalf("expected on_hand 5, got %d", record.OnHand)
	}

	if _, err := store.Adjust(ctx, "sku-1", -6); !errors.Is(err, domain.ErrStockNegative) {
		t.Fatalf("expected ErrStockNegative, got %v", err)
	}
	if _, err := store.Adjust(ctx, "missing", 1); !errors.Is(err, domain.ErrStockRecordNotFound) {
		t.Fatalf("expected ErrStockRecordNotFound, got %v", err)
	}
}

func TestStockStore_ConcurrentCAS(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewStockStore()
	if err := store.Put(ctx, domain.StockRecord{ItemID: "sku-1", OnHand: 1}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.CompareAndSwap(ctx, "sku-1", 1, 0)
			if err != nil {
				t.Errorf("cas failed: %v", err)
				return
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}
