package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type stockEntry struct {
	mu     sync.Mutex
	record domain.StockRecord
}

// stockStoreInMemory хранит остатки в памяти. Общая блокировка защищает только
// набор товаров, изменение остатка блокирует одну запись.
type stockStoreInMemory struct {
	mu    sync.RWMutex
	items map[string]*stockEntry
}

// NewStockStore возвращает in-memory хранилище остатков.
func NewStockStore() domain.StockStore {
	return &stockStoreInMemory{items: make(map[string]*stockEntry)}
}

func (s *stockStoreInMemory) entry(itemID string) (*stockEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[itemID]
	return e, ok
}

// Get возвращает снимок записей по товарам.
func (s *stockStoreInMemory) Get(_ context.Context, itemIDs []string) (map[string]domain.StockRecord, error) {
	result := make(map[string]domain.StockRecord, len(itemIDs))
	for _, id := range itemIDs {
		e, ok := s.entry(id)
		if !ok {
			continue
		}
		e.mu.Lock()
		result[id] = e.record
		e.mu.Unlock()
	}
	return result, nil
}

// CompareAndSwap меняет остаток, только если он равен expected.
func (s *stockStoreInMemory) CompareAndSwap(_ context.Context, itemID string, expected, next int64) (bool, error) {
	if next < 0 {
		return false, domain.ErrStockNegative
	}
	e, ok := s.entry(itemID)
	if !ok {
		return false, domain.ErrStockRecordNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.OnHand != expected {
		return false, nil
	}
	e.record.OnHand = next
	e.record.Version++
	e.record.UpdatedAt = time.Now().UTC()
	return true, nil
}

// Adjust прибавляет delta к остатку.
func (s *stockStoreInMemory) Adjust(_ context.Context, itemID string, delta int64) (domain.StockRecord, error) {
	e, ok := s.entry(itemID)
	if !ok {
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.record.OnHand+delta < 0 {
		return e.record, domain.ErrStockNegative
	}
	e.record.OnHand += delta
	e.record.Version++
	e.record.UpdatedAt = time.Now().UTC()
	return e.record, nil
}

// Put создаёт или перезаписывает запись остатка.
func (s *stockStoreInMemory) Put(_ context.Context, record domain.StockRecord) error {
	if record.OnHand < 0 || record.MinThreshold < 0 {
		return domain.ErrStockNegative
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.items[record.ItemID]; ok {
		e.mu.Lock()
		record.Version = e.record.Version + 1
		e.record = record
		e.mu.Unlock()
		return nil
	}
	s.items[record.ItemID] = &stockEntry{record: record}
	return nil
}

var _ domain.StockStore = (*stockStoreInMemory)(nil)
