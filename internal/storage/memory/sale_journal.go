package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// saleJournalInMemory хранит события продаж в памяти (для разработки/тестов).
type saleJournalInMemory struct {
	mu     sync.RWMutex
	events map[string][]domain.SaleEvent
}

// NewSaleJournal создаёт in-memory реализацию SaleJournal.
func NewSaleJournal() domain.SaleJournal {
	return &saleJournalInMemory{events: make(map[string][]domain.SaleEvent)}
}

// Append добавляет событие в журнал.
func (r *saleJournalInMemory) Append(_ context.Context, event domain.SaleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	events := append(r.events[event.SaleID], event)
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Occurred.Before(events[j].Occurred)
	})
	r.events[event.SaleID] = events
	return nil
}

// List возвращает события продажи в хронологическом порядке.
func (r *saleJournalInMemory) List(_ context.Context, saleID string) ([]domain.SaleEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := r.events[saleID]
	result := make([]domain.SaleEvent, len(events))
	copy(result, events)
	return result, nil
}

var _ domain.SaleJournal = (*saleJournalInMemory)(nil)
