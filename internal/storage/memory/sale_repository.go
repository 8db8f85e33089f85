package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// saleRepositoryInMemory - простая in-memory реализация SaleRepository.
type saleRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.Sale
}

// NewSaleRepository возвращает in-memory репозиторий для локальной разработки и тестов.
func NewSaleRepository() domain.SaleRepository {
	return &saleRepositoryInMemory{items: make(map[string]domain.Sale)}
}

// Create сохраняет новую продажу, если ID ещё не занят.
func (r *saleRepositoryInMemory) Create(_ context.Context, sale domain.Sale) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[sale.ID]; exists {
		return domain.ErrSaleAlreadyExists
	}
	// Сохраняем копию, чтобы вызывающий код не мог изменить запись.
	r.items[sale.ID] = sale.Clone()
	return nil
}

// Get возвращает продажу или ErrSaleNotFound.
func (r *saleRepositoryInMemory) Get(_ context.Context, id string) (domain.Sale, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	return sale.Clone(), nil
}

// MarkVoided переводит продажу в статус voided.
func (r *saleRepositoryInMemory) MarkVoided(_ context.Context, id, reason string, at time.Time) (domain.Sale, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sale, ok := r.items[id]
	if !ok {
		return domain.Sale{}, domain.ErrSaleNotFound
	}
	if sale.Status != domain.SaleStatusCommitted {
		return sale.Clone(), domain.ErrSaleNotCommitted
	}

	voidedAt := at.UTC()
	sale.Status = domain.SaleStatusVoided
	sale.VoidedAt = &voidedAt
	sale.VoidReason = reason
	r.items[id] = sale
	return sale.Clone(), nil
}

var _ domain.SaleRepository = (*saleRepositoryInMemory)(nil)
