package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// CustomerDirectory - справочник клиентов в памяти.
type CustomerDirectory struct {
	mu        sync.RWMutex
	customers map[string]domain.Customer
}

// NewCustomerDirectory создаёт пустой справочник.
func NewCustomerDirectory() *CustomerDirectory {
	return &CustomerDirectory{customers: make(map[string]domain.Customer)}
}

// UpsertCustomer добавляет или обновляет клиента.
func (d *CustomerDirectory) UpsertCustomer(_ context.Context, customer domain.Customer) error {
	if customer.Ref == "" {
		return domain.ErrCustomerNotFound
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.customers[customer.Ref] = customer
	return nil
}

// Resolve возвращает клиента по ссылке. Walk-in разрешается всегда.
func (d *CustomerDirectory) Resolve(_ context.Context, ref string) (domain.Customer, error) {
	if ref == "" || ref == domain.WalkInCustomer {
		return domain.Customer{Ref: domain.WalkInCustomer}, nil
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	customer, ok := d.customers[ref]
	if !ok {
		return domain.Customer{}, domain.ErrCustomerNotFound
	}
	return customer, nil
}

var _ domain.CustomerDirectory = (*CustomerDirectory)(nil)
