package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// CustomerDirectory разрешает ссылки на клиентов по таблице customers.
type CustomerDirectory struct {
	db *sql.DB
}

// NewCustomerDirectory создаёт PostgreSQL-справочник клиентов.
func NewCustomerDirectory(store *Store) *CustomerDirectory {
	return &CustomerDirectory{db: store.DB()}
}

// Resolve возвращает клиента. Walk-in в таблице не хранится.
func (d *CustomerDirectory) Resolve(ctx context.Context, ref string) (domain.Customer, error) {
	if ref == "" || ref == domain.WalkInCustomer {
		return domain.Customer{Ref: domain.WalkInCustomer}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var customer domain.Customer
	err := d.db.QueryRowContext(ctx, `SELECT ref, name FROM customers WHERE ref = $1`, ref).
		Scan(&customer.Ref, &customer.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Customer{}, domain.ErrCustomerNotFound
		}
		return domain.Customer{}, fmt.Errorf("select customer: %w", err)
	}
	return customer, nil
}

// UpsertCustomer создаёт или обновляет клиента.
func (d *CustomerDirectory) UpsertCustomer(ctx context.Context, customer domain.Customer) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := d.db.ExecContext(ctx, `
		INSERT INTO customers (ref, name) VALUES ($1,$2)
		ON CONFLICT (ref) DO UPDATE SET name = EXCLUDED.name
	`, customer.Ref, customer.Name); err != nil {
		return fmt.Errorf("upsert customer: %w", err)
	}
	return nil
}

var _ domain.CustomerDirectory = (*CustomerDirectory)(nil)
