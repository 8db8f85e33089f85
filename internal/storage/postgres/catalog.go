package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Catalog читает карточки товаров вместе с остатком.
type Catalog struct {
	db *sql.DB
}

// NewCatalog создаёт PostgreSQL-каталог.
func NewCatalog(store *Store) *Catalog {
	return &Catalog{db: store.DB()}
}

// GetItem возвращает товар. Отсутствующая запись остатка читается как ноль.
func (c *Catalog) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var item domain.CatalogItem
	err := c.db.QueryRowContext(ctx, `
		SELECT c.item_id, c.name, c.price_minor, c.currency,
		       COALESCE(s.on_hand, 0), COALESCE(s.min_threshold, 0)
		FROM catalog_items c
		LEFT JOIN stock_records s ON s.item_id = c.item_id
		WHERE c.item_id = $1
	`, itemID).Scan(&item.ItemID, &item.Name, &item.PriceMinor, &item.Currency, &item.OnHand, &item.MinThreshold)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.CatalogItem{}, domain.ErrItemNotFound
		}
		return domain.CatalogItem{}, fmt.Errorf("select catalog item: %w", err)
	}
	return item, nil
}

// UpsertItem создаёт или обновляет карточку товара.
func (c *Catalog) UpsertItem(ctx context.Context, item domain.CatalogItem) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := c.db.ExecContext(ctx, `
		INSERT INTO catalog_items (item_id, name, price_minor, currency)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (item_id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    currency = EXCLUDED.currency,
		    updated_at = NOW()
	`, item.ItemID, item.Name, item.PriceMinor, item.Currency); err != nil {
		return fmt.Errorf("upsert catalog item: %w", err)
	}
	return nil
}

var _ domain.Catalog = (*Catalog)(nil)
