package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Catalog хранит карточки товаров в памяти, остаток читает из StockStore.
type Catalog struct {
	mu    sync.RWMutex
	items map[string]domain.CatalogItem
	stock domain.StockStore
}

// NewCatalog создаёт каталог поверх хранилища остатков.
func NewCatalog(stock domain.StockStore) *Catalog {
	return &Catalog{
		items: make(map[string]domain.CatalogItem),
		stock: stock,
	}
}

// UpsertItem сохраняет карточку товара. Остаток в карточке игнорируется.
func (c *Catalog) UpsertItem(_ context.Context, item domain.CatalogItem) error {
	if item.ItemID == "" {
		return domain.ErrLineRefRequired
	}
	if item.PriceMinor < 0 {
		return domain.ErrLinePriceInvalid
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	item.OnHand = 0
	c.items[item.ItemID] = item
	return nil
}

// GetItem возвращает карточку с текущим остатком.
func (c *Catalog) GetItem(ctx context.Context, itemID string) (domain.CatalogItem, error) {
	c.mu.RLock()
	item, ok := c.items[itemID]
	c.mu.RUnlock()
	if !ok {
		return domain.CatalogItem{}, domain.ErrItemNotFound
	}
	if c.stock == nil {
		return item, nil
	}

	records, err := c.stock.Get(ctx, []string{itemID})
	if err != nil {
		return domain.CatalogItem{}, err
	}
	if record, ok := records[itemID]; ok {
		item.OnHand = record.OnHand
		item.MinThreshold = record.MinThreshold
	}
	return item, nil
}

var _ domain.Catalog = (*Catalog)(nil)
