// Package seed загружает начальный каталог, остатки и клиентов из JSON-файла.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Item - запись каталога в seed-файле.
type Item struct {
	ItemID       string `json:"item_id"`
	Name         string `json:"name"`
	PriceMinor   int64  `json:"price_minor"`
	Currency     string `json:"currency"`
	OnHand       int64  `json:"on_hand"`
	MinThreshold int64  `json:"min_threshold"`
}

// Customer - запись справочника клиентов.
type Customer struct {
	Ref  string `json:"ref"`
	Name string `json:"name"`
}

// File - содержимое seed-файла.
type File struct {
	Items     []Item     `json:"items"`
	Customers []Customer `json:"customers"`
}

// ItemWriter сохраняет карточки товаров.
type ItemWriter interface {
	UpsertItem(ctx context.Context, item domain.CatalogItem) error
}

// CustomerWriter сохраняет клиентов.
type CustomerWriter interface {
	UpsertCustomer(ctx context.Context, customer domain.Customer) error
}

// Read читает и разбирает seed-файл.
func Read(path string) (File, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("read seed file: %w", err)
	}
	var file File
	if err := json.Unmarshal(raw, &file); err != nil {
		return File{}, fmt.Errorf("decode seed file: %w", err)
	}
	return file, nil
}

// Apply записывает карточки, остатки и клиентов. Валюта по умолчанию
// подставляется в товары без явной валюты.
func Apply(ctx context.Context, file File, defaultCurrency string, items ItemWriter, stock domain.StockStore, customers CustomerWriter) error {
	for _, item := range file.Items {
		currency := item.Currency
		if currency == "" {
			currency = defaultCurrency
		}
		if items != nil {
			if err := items.UpsertItem(ctx, domain.CatalogItem{
				ItemID:       item.ItemID,
				Name:         item.Name,
				PriceMinor:   item.PriceMinor,
				Currency:     currency,
				MinThreshold: item.MinThreshold,
			}); err != nil {
				return fmt.Errorf("seed item %s: %w", item.ItemID, err)
			}
		}
		if stock != nil {
			if err := stock.Put(ctx, domain.StockRecord{
				ItemID:       item.ItemID,
				OnHand:       item.OnHand,
				MinThreshold: item.MinThreshold,
			}); err != nil {
				return fmt.Errorf("seed stock %s: %w", item.ItemID, err)
			}
		}
	}

	if customers == nil {
		return nil
	}
	for _, customer := range file.Customers {
		if err := customers.UpsertCustomer(ctx, domain.Customer{Ref: customer.Ref, Name: customer.Name}); err != nil {
			return fmt.Errorf("seed customer %s: %w", customer.Ref, err)
		}
	}
	return nil
}
