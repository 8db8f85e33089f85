package domain

import (
	"context"
	"time"
)

// SaleRepository описывает требования к хранилищу продаж.
type SaleRepository interface {
	// Create сохраняет новую продажу. Возвращает ErrSaleAlreadyExists, если ID занят.
	Create(ctx context.Context, sale Sale) error
	// Get возвращает продажу или ErrSaleNotFound.
	Get(ctx context.Context, id string) (Sale, error)
	// MarkVoided переводит продажу committed → voided. Для уже аннулированной
	// продажи возвращает ErrSaleNotCommitted.
	MarkVoided(ctx context.Context, id, reason string, at time.Time) (Sale, error)
}

// SaleJournal хранит события жизненного цикла продажи.
type SaleJournal interface {
	Append(ctx context.Context, event SaleEvent) error
	List(ctx context.Context, saleID string) ([]SaleEvent, error)
}
