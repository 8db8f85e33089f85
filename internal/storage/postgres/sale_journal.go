package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

type saleJournal struct {
	db *sql.DB
}

// NewSaleJournal создаёт PostgreSQL-реализацию SaleJournal.
func NewSaleJournal(store *Store) domain.SaleJournal {
	return &saleJournal{db: store.DB()}
}

func (r *saleJournal) Append(ctx context.Context, event domain.SaleEvent) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}

	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO sale_events (sale_id, type, reason, occurred)
		VALUES ($1,$2,$3,$4)
	`, event.SaleID, event.Type, event.Reason, event.Occurred); err != nil {
		return fmt.Errorf("append sale event: %w", err)
	}

	return nil
}

func (r *saleJournal) List(ctx context.Context, saleID string) ([]domain.SaleEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT sale_id, type, reason, occurred
		FROM sale_events
		WHERE sale_id = $1
		ORDER BY occurred ASC, id ASC
	`, saleID)
	if err != nil {
		return nil, fmt.Errorf("list sale events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.SaleEvent, 0)
	for rows.Next() {
		var event domain.SaleEvent
		if err := rows.Scan(&event.SaleID, &event.Type, &event.Reason, &event.Occurred); err != nil {
			return nil, fmt.Errorf("scan sale event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sale events: %w", err)
	}

	return events, nil
}

var _ domain.SaleJournal = (*saleJournal)(nil)
