package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// DBPool - подмножество *pgxpool.Pool, нужное хранилищу остатков.
// Позволяет подменять пул в тестах.
type DBPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// StockStore реализует domain.StockStore условным UPDATE по on_hand.
type StockStore struct {
	pool DBPool
}

// NewStockStore создаёт хранилище остатков поверх пула pgx.
func NewStockStore(pool DBPool) *StockStore {
	return &StockStore{pool: pool}
}

// Get читает записи одним запросом.
func (s *StockStore) Get(ctx context.Context, itemIDs []string) (map[string]domain.StockRecord, error) {
	result := make(map[string]domain.StockRecord, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.pool.Query(ctx, `
		SELECT item_id, on_hand, min_threshold, version, updated_at
		FROM stock_records
		WHERE item_id = ANY($1)
	`, itemIDs)
	if err != nil {
		return nil, fmt.Errorf("select stock records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var record domain.StockRecord
		if err := rows.Scan(&record.ItemID, &record.OnHand, &record.MinThreshold, &record.Version, &record.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan stock record: %w", err)
		}
		result[record.ItemID] = record
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stock records: %w", err)
	}
	return result, nil
}

// CompareAndSwap обновляет остаток, только если он не изменился с момента снимка.
func (s *StockStore) CompareAndSwap(ctx context.Context, itemID string, expected, next int64) (bool, error) {
	if next < 0 {
		return false, domain.ErrStockNegative
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	tag, err := s.pool.Exec(ctx, `
		UPDATE stock_records
		SET on_hand = $3, version = version + 1, updated_at = NOW()
		WHERE item_id = $1 AND on_hand = $2
	`, itemID, expected, next)
	if err != nil {
		return false, fmt.Errorf("cas stock record: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	exists, err := s.exists(ctx, itemID)
	if err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrStockRecordNotFound
	}
	return false, nil
}

// Adjust прибавляет delta к остатку, не опуская его ниже нуля.
func (s *StockStore) Adjust(ctx context.Context, itemID string, delta int64) (domain.StockRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var record domain.StockRecord
	err := s.pool.QueryRow(ctx, `
		UPDATE stock_records
		SET on_hand = on_hand + $2, version = version + 1, updated_at = NOW()
		WHERE item_id = $1 AND on_hand + $2 >= 0
		RETURNING item_id, on_hand, min_threshold, version, updated_at
	`, itemID, delta).Scan(&record.ItemID, &record.OnHand, &record.MinThreshold, &record.Version, &record.UpdatedAt)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.StockRecord{}, fmt.Errorf("adjust stock record: %w", err)
	}

	exists, existsErr := s.exists(ctx, itemID)
	if existsErr != nil {
		return domain.StockRecord{}, existsErr
	}
	if !exists {
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	}
	return domain.StockRecord{}, domain.ErrStockNegative
}

// Put создаёт или перезаписывает запись остатка.
func (s *StockStore) Put(ctx context.Context, record domain.StockRecord) error {
	if record.OnHand < 0 || record.MinThreshold < 0 {
		return domain.ErrStockNegative
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO stock_records (item_id, on_hand, min_threshold, version, updated_at)
		VALUES ($1, $2, $3, 0, NOW())
		ON CONFLICT (item_id) DO UPDATE
		SET on_hand = EXCLUDED.on_hand,
		    min_threshold = EXCLUDED.min_threshold,
		    version = stock_records.version + 1,
		    updated_at = NOW()
	`, record.ItemID, record.OnHand, record.MinThreshold); err != nil {
		return fmt.Errorf("put stock record: %w", err)
	}
	return nil
}

func (s *StockStore) exists(ctx context.Context, itemID string) (bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `SELECT item_id FROM stock_records WHERE item_id = $1`, itemID).Scan(&id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	return false, fmt.Errorf("check stock record exists: %w", err)
}

var _ domain.StockStore = (*StockStore)(nil)
