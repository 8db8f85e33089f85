// Package redis хранит остатки в Redis. Атомарность CAS обеспечивается Lua-скриптами.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	fieldOnHand       = "on_hand"
	fieldMinThreshold = "min_threshold"
	fieldVersion      = "version"
	fieldUpdatedAt    = "updated_at"
)

// Коды ответа скриптов.
const (
	scriptNotFound = -1
	scriptNegative = -2
)

var casScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'on_hand')
if not current then
  return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'on_hand', ARGV[2], 'updated_at', ARGV[3])
redis.call('HINCRBY', KEYS[1], 'version', 1)
return 1
`)

var adjustScript = redis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'on_hand')
if not current then
  return {-1}
end
local updated = tonumber(current) + tonumber(ARGV[1])
if updated < 0 then
  return {-2}
end
redis.call('HSET', KEYS[1], 'on_hand', updated, 'updated_at', ARGV[2])
local version = redis.call('HINCRBY', KEYS[1], 'version', 1)
local threshold = tonumber(redis.call('HGET', KEYS[1], 'min_threshold') or '0')
return {1, updated, version, threshold}
`)

// StockStore реализует domain.StockStore поверх хешей stock:{item_id}.
type StockStore struct {
	client redis.UniversalClient
	prefix string
}

// NewStockStore создаёт хранилище остатков. Пустой prefix заменяется на "stock:".
func NewStockStore(client redis.UniversalClient, prefix string) *StockStore {
	if prefix == "" {
		prefix = "stock:"
	}
	return &StockStore{client: client, prefix: prefix}
}

func (s *StockStore) key(itemID string) string {
	return s.prefix + itemID
}

// Ping проверяет доступность Redis (используется health-check).
func (s *StockStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Get читает записи одним pipeline.
func (s *StockStore) Get(ctx context.Context, itemIDs []string) (map[string]domain.StockRecord, error) {
	result := make(map[string]domain.StockRecord, len(itemIDs))
	if len(itemIDs) == 0 {
		return result, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(itemIDs))
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, id := range itemIDs {
			cmds[i] = pipe.HGetAll(ctx, s.key(id))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("redis stock get failed: %w", err)
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		record, err := decodeRecord(itemIDs[i], fields)
		if err != nil {
			return nil, err
		}
		result[itemIDs[i]] = record
	}
	return result, nil
}

// CompareAndSwap атомарно заменяет остаток, если он равен expected.
func (s *StockStore) CompareAndSwap(ctx context.Context, itemID string, expected, next int64) (bool, error) {
	if next < 0 {
		return false, domain.ErrStockNegative
	}

	code, err := casScript.Run(ctx, s.client, []string{s.key(itemID)}, expected, next, nowUnixNano()).Int64()
	if err != nil {
		return false, fmt.Errorf("redis stock cas failed: %w", err)
	}
	switch code {
	case scriptNotFound:
		return false, domain.ErrStockRecordNotFound
	case 1:
		return true, nil
	default:
		return false, nil
	}
}

// Adjust атомарно прибавляет delta к остатку.
func (s *StockStore) Adjust(ctx context.Context, itemID string, delta int64) (domain.StockRecord, error) {
	values, err := adjustScript.Run(ctx, s.client, []string{s.key(itemID)}, delta, nowUnixNano()).Int64Slice()
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("redis stock adjust failed: %w", err)
	}
	if len(values) == 0 {
		return domain.StockRecord{}, errors.New("redis stock adjust: empty script reply")
	}

	switch values[0] {
	case scriptNotFound:
		return domain.StockRecord{}, domain.ErrStockRecordNotFound
	case scriptNegative:
		return domain.StockRecord{}, domain.ErrStockNegative
	}
	if len(values) < 4 {
		return domain.StockRecord{}, fmt.Errorf("redis stock adjust: unexpected reply %v", values)
	}

	return domain.StockRecord{
		ItemID:       itemID,
		OnHand:       values[1],
		Version:      values[2],
		MinThreshold: values[3],
		UpdatedAt:    time.Now().UTC(),
	}, nil
}

// Put создаёт или перезаписывает запись остатка.
func (s *StockStore) Put(ctx context.Context, record domain.StockRecord) error {
	if record.OnHand < 0 || record.MinThreshold < 0 {
		return domain.ErrStockNegative
	}

	key := s.key(record.ItemID)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldOnHand, record.OnHand,
			fieldMinThreshold, record.MinThreshold,
			fieldUpdatedAt, nowUnixNano(),
		)
		pipe.HIncrBy(ctx, key, fieldVersion, 1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis stock put failed: %w", err)
	}
	return nil
}

func decodeRecord(itemID string, fields map[string]string) (domain.StockRecord, error) {
	record := domain.StockRecord{ItemID: itemID}

	ints := []struct {
		name string
		dst  *int64
	}{
		{fieldOnHand, &record.OnHand},
		{fieldMinThreshold, &record.MinThreshold},
		{fieldVersion, &record.Version},
	}
	for _, f := range ints {
		raw, ok := fields[f.name]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return domain.StockRecord{}, fmt.Errorf("redis stock %s: parse %s: %w", itemID, f.name, err)
		}
		*f.dst = v
	}

	if raw, ok := fields[fieldUpdatedAt]; ok {
		if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
			record.UpdatedAt = time.Unix(0, nanos).UTC()
		}
	}
	return record, nil
}

func nowUnixNano() int64 {
	return time.Now().UTC().UnixNano()
}

var _ domain.StockStore = (*StockStore)(nil)
