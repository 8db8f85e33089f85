// Package ledger реализует атомарное списание остатков партией строк продажи.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
)

const (
	defaultMaxAttempts    = 5
	defaultRetryBaseDelay = 2 * time.Millisecond
	maxRetryDelay         = 100 * time.Millisecond
)

// Options задаёт параметры Ledger.
type Options struct {
	Logger         *log.Entry
	Metrics        *metrics.LedgerMetrics
	MaxAttempts    int
	RetryBaseDelay time.Duration
	Clock          func() time.Time
}

// Option настраивает Ledger.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики конфликтов и компенсаций.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithMaxAttempts задаёт число оптимистичных попыток до ErrContention.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *Options) {
		opts.MaxAttempts = maxAttempts
	}
}

// WithRetryBaseDelay задаёт базовую паузу между попытками.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *Options) {
		opts.RetryBaseDelay = delay
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Ledger списывает и возвращает остатки через StockStore.
// Списание партии либо проходит целиком, либо не меняет ни одной записи.
type Ledger struct {
	store          domain.StockStore
	logger         *log.Entry
	metrics        *metrics.LedgerMetrics
	maxAttempts    int
	retryBaseDelay time.Duration
	now            func() time.Time
}

// New создаёт Ledger.
func New(store domain.StockStore, options ...Option) *Ledger {
	opts := Options{
		MaxAttempts:    defaultMaxAttempts,
		RetryBaseDelay: defaultRetryBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "stock-ledger")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Ledger{
		store:          store,
		logger:         logger,
		metrics:        opts.Metrics,
		maxAttempts:    opts.MaxAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		now:            opts.Clock,
	}
}

// MaxAttempts возвращает настроенное число попыток.
func (l *Ledger) MaxAttempts() int {
	return l.maxAttempts
}

type appliedDecrement struct {
	itemID   string
	quantity int64
}

// Reserve списывает остатки по всем запросам или не списывает ничего.
// Нехватка возвращает *domain.InsufficientStockError со строками-виновниками,
// исчерпание попыток при конкурентных изменениях возвращает domain.ErrContention.
func (l *Ledger) Reserve(ctx context.Context, saleID string, requests []domain.StockRequest) (domain.Reservation, error) {
	if err := validateRequests(requests); err != nil {
		return domain.Reservation{}, err
	}

	reservation := domain.Reservation{
		ID:        uuid.NewString(),
		SaleID:    saleID,
		Status:    domain.ReservationStatusReserved,
		CreatedAt: l.now().UTC(),
	}
	if len(requests) == 0 {
		return reservation, nil
	}

	totals, lineIDs := aggregate(requests)
	itemIDs := sortedKeys(totals)

	for attempt := 1; attempt <= l.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.Reservation{}, err
		}

		snapshot, err := l.store.Get(ctx, itemIDs)
		if err != nil {
			l.metrics.RecordReservation("persistence_error", attempt)
			return domain.Reservation{}, fmt.Errorf("%w: read stock snapshot: %v", domain.ErrPersistence, err)
		}

		if shortErr := shortages(itemIDs, totals, lineIDs, snapshot); shortErr != nil {
			l.metrics.RecordReservation("insufficient", attempt)
			return domain.Reservation{}, shortErr
		}

		applied, conflict, err := l.applyDecrements(ctx, itemIDs, totals, snapshot)
		if err != nil {
			l.rollback(ctx, saleID, applied)
			l.metrics.RecordReservation("persistence_error", attempt)
			return domain.Reservation{}, fmt.Errorf("%w: decrement stock: %v", domain.ErrPersistence, err)
		}
		if !conflict {
			reservation.Lines = reservedLines(requests, totals, snapshot)
			l.metrics.RecordReservation("reserved", attempt)
			return reservation, nil
		}

		l.metrics.RecordConflict()
		if err := l.rollback(ctx, saleID, applied); err != nil {
			l.metrics.RecordReservation("persistence_error", attempt)
			return domain.Reservation{}, fmt.Errorf("%w: rollback partial reservation: %v", domain.ErrPersistence, err)
		}

		l.logger.WithFields(log.Fields{
			"sale_id": saleID,
			"attempt": attempt,
		}).Debug("stock snapshot changed during reservation, retrying")

		if attempt >= l.maxAttempts {
			break
		}
		if err := l.wait(ctx, attempt); err != nil {
			return domain.Reservation{}, err
		}
	}

	l.metrics.RecordReservation("contention", l.maxAttempts)
	l.logger.WithFields(log.Fields{
		"sale_id":  saleID,
		"attempts": l.maxAttempts,
	}).Warn("stock reservation gave up after concurrent modifications")
	return domain.Reservation{}, fmt.Errorf("%w: %d attempts exhausted", domain.ErrContention, l.maxAttempts)
}

// Commit закрывает резерв после записи продажи.
func (l *Ledger) Commit(_ context.Context, reservation *domain.Reservation) error {
	if reservation == nil {
		return nil
	}
	if reservation.Status != domain.ReservationStatusReserved {
		return domain.ErrReservationClosed
	}
	reservation.Status = domain.ReservationStatusCommitted
	return nil
}

// Release возвращает списанный остаток. Повторный вызов ничего не делает.
func (l *Ledger) Release(ctx context.Context, reservation *domain.Reservation) error {
	if reservation == nil || reservation.Status == domain.ReservationStatusReleased {
		return nil
	}
	if reservation.Status != domain.ReservationStatusReserved {
		return domain.ErrReservationClosed
	}

	quantities := reservation.Quantities()
	applied := make([]appliedDecrement, 0, len(quantities))
	for _, itemID := range sortedKeys(quantities) {
		applied = append(applied, appliedDecrement{itemID: itemID, quantity: quantities[itemID]})
	}
	if err := l.rollback(ctx, reservation.SaleID, applied); err != nil {
		return fmt.Errorf("%w: release reservation %s: %v", domain.ErrPersistence, reservation.ID, err)
	}

	reservation.Status = domain.ReservationStatusReleased
	return nil
}

// Restock возвращает товар на склад при аннулировании продажи.
// Товар без записи остатка получает новую запись.
func (l *Ledger) Restock(ctx context.Context, saleID string, requests []domain.StockRequest) error {
	if err := validateRequests(requests); err != nil {
		return err
	}
	totals, _ := aggregate(requests)

	var errs []error
	for _, itemID := range sortedKeys(totals) {
		qty := totals[itemID]
		_, err := l.store.Adjust(ctx, itemID, qty)
		if errors.Is(err, domain.ErrStockRecordNotFound) {
			err = l.store.Put(ctx, domain.StockRecord{ItemID: itemID, OnHand: qty})
		}
		if err != nil {
			l.logger.WithError(err).WithFields(log.Fields{
				"sale_id":  saleID,
				"item_id":  itemID,
				"quantity": qty,
			}).Error("failed to restock item")
			errs = append(errs, fmt.Errorf("item %s: %w", itemID, err))
			l.metrics.RecordCompensation("restock_failed")
			continue
		}
		l.metrics.RecordCompensation("restocked")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: restock: %w", domain.ErrPersistence, errors.Join(errs...))
	}
	return nil
}

func (l *Ledger) applyDecrements(ctx context.Context, itemIDs []string, totals map[string]int64, snapshot map[string]domain.StockRecord) ([]appliedDecrement, bool, error) {
	applied := make([]appliedDecrement, 0, len(itemIDs))
	for _, itemID := range itemIDs {
		expected := snapshot[itemID].OnHand
		next := expected - totals[itemID]

		swapped, err := l.store.CompareAndSwap(ctx, itemID, expected, next)
		if err != nil {
			return applied, false, err
		}
		if !swapped {
			return applied, true, nil
		}
		applied = append(applied, appliedDecrement{itemID: itemID, quantity: totals[itemID]})
	}
	return applied, false, nil
}

// rollback возвращает уже применённые списания. Adjust коммутативен,
// поэтому параллельные изменения того же товара не теряются.
func (l *Ledger) rollback(ctx context.Context, saleID string, applied []appliedDecrement) error {
	// Компенсация должна завершиться даже после отмены запроса кассира.
	ctx = context.WithoutCancel(ctx)

	var errs []error
	for _, decrement := range applied {
		if _, err := l.store.Adjust(ctx, decrement.itemID, decrement.quantity); err != nil {
			l.logger.WithError(err).WithFields(log.Fields{
				"sale_id":  saleID,
				"item_id":  decrement.itemID,
				"quantity": decrement.quantity,
			}).Error("failed to return reserved stock")
			l.metrics.RecordCompensation("failed")
			errs = append(errs, fmt.Errorf("item %s: %w", decrement.itemID, err))
			continue
		}
		l.metrics.RecordCompensation("released")
	}
	return errors.Join(errs...)
}

func (l *Ledger) wait(ctx context.Context, attempt int) error {
	delay := l.retryBackoff(attempt)
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryBackoff растёт экспоненциально с равномерным джиттером до maxRetryDelay.
func (l *Ledger) retryBackoff(attempt int) time.Duration {
	if l.retryBaseDelay <= 0 {
		return 0
	}
	delay := l.retryBaseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay/2 + rand.N(delay/2+1)
}

func validateRequests(requests []domain.StockRequest) error {
	var errs []error
	for _, request := range requests {
		if request.ItemID == "" {
			errs = append(errs, fmt.Errorf("line %s: %w", request.LineID, domain.ErrLineRefRequired))
		}
		if request.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("line %s: %w", request.LineID, domain.ErrLineQtyInvalid))
		}
	}
	return domain.NewValidationError(errs...)
}

func aggregate(requests []domain.StockRequest) (map[string]int64, map[string][]string) {
	totals := make(map[string]int64, len(requests))
	lineIDs := make(map[string][]string, len(requests))
	for _, request := range requests {
		totals[request.ItemID] += request.Quantity
		lineIDs[request.ItemID] = append(lineIDs[request.ItemID], request.LineID)
	}
	return totals, lineIDs
}

func shortages(itemIDs []string, totals map[string]int64, lineIDs map[string][]string, snapshot map[string]domain.StockRecord) error {
	var result []domain.Shortage
	for _, itemID := range itemIDs {
		available := snapshot[itemID].OnHand
		if available >= totals[itemID] {
			continue
		}
		result = append(result, domain.Shortage{
			ItemID:    itemID,
			Requested: totals[itemID],
			Available: available,
			LineIDs:   append([]string(nil), lineIDs[itemID]...),
		})
	}
	if len(result) == 0 {
		return nil
	}
	return &domain.InsufficientStockError{Shortages: result}
}

func reservedLines(requests []domain.StockRequest, totals map[string]int64, snapshot map[string]domain.StockRecord) []domain.ReservedLine {
	lines := make([]domain.ReservedLine, 0, len(requests))
	for _, request := range requests {
		record := snapshot[request.ItemID]
		lines = append(lines, domain.ReservedLine{
			LineID:       request.LineID,
			ItemID:       request.ItemID,
			Quantity:     request.Quantity,
			OnHandAfter:  record.OnHand - totals[request.ItemID],
			MinThreshold: record.MinThreshold,
		})
	}
	return lines
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
