// Package sale проводит продажи: валидация корзины, списание остатков,
// запись продажи и передача уведомлений диспетчеру.
package sale

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/pricing"
	"github.com/vladislavdragonenkov/pos/internal/service/receipt"
)

// Ledger - операции склада, нужные кассе.
type Ledger interface {
	Reserve(ctx context.Context, saleID string, requests []domain.StockRequest) (domain.Reservation, error)
	Commit(ctx context.Context, reservation *domain.Reservation) error
	Release(ctx context.Context, reservation *domain.Reservation) error
	Restock(ctx context.Context, saleID string, requests []domain.StockRequest) error
}

// Причины прерывания коммита для метрик.
const (
	abortValidation   = "validation"
	abortInsufficient = "insufficient_stock"
	abortContention   = "contention"
	abortPersistence  = "persistence"
	abortCanceled     = "canceled"
)

// CommitRequest - запрос на проведение корзины.
type CommitRequest struct {
	// SaleID - ключ идемпотентности. Пустое значение означает новый UUID.
	SaleID        string
	Cart          *domain.Cart
	PaymentMethod domain.PaymentMethod
}

// Options задаёт зависимости и параметры Service.
type Options struct {
	Logger          *log.Entry
	Metrics         *metrics.SaleMetrics
	Notifier        domain.Notifier
	Journal         domain.SaleJournal
	Catalog         domain.Catalog
	Customers       domain.CustomerDirectory
	Clock           func() time.Time
	ReceiptHeader   receipt.Header
	DefaultCurrency string
}

// Option настраивает Service.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики продаж.
func WithMetrics(m *metrics.SaleMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithNotifier подключает диспетчер уведомлений.
func WithNotifier(notifier domain.Notifier) Option {
	return func(opts *Options) {
		opts.Notifier = notifier
	}
}

// WithJournal подключает журнал событий продажи.
func WithJournal(journal domain.SaleJournal) Option {
	return func(opts *Options) {
		opts.Journal = journal
	}
}

// WithCatalog подключает каталог для сборки корзины из черновика.
func WithCatalog(catalog domain.Catalog) Option {
	return func(opts *Options) {
		opts.Catalog = catalog
	}
}

// WithCustomers подключает справочник клиентов.
func WithCustomers(customers domain.CustomerDirectory) Option {
	return func(opts *Options) {
		opts.Customers = customers
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// WithReceiptHeader задаёт реквизиты магазина для чеков.
func WithReceiptHeader(header receipt.Header) Option {
	return func(opts *Options) {
		opts.ReceiptHeader = header
	}
}

// WithDefaultCurrency задаёт валюту черновиков без явной валюты.
func WithDefaultCurrency(currency string) Option {
	return func(opts *Options) {
		opts.DefaultCurrency = currency
	}
}

// Service - единственный писатель продаж.
type Service struct {
	ledger    Ledger
	sales     domain.SaleRepository
	journal   domain.SaleJournal
	catalog   domain.Catalog
	customers domain.CustomerDirectory
	notifier  domain.Notifier
	logger    *log.Entry
	metrics   *metrics.SaleMetrics
	now       func() time.Time
	header    receipt.Header
	currency  string

	// inflight выстраивает коммиты с одним SaleID в очередь до резерва.
	inflight singleflight.Group
}

// NewService создаёт Service.
func NewService(ledger Ledger, sales domain.SaleRepository, options ...Option) *Service {
	opts := Options{}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "sale-committer")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &Service{
		ledger:    ledger,
		sales:     sales,
		journal:   opts.Journal,
		catalog:   opts.Catalog,
		customers: opts.Customers,
		notifier:  opts.Notifier,
		logger:    logger,
		metrics:   opts.Metrics,
		now:       opts.Clock,
		header:    opts.ReceiptHeader,
		currency:  opts.DefaultCurrency,
	}
}

// Commit проводит корзину. Повтор с тем же SaleID возвращает уже записанную продажу,
// не трогая склад. Любая ошибка до записи оставляет остатки без изменений.
func (s *Service) Commit(ctx context.Context, req CommitRequest) (domain.Sale, error) {
	start := time.Now()
	s.metrics.RecordCommitStarted()
	defer func() {
		s.metrics.RecordCommitFinished(time.Since(start))
	}()

	if req.SaleID == "" {
		req.SaleID = uuid.NewString()
	}

	for {
		ch := s.inflight.DoChan(req.SaleID, func() (any, error) {
			return s.commit(ctx, req)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
		case <-ctx.Done():
			s.metrics.RecordAborted(abortCanceled)
			return domain.Sale{}, ctx.Err()
		}

		// Ведущий коммит прервал чужой ctx: наш ещё жив, проводим сами.
		if res.Shared && ctx.Err() == nil && isCanceled(res.Err) {
			continue
		}
		if res.Err != nil {
			return domain.Sale{}, res.Err
		}
		sale, _ := res.Val.(domain.Sale)
		return sale, nil
	}
}

// Replay возвращает уже записанную продажу с ключом saleID. ok=false означает,
// что продажи нет и запрос нужно проводить. Транспорт вызывает Replay до сборки
// корзины, чтобы повтор не зависел от текущих цен и наличия в каталоге.
func (s *Service) Replay(ctx context.Context, saleID string) (domain.Sale, bool, error) {
	if saleID == "" {
		return domain.Sale{}, false, nil
	}
	existing, err := s.sales.Get(ctx, saleID)
	switch {
	case err == nil:
		s.metrics.RecordReplayed()
		s.logger.WithField("sale_id", saleID).Debug("sale already committed, replaying stored record")
		return existing, true, nil
	case errors.Is(err, domain.ErrSaleNotFound):
		return domain.Sale{}, false, nil
	default:
		return domain.Sale{}, false, fmt.Errorf("%w: lookup sale: %v", domain.ErrPersistence, err)
	}
}

// commit выполняет один проход коммита. Для одного SaleID одновременно работает
// не больше одного прохода, остальные получают его результат.
func (s *Service) commit(ctx context.Context, req CommitRequest) (domain.Sale, error) {
	saleID := req.SaleID
	logger := s.logger.WithField("sale_id", saleID)

	existing, err := s.sales.Get(ctx, saleID)
	switch {
	case err == nil:
		s.metrics.RecordReplayed()
		logger.Debug("sale already committed, returning stored record")
		return existing, nil
	case !errors.Is(err, domain.ErrSaleNotFound):
		s.metrics.RecordAborted(abortPersistence)
		return domain.Sale{}, fmt.Errorf("%w: lookup sale: %v", domain.ErrPersistence, err)
	}

	stage := time.Now()
	customerRef, err := s.validate(ctx, req)
	s.metrics.RecordStageDuration("validate", time.Since(stage))
	if err != nil {
		s.metrics.RecordAborted(abortReason(err))
		logger.WithError(err).Debug("cart rejected")
		return domain.Sale{}, err
	}

	totals := pricing.Resolve(req.Cart)

	stage = time.Now()
	reservation, err := s.ledger.Reserve(ctx, saleID, req.Cart.StockRequests())
	s.metrics.RecordStageDuration("reserve", time.Since(stage))
	if err != nil {
		s.metrics.RecordAborted(abortReason(err))
		logger.WithError(err).Info("stock reservation failed")
		return domain.Sale{}, err
	}

	sale := s.buildSale(saleID, req, customerRef, totals)
	if errs := sale.ValidateInvariants(); len(errs) > 0 {
		s.release(ctx, &reservation)
		s.metrics.RecordAborted(abortValidation)
		return domain.Sale{}, domain.NewValidationError(errs...)
	}

	stage = time.Now()
	err = s.sales.Create(ctx, sale)
	s.metrics.RecordStageDuration("persist", time.Since(stage))
	if err != nil {
		s.release(ctx, &reservation)
		if errors.Is(err, domain.ErrSaleAlreadyExists) {
			// Параллельный коммит с тем же ID успел записать продажу первым.
			winner, getErr := s.sales.Get(ctx, saleID)
			if getErr == nil {
				s.metrics.RecordReplayed()
				logger.Info("concurrent commit won the insert race, returning its sale")
				return winner, nil
			}
			err = getErr
		}
		s.metrics.RecordAborted(abortPersistence)
		logger.WithError(err).Error("failed to persist sale, reservation released")
		return domain.Sale{}, fmt.Errorf("%w: save sale: %v", domain.ErrPersistence, err)
	}

	if err := s.ledger.Commit(ctx, &reservation); err != nil {
		logger.WithError(err).Warn("failed to close reservation")
	}

	s.appendJournal(ctx, domain.SaleEvent{SaleID: sale.ID, Type: domain.SaleEventCommitted, Occurred: sale.CommittedAt})
	s.metrics.RecordCommitted()
	logger.WithFields(log.Fields{
		"total_minor": sale.TotalMinor,
		"currency":    sale.Currency,
		"lines":       len(sale.Lines),
	}).Info("sale committed")

	s.emitNotifications(sale, reservation)
	req.Cart.Clear()

	return sale, nil
}

// validate проверяет корзину и разрешает клиента. Возвращает итоговую ссылку на клиента.
func (s *Service) validate(ctx context.Context, req CommitRequest) (string, error) {
	if req.Cart == nil {
		return "", domain.NewValidationError(domain.ErrCartEmpty)
	}

	errs := req.Cart.Validate()
	if !req.PaymentMethod.Valid() {
		errs = append(errs, fmt.Errorf("%q: %w", req.PaymentMethod, domain.ErrPaymentMethodInvalid))
	}

	customerRef := req.Cart.CustomerRef()
	if s.customers != nil {
		customer, err := s.customers.Resolve(ctx, customerRef)
		switch {
		case err == nil:
			customerRef = customer.Ref
		case errors.Is(err, domain.ErrCustomerNotFound):
			errs = append(errs, fmt.Errorf("customer %s: %w", customerRef, err))
		default:
			return "", fmt.Errorf("%w: resolve customer: %v", domain.ErrPersistence, err)
		}
	}

	if err := domain.NewValidationError(errs...); err != nil {
		return "", err
	}
	return customerRef, nil
}

func (s *Service) buildSale(saleID string, req CommitRequest, customerRef string, totals pricing.Totals) domain.Sale {
	cartLines := req.Cart.Lines()
	lines := make([]domain.SoldLine, 0, len(cartLines))
	for _, line := range cartLines {
		sold := domain.SoldLine{CartLine: line}
		if line.Kind == domain.LineKindProduct {
			sold.StockDelta = -line.Quantity
		}
		lines = append(lines, sold)
	}

	sale := domain.Sale{
		ID:                saleID,
		Lines:             lines,
		Currency:          req.Cart.Currency(),
		SubtotalMinor:     totals.SubtotalMinor,
		LineDiscountMinor: totals.LineDiscountMinor,
		DiscountMinor:     totals.DiscountMinor,
		TotalMinor:        totals.TotalMinor,
		CustomerRef:       customerRef,
		PaymentMethod:     req.PaymentMethod,
		Status:            domain.SaleStatusCommitted,
		CommittedAt:       s.now().UTC(),
	}
	if promotion, ok := req.Cart.Promotion(); ok {
		sale.Promotion = &promotion
	}
	return sale
}

// release снимает резерв. Вызывается только на пути отказа, поэтому не зависит от отмены ctx.
func (s *Service) release(ctx context.Context, reservation *domain.Reservation) {
	releaseCtx := context.WithoutCancel(ctx)
	if err := s.ledger.Release(releaseCtx, reservation); err != nil {
		s.logger.WithError(err).WithField("sale_id", reservation.SaleID).Error("failed to release reservation")
		s.appendJournal(releaseCtx, domain.SaleEvent{
			SaleID:   reservation.SaleID,
			Type:     domain.SaleEventReleaseFailed,
			Reason:   err.Error(),
			Occurred: s.now().UTC(),
		})
	}
}

// Void аннулирует продажу и возвращает товар на склад.
// Повторное аннулирование возвращает продажу без изменений.
func (s *Service) Void(ctx context.Context, saleID, reason string) (domain.Sale, error) {
	logger := s.logger.WithField("sale_id", saleID)

	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return domain.Sale{}, err
	}
	if sale.Status == domain.SaleStatusVoided {
		logger.Debug("sale already voided")
		return sale, nil
	}

	voided, err := s.sales.MarkVoided(ctx, saleID, reason, s.now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrSaleNotCommitted) {
			// Параллельное аннулирование уже вернуло товар.
			return s.Get(ctx, saleID)
		}
		return domain.Sale{}, fmt.Errorf("%w: mark sale voided: %v", domain.ErrPersistence, err)
	}

	if requests := voided.StockRequests(); len(requests) > 0 {
		if err := s.ledger.Restock(context.WithoutCancel(ctx), saleID, requests); err != nil {
			logger.WithError(err).Error("sale voided but restock failed")
			s.appendJournal(ctx, domain.SaleEvent{
				SaleID:   saleID,
				Type:     domain.SaleEventVoidRestockFailed,
				Reason:   err.Error(),
				Occurred: s.now().UTC(),
			})
			return voided, err
		}
	}

	occurred := s.now().UTC()
	if voided.VoidedAt != nil {
		occurred = *voided.VoidedAt
	}
	s.appendJournal(ctx, domain.SaleEvent{SaleID: saleID, Type: domain.SaleEventVoided, Reason: reason, Occurred: occurred})
	s.metrics.RecordVoided()
	logger.WithField("reason", reason).Info("sale voided")

	return voided, nil
}

// Get возвращает продажу по ID.
func (s *Service) Get(ctx context.Context, saleID string) (domain.Sale, error) {
	sale, err := s.sales.Get(ctx, saleID)
	if err != nil {
		if errors.Is(err, domain.ErrSaleNotFound) {
			return domain.Sale{}, err
		}
		return domain.Sale{}, fmt.Errorf("%w: get sale: %v", domain.ErrPersistence, err)
	}
	return sale, nil
}

// History возвращает журнал событий продажи.
func (s *Service) History(ctx context.Context, saleID string) ([]domain.SaleEvent, error) {
	if _, err := s.Get(ctx, saleID); err != nil {
		return nil, err
	}
	if s.journal == nil {
		return []domain.SaleEvent{}, nil
	}
	events, err := s.journal.List(ctx, saleID)
	if err != nil {
		return nil, fmt.Errorf("%w: list sale events: %v", domain.ErrPersistence, err)
	}
	return events, nil
}

// Receipt строит чек по записанной продаже.
func (s *Service) Receipt(ctx context.Context, saleID string) (receipt.Document, error) {
	sale, err := s.Get(ctx, saleID)
	if err != nil {
		return receipt.Document{}, err
	}
	return receipt.Project(sale, s.header), nil
}

func (s *Service) appendJournal(ctx context.Context, event domain.SaleEvent) {
	if s.journal == nil {
		return
	}
	if err := s.journal.Append(ctx, event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"sale_id": event.SaleID,
			"event":   event.Type,
		}).Warn("append sale event failed")
		return
	}
	s.metrics.RecordJournalEvent()
}

func abortReason(err error) string {
	switch {
	case domain.IsValidation(err):
		return abortValidation
	case domain.IsInsufficientStock(err):
		return abortInsufficient
	case domain.IsContention(err):
		return abortContention
	case isCanceled(err):
		return abortCanceled
	default:
		return abortPersistence
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
