package sale

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/ledger"
	"github.com/vladislavdragonenkov/pos/internal/service/receipt"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu     sync.Mutex
	accept bool
	events []domain.NotificationEvent
}

func (n *recordingNotifier) Dispatch(event domain.NotificationEvent) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.accept
}

func (n *recordingNotifier) types() []domain.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	result := make([]domain.EventType, 0, len(n.events))
	for _, event := range n.events {
		result = append(result, event.Type)
	}
	return result
}

type failingSaleRepository struct {
	domain.SaleRepository
	createErr error
}

func (r *failingSaleRepository) Create(ctx context.Context, sale domain.Sale) error {
	if r.createErr != nil {
		return r.createErr
	}
	return r.SaleRepository.Create(ctx, sale)
}

// racingSaleRepository имитирует параллельный коммит, успевший записать продажу между Get и Create.
type racingSaleRepository struct {
	domain.SaleRepository
	winner domain.Sale
}

func (r *racingSaleRepository) Create(ctx context.Context, _ domain.Sale) error {
	if err := r.SaleRepository.Create(ctx, r.winner); err != nil {
		return err
	}
	return domain.ErrSaleAlreadyExists
}

// gatedSaleRepository задерживает первую запись продажи, пока тест не откроет release.
type gatedSaleRepository struct {
	domain.SaleRepository
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (r *gatedSaleRepository) Create(ctx context.Context, sale domain.Sale) error {
	r.once.Do(func() {
		close(r.entered)
		<-r.release
	})
	return r.SaleRepository.Create(ctx, sale)
}

type stubLedger struct {
	reserveErr error
	restockErr error

	mu         sync.Mutex
	releaseCnt int
	restockCnt int
}

func (l *stubLedger) Reserve(_ context.Context, saleID string, _ []domain.StockRequest) (domain.Reservation, error) {
	if l.reserveErr != nil {
		return domain.Reservation{}, l.reserveErr
	}
	return domain.Reservation{ID: "r-1", SaleID: saleID, Status: domain.ReservationStatusReserved}, nil
}

func (l *stubLedger) Commit(_ context.Context, reservation *domain.Reservation) error {
	reservation.Status = domain.ReservationStatusCommitted
	return nil
}

func (l *stubLedger) Release(_ context.Context, reservation *domain.Reservation) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.releaseCnt++
	reservation.Status = domain.ReservationStatusReleased
	return nil
}

func (l *stubLedger) Restock(context.Context, string, []domain.StockRequest) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.restockCnt++
	return l.restockErr
}

type fixture struct {
	stock     domain.StockStore
	sales     domain.SaleRepository
	journal   domain.SaleJournal
	catalog   *memory.Catalog
	customers *memory.CustomerDirectory
	notifier  *recordingNotifier
	ledger    *ledger.Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	ctx := context.Background()
	stock := memory.NewStockStore()
	catalog := memory.NewCatalog(stock)
	customers := memory.NewCustomerDirectory()

	items := []struct {
		item      domain.CatalogItem
		onHand    int64
		threshold int64
	}{
		{domain.CatalogItem{ItemID: "sku-cable", Name: "USB cable", PriceMinor: 500, Currency: "USD"}, 10, 3},
		{domain.CatalogItem{ItemID: "sku-case", Name: "Phone case", PriceMinor: 1500, Currency: "USD"}, 2, 1},
		{domain.CatalogItem{ItemID: "sku-eur", Name: "Adapter", PriceMinor: 700, Currency: "EUR"}, 5, 0},
	}
	for _, it := range items {
		require.NoError(t, catalog.UpsertItem(ctx, it.item))
		require.NoError(t, stock.Put(ctx, domain.StockRecord{ItemID: it.item.ItemID, OnHand: it.onHand, MinThreshold: it.threshold}))
	}
	require.NoError(t, customers.UpsertCustomer(ctx, domain.Customer{Ref: "cust-1", Name: "Alice"}))

	return &fixture{
		stock:     stock,
		sales:     memory.NewSaleRepository(),
		journal:   memory.NewSaleJournal(),
		catalog:   catalog,
		customers: customers,
		notifier:  &recordingNotifier{accept: true},
		ledger:    ledger.New(stock, ledger.WithRetryBaseDelay(0), ledger.WithMaxAttempts(50)),
	}
}

func (f *fixture) service(options ...Option) *Service {
	base := []Option{
		WithJournal(f.journal),
		WithCatalog(f.catalog),
		WithCustomers(f.customers),
		WithNotifier(f.notifier),
		WithClock(func() time.Time { return fixedNow }),
		WithDefaultCurrency("USD"),
		WithReceiptHeader(receipt.Header{StoreName: "Corner Shop"}),
	}
	return NewService(f.ledger, f.sales, append(base, options...)...)
}

func (f *fixture) onHand(t *testing.T, itemID string) int64 {
	t.Helper()
	records, err := f.stock.Get(context.Background(), []string{itemID})
	require.NoError(t, err)
	return records[itemID].OnHand
}

func productLine(lineID, itemID string, qty, price int64) domain.CartLine {
	return domain.CartLine{LineID: lineID, Kind: domain.LineKindProduct, RefID: itemID, UnitPriceMinor: price, Quantity: qty}
}

func newCart(t *testing.T, lines ...domain.CartLine) *domain.Cart {
	t.Helper()
	cart := domain.NewCart("USD")
	for _, line := range lines {
		_, err := cart.AddLine(line)
		require.NoError(t, err)
	}
	return cart
}

func TestCommit_DecrementsStockAndPersistsSale(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	cart := newCart(t,
		productLine("l1", "sku-cable", 7, 500),
		productLine("l2", "sku-case", 2, 1500),
		domain.CartLine{LineID: "l3", Kind: domain.LineKindService, RefID: "screen-repair", UnitPriceMinor: 2000, Quantity: 1},
	)
	require.NoError(t, cart.SetPromotion(domain.Promotion{ID: "p10", Kind: domain.PromotionPercentage, Value: 10}))
	cart.SetCustomer("cust-1")

	sale, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: cart, PaymentMethod: domain.PaymentMethodCard})
	require.NoError(t, err)

	require.Equal(t, "sale-1", sale.ID)
	require.Equal(t, domain.SaleStatusCommitted, sale.Status)
	require.Equal(t, int64(8500), sale.SubtotalMinor)
	require.Equal(t, int64(850), sale.DiscountMinor)
	require.Equal(t, int64(7650), sale.TotalMinor)
	require.Equal(t, "cust-1", sale.CustomerRef)
	require.Equal(t, fixedNow, sale.CommittedAt)
	require.Equal(t, int64(-7), sale.Lines[0].StockDelta)
	require.Equal(t, int64(0), sale.Lines[2].StockDelta)

	require.Equal(t, int64(3), f.onHand(t, "sku-cable"))
	require.Equal(t, int64(0), f.onHand(t, "sku-case"))

	stored, err := svc.Get(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, sale.TotalMinor, stored.TotalMinor)

	events, err := svc.History(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.SaleEventCommitted, events[0].Type)

	require.ElementsMatch(t, []domain.EventType{domain.EventSaleCompleted, domain.EventLowStock, domain.EventOutOfStock}, f.notifier.types())
	require.Zero(t, cart.Len())
}

func TestCommit_EmptySaleIDGetsGenerated(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	sale, err := f.service().Commit(context.Background(), CommitRequest{
		Cart:          newCart(t, productLine("l1", "sku-cable", 1, 500)),
		PaymentMethod: domain.PaymentMethodCash,
	})
	require.NoError(t, err)
	require.NotEmpty(t, sale.ID)
}

func TestCommit_ReplayReturnsStoredSaleWithoutTouchingStock(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	first, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 2, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.NoError(t, err)

	second, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 2, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.NoError(t, err)

	require.Equal(t, first.ID, second.ID)
	require.Equal(t, first.TotalMinor, second.TotalMinor)
	require.Equal(t, int64(8), f.onHand(t, "sku-cable"))
}

func TestReplay(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, ok, err := svc.Replay(ctx, "")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, err = svc.Replay(ctx, "sale-1")
	require.NoError(t, err)
	require.False(t, ok)

	committed, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 1, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.NoError(t, err)

	stored, ok, err := svc.Replay(ctx, "sale-1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, committed.TotalMinor, stored.TotalMinor)
}

func TestCommit_InsufficientStockLeavesStockUnchanged(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	cart := newCart(t, productLine("l1", "sku-cable", 2, 500), productLine("l2", "sku-case", 3, 1500))
	_, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: cart, PaymentMethod: domain.PaymentMethodCash})
	require.Error(t, err)
	require.True(t, domain.IsInsufficientStock(err))

	shortage, ok := domain.AsInsufficientStock(err)
	require.True(t, ok)
	require.Equal(t, []string{"l2"}, shortage.LineIDs())

	require.Equal(t, int64(10), f.onHand(t, "sku-cable"))
	require.Equal(t, int64(2), f.onHand(t, "sku-case"))

	_, err = svc.Get(ctx, "sale-1")
	require.ErrorIs(t, err, domain.ErrSaleNotFound)
	require.Empty(t, f.notifier.types())
	require.Equal(t, 2, cart.Len())
}

func TestCommit_ValidationErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		req    func(t *testing.T) CommitRequest
		target error
	}{
		{
			name:   "nil cart",
			req:    func(*testing.T) CommitRequest { return CommitRequest{PaymentMethod: domain.PaymentMethodCash} },
			target: domain.ErrCartEmpty,
		},
		{
			name: "empty cart",
			req: func(*testing.T) CommitRequest {
				return CommitRequest{Cart: domain.NewCart("USD"), PaymentMethod: domain.PaymentMethodCash}
			},
			target: domain.ErrCartEmpty,
		},
		{
			name: "unknown payment method",
			req: func(t *testing.T) CommitRequest {
				return CommitRequest{Cart: newCart(t, productLine("l1", "sku-cable", 1, 500)), PaymentMethod: "crypto"}
			},
			target: domain.ErrPaymentMethodInvalid,
		},
		{
			name: "unknown customer",
			req: func(t *testing.T) CommitRequest {
				cart := newCart(t, productLine("l1", "sku-cable", 1, 500))
				cart.SetCustomer("ghost")
				return CommitRequest{Cart: cart, PaymentMethod: domain.PaymentMethodCash}
			},
			target: domain.ErrCustomerNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t)
			_, err := f.service().Commit(context.Background(), tt.req(t))
			require.Error(t, err)
			require.True(t, domain.IsValidation(err))
			require.ErrorIs(t, err, tt.target)
			require.Equal(t, int64(10), f.onHand(t, "sku-cable"))
		})
	}
}

func TestCommit_PersistenceFailureReleasesReservation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.sales = &failingSaleRepository{SaleRepository: f.sales, createErr: errors.New("disk full")}
	svc := f.service()

	_, err := svc.Commit(context.Background(), CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 4, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.Error(t, err)
	require.True(t, domain.IsPersistence(err))
	require.Equal(t, int64(10), f.onHand(t, "sku-cable"))
	require.Empty(t, f.notifier.types())
}

func TestCommit_InsertRaceReturnsWinner(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	winner := domain.Sale{
		ID:            "sale-1",
		Lines:         []domain.SoldLine{{CartLine: productLine("w1", "sku-cable", 1, 500), StockDelta: -1}},
		Currency:      "USD",
		SubtotalMinor: 500,
		TotalMinor:    500,
		PaymentMethod: domain.PaymentMethodCash,
		Status:        domain.SaleStatusCommitted,
		CommittedAt:   fixedNow,
	}
	f.sales = &racingSaleRepository{SaleRepository: f.sales, winner: winner}
	svc := f.service()

	got, err := svc.Commit(context.Background(), CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 3, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.NoError(t, err)
	require.Equal(t, "w1", got.Lines[0].LineID)
	// Резерв проигравшего возвращён.
	require.Equal(t, int64(10), f.onHand(t, "sku-cable"))
}

func TestCommit_SameSaleIDWaitsForInFlightCommit(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	gated := &gatedSaleRepository{SaleRepository: f.sales, entered: make(chan struct{}), release: make(chan struct{})}
	f.sales = gated
	svc := f.service()
	ctx := context.Background()

	type result struct {
		sale domain.Sale
		err  error
	}
	commit := func(cart *domain.Cart, out chan<- result) {
		sale, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: cart, PaymentMethod: domain.PaymentMethodCash})
		out <- result{sale: sale, err: err}
	}

	first := make(chan result, 1)
	go commit(newCart(t, productLine("l1", "sku-cable", 6, 500)), first)
	<-gated.entered
	// Первый коммит держит резерв на 6 из 10 и стоит на записи.
	require.Equal(t, int64(4), f.onHand(t, "sku-cable"))

	second := make(chan result, 1)
	go commit(newCart(t, productLine("l1", "sku-cable", 6, 500)), second)
	require.Never(t, func() bool { return len(second) > 0 }, 100*time.Millisecond, 10*time.Millisecond)

	close(gated.release)
	r1, r2 := <-first, <-second
	require.NoError(t, r1.err)
	require.NoError(t, r2.err)
	require.Equal(t, r1.sale.ID, r2.sale.ID)
	require.Equal(t, r1.sale.TotalMinor, r2.sale.TotalMinor)
	require.Equal(t, int64(4), f.onHand(t, "sku-cable"))

	events, err := svc.History(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestCommit_CanceledWaiterLeavesInFlightCommitAlone(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	gated := &gatedSaleRepository{SaleRepository: f.sales, entered: make(chan struct{}), release: make(chan struct{})}
	f.sales = gated
	svc := f.service()

	first := make(chan error, 1)
	cart := newCart(t, productLine("l1", "sku-cable", 6, 500))
	go func() {
		_, err := svc.Commit(context.Background(), CommitRequest{SaleID: "sale-1", Cart: cart, PaymentMethod: domain.PaymentMethodCash})
		first <- err
	}()
	<-gated.entered

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 6, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.ErrorIs(t, err, context.Canceled)

	close(gated.release)
	require.NoError(t, <-first)
	require.Equal(t, int64(4), f.onHand(t, "sku-cable"))
}

func TestCommit_ContentionIsDistinctFromShortage(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	stub := &stubLedger{reserveErr: errors.Join(domain.ErrContention, errors.New("5 attempts"))}
	svc := NewService(stub, f.sales)

	_, err := svc.Commit(context.Background(), CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 1, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.True(t, domain.IsContention(err))
	require.False(t, domain.IsInsufficientStock(err))

	_, err = svc.Get(context.Background(), "sale-1")
	require.ErrorIs(t, err, domain.ErrSaleNotFound)
}

func TestCommit_NotifierRejectionDoesNotAffectResult(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.notifier.accept = false

	sale, err := f.service().Commit(context.Background(), CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-case", 2, 1500)), PaymentMethod: domain.PaymentMethodCard})
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusCommitted, sale.Status)
	require.Equal(t, []domain.EventType{domain.EventSaleCompleted, domain.EventOutOfStock}, f.notifier.types())
}

func TestCommit_ConcurrentRegistersNeverOversell(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	const buyers = 8
	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		committed    int
		insufficient int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cart := domain.NewCart("USD")
			_, _ = cart.AddLine(productLine("", "sku-case", 1, 1500))
			_, err := svc.Commit(ctx, CommitRequest{Cart: cart, PaymentMethod: domain.PaymentMethodCash})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				committed++
			case domain.IsInsufficientStock(err):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 2, committed)
	require.Equal(t, buyers-2, insufficient)
	require.Equal(t, int64(0), f.onHand(t, "sku-case"))
}

func TestVoid_RestocksAndJournals(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	svc := f.service()
	ctx := context.Background()

	_, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 4, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.NoError(t, err)
	require.Equal(t, int64(6), f.onHand(t, "sku-cable"))

	voided, err := svc.Void(ctx, "sale-1", "wrong item")
	require.NoError(t, err)
	require.Equal(t, domain.SaleStatusVoided, voided.Status)
	require.Equal(t, "wrong item", voided.VoidReason)
	require.Equal(t, int64(10), f.onHand(t, "sku-cable"))

	again, err := svc.Void(ctx, "sale-1", "second time")
	require.NoError(t, err)
	require.Equal(t, "wrong item", again.VoidReason)
	require.Equal(t, int64(10), f.onHand(t, "sku-cable"))

	events, err := svc.History(ctx, "sale-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.SaleEventVoided, events[1].Type)

	doc, err := svc.Receipt(ctx, "sale-1")
	require.NoError(t, err)
	require.True(t, doc.Footer.Voided)
	require.Equal(t, "Corner Shop", doc.Header.StoreName)
}

func TestVoid_RestockFailureIsJournaled(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	stub := &stubLedger{}
	svc := NewService(stub, f.sales, WithJournal(f.journal))
	ctx := context.Background()

	_, err := svc.Commit(ctx, CommitRequest{SaleID: "sale-1", Cart: newCart(t, productLine("l1", "sku-cable", 1, 500)), PaymentMethod: domain.PaymentMethodCash})
	require.NoError(t, err)

	stub.restockErr = errors.Join(domain.ErrPersistence, errors.New("redis down"))
	voided, err := svc.Void(ctx, "sale-1", "")
	require.True(t, domain.IsPersistence(err))
	require.Equal(t, domain.SaleStatusVoided, voided.Status)

	events, err := f.journal.List(ctx, "sale-1")
	require.NoError(t, err)
	require.Equal(t, domain.SaleEventVoidRestockFailed, events[len(events)-1].Type)
}

func TestVoid_UnknownSale(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.service().Void(context.Background(), "missing", "")
	require.ErrorIs(t, err, domain.ErrSaleNotFound)

	_, err = f.service().History(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSaleNotFound)

	_, err = f.service().Receipt(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrSaleNotFound)
}

func TestSaleEvents_ThresholdRules(t *testing.T) {
	t.Parallel()

	sale := domain.Sale{ID: "sale-1", Lines: []domain.SoldLine{{CartLine: domain.CartLine{RefID: "a", Name: "Item A"}}}}
	reservation := domain.Reservation{Lines: []domain.ReservedLine{
		{LineID: "l1", ItemID: "a", OnHandAfter: 0, MinThreshold: 5},
		{LineID: "l2", ItemID: "a", OnHandAfter: 0, MinThreshold: 5},
		{LineID: "l3", ItemID: "b", OnHandAfter: 3, MinThreshold: 3},
		{LineID: "l4", ItemID: "c", OnHandAfter: 4, MinThreshold: 3},
		{LineID: "l5", ItemID: "d", OnHandAfter: 1, MinThreshold: 0},
	}}

	events := saleEvents(sale, reservation)
	require.Len(t, events, 3)
	require.Equal(t, domain.EventSaleCompleted, events[0].Type)
	require.Equal(t, domain.EventOutOfStock, events[1].Type)
	require.Equal(t, "a", events[1].ItemID)
	require.Equal(t, "Item A", events[1].Payload["item_name"])
	require.Equal(t, domain.EventLowStock, events[2].Type)
	require.Equal(t, "b", events[2].ItemID)
}
