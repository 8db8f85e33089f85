package domain

import "context"

// StockStore - хранилище остатков с атомарным compare-and-swap по одному товару.
type StockStore interface {
	// Get возвращает записи по товарам; отсутствующие товары в результат не попадают.
	Get(ctx context.Context, itemIDs []string) (map[string]StockRecord, error)
	// CompareAndSwap меняет остаток с expected на next. false означает, что значение
	// успели изменить. Для неизвестного товара возвращает ErrStockRecordNotFound.
	CompareAndSwap(ctx context.Context, itemID string, expected, next int64) (bool, error)
	// Adjust атомарно прибавляет delta и возвращает новую запись.
	// Отказывает с ErrStockNegative, если остаток стал бы отрицательным.
	Adjust(ctx context.Context, itemID string, delta int64) (StockRecord, error)
	// Put создаёт или перезаписывает запись (загрузка начальных данных).
	Put(ctx context.Context, record StockRecord) error
}

// Catalog - read-only доступ к каталогу товаров.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (CatalogItem, error)
}

// CustomerDirectory разрешает ссылку на клиента.
type CustomerDirectory interface {
	Resolve(ctx context.Context, ref string) (Customer, error)
}

// NotificationChannel доставляет событие во внешний сервис (бот, брокер и т.д.).
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, event NotificationEvent) error
}

// DeadLetterPublisher получает события, исчерпавшие попытки доставки.
type DeadLetterPublisher interface {
	PublishDeadLetter(ctx context.Context, channel string, event NotificationEvent, cause error) error
}

// Notifier принимает события без ожидания доставки.
type Notifier interface {
	Dispatch(event NotificationEvent) bool
}
