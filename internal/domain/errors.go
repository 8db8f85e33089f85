package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Категории ошибок конвейера продажи. Конкретные ошибки оборачивают одну из них.
var (
	// ErrValidation - некорректная корзина, обнаружена до любых побочных эффектов.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock - хотя бы одну позицию нельзя обеспечить остатком.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrContention - не удалось получить согласованный снимок остатков за отведённые попытки.
	ErrContention = errors.New("stock contention, retry the commit")
	// ErrPersistence - ошибка хранилища; резерв уже снят к моменту возврата ошибки.
	ErrPersistence = errors.New("persistence failed")
	// ErrNotification - доставка уведомления не удалась. Никогда не возвращается кассиру.
	ErrNotification = errors.New("notification delivery failed")
)

var (
	// Ошибка пустой корзины.
	ErrCartEmpty = errors.New("cart must contain at least one line")
	// Ошибка при некорректном количестве (<= 0).
	ErrLineQtyInvalid = errors.New("line quantity must be greater than zero")
	// Ошибка отрицательной цены позиции.
	ErrLinePriceInvalid = errors.New("line unit price must be non-negative")
	// Ошибка стоимости позиции: unitPrice*quantity не помещается в int64.
	ErrLineAmountOverflow = errors.New("line amount exceeds the representable range")
	// Ошибка подытога корзины: сумма позиций не помещается в int64.
	ErrCartTotalOverflow = errors.New("cart total exceeds the representable range")
	// Ошибка скидки на позицию: отрицательная или больше стоимости позиции.
	ErrLineDiscountInvalid = errors.New("line discount must be between zero and line amount")
	// Ошибка неизвестного типа позиции.
	ErrLineKindInvalid = errors.New("line kind must be product or service")
	// Ошибка отсутствующей ссылки на товар/услугу.
	ErrLineRefRequired = errors.New("line ref_id is required")
	// Ошибка отсутствующего идентификатора позиции.
	ErrLineIDRequired = errors.New("line_id is required")
	// ErrLineNotFound возвращается при операции над несуществующей позицией корзины.
	ErrLineNotFound = errors.New("cart line not found")
	// Ошибка дублирующегося идентификатора позиции.
	ErrLineIDDuplicate = errors.New("duplicate line_id in cart")
	// Ошибка отсутствующего кода валюты.
	ErrCurrencyRequired = errors.New("currency is required")
	// ErrCurrencyMismatch - валюта товара не совпадает с валютой корзины.
	ErrCurrencyMismatch = errors.New("item currency does not match cart currency")
	// Ошибка некорректной акции.
	ErrPromotionKindInvalid = errors.New("promotion kind must be percentage or fixed_amount")
	// Ошибка значения акции вне допустимого диапазона.
	ErrPromotionValueInvalid = errors.New("promotion value out of range")
	// Ошибка несоответствия итогов продажи сумме строк.
	ErrAmountMismatch = errors.New("sale totals do not match lines")
	// Ошибка неизвестного способа оплаты.
	ErrPaymentMethodInvalid = errors.New("payment method is not supported")
	// ErrCustomerNotFound - ссылка на клиента не разрешается в справочнике.
	ErrCustomerNotFound = errors.New("customer not found")
	// ErrItemNotFound - товар отсутствует в каталоге.
	ErrItemNotFound = errors.New("catalog item not found")
	// ErrStockRecordNotFound - для товара нет записи остатка.
	ErrStockRecordNotFound = errors.New("stock record not found")
	// ErrStockNegative - корректировка увела бы остаток ниже нуля.
	ErrStockNegative = errors.New("stock on_hand must stay non-negative")
	// ErrSaleNotFound возвращается, если продажа не найдена в репозитории.
	ErrSaleNotFound = errors.New("sale not found")
	// ErrSaleAlreadyExists - продажа с таким ID уже записана.
	ErrSaleAlreadyExists = errors.New("sale already exists")
	// ErrSaleNotCommitted - переход статуса невозможен из текущего состояния.
	ErrSaleNotCommitted = errors.New("sale is not in committed state")
	// ErrReservationClosed - резерв уже подтверждён или снят.
	ErrReservationClosed = errors.New("reservation already closed")
	// ErrQueueFull - очередь уведомлений переполнена, событие отброшено.
	ErrQueueFull = errors.New("notification queue is full")
)

// ValidationError собирает все замечания к корзине.
type ValidationError struct {
	Causes []error
}

// NewValidationError возвращает nil, если замечаний нет.
func NewValidationError(causes ...error) error {
	filtered := make([]error, 0, len(causes))
	for _, cause := range causes {
		if cause != nil {
			filtered = append(filtered, cause)
		}
	}
	if len(filtered) == 0 {
		return nil
	}
	return &ValidationError{Causes: filtered}
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, cause := range e.Causes {
		parts = append(parts, cause.Error())
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

// Is позволяет сравнивать с ErrValidation и с любой из причин.
func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	for _, cause := range e.Causes {
		if errors.Is(cause, target) {
			return true
		}
	}
	return false
}

// Shortage описывает нехватку по одному товару.
type Shortage struct {
	ItemID    string
	Requested int64
	Available int64
	LineIDs   []string
}

// InsufficientStockError перечисляет позиции, которые нельзя провести.
type InsufficientStockError struct {
	Shortages []Shortage
}

// LineIDs возвращает отсортированные идентификаторы проблемных позиций.
func (e *InsufficientStockError) LineIDs() []string {
	ids := make([]string, 0, len(e.Shortages))
	for _, shortage := range e.Shortages {
		ids = append(ids, shortage.LineIDs...)
	}
	sort.Strings(ids)
	return ids
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s requested=%d available=%d", s.ItemID, s.Requested, s.Available))
	}
	return fmt.Sprintf("%s: %s", ErrInsufficientStock.Error(), strings.Join(parts, ", "))
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// NotificationError фиксирует исчерпание попыток доставки в канал.
type NotificationError struct {
	Channel  string
	Event    EventType
	Attempts int
	Err      error
}

func (e *NotificationError) Error() string {
	return fmt.Sprintf("%s: channel=%s event=%s attempts=%d: %v", ErrNotification.Error(), e.Channel, e.Event, e.Attempts, e.Err)
}

func (e *NotificationError) Is(target error) bool {
	return target == ErrNotification
}

func (e *NotificationError) Unwrap() error {
	return e.Err
}

// IsValidation проверяет, относится ли ошибка к ошибкам валидации.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsInsufficientStock проверяет нехватку остатка.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

// IsContention проверяет, что коммит стоит повторить целиком.
func IsContention(err error) bool {
	return errors.Is(err, ErrContention)
}

// IsPersistence проверяет ошибку хранилища.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence)
}

// AsInsufficientStock извлекает детали нехватки, если они есть.
func AsInsufficientStock(err error) (*InsufficientStockError, bool) {
	var target *InsufficientStockError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
