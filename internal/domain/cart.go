package domain

import (
	"fmt"
	"math"

	"github.com/google/uuid"
)

// WalkInCustomer - покупатель по умолчанию, когда клиент не выбран.
const WalkInCustomer = "walk-in"

// LineKind различает товарные позиции и услуги.
type LineKind string

const (
	// LineKindProduct - товар из каталога, списывается со склада.
	LineKindProduct LineKind = "product"
	// LineKindService - услуга (например, ремонт), склад не затрагивает.
	LineKindService LineKind = "service"
)

// Valid проверяет, известен ли тип позиции.
func (k LineKind) Valid() bool {
	return k == LineKindProduct || k == LineKindService
}

// CartLine - одна строка корзины. Все суммы в минимальных денежных единицах.
type CartLine struct {
	LineID            string
	Kind              LineKind
	RefID             string
	Name              string
	UnitPriceMinor    int64
	Quantity          int64
	LineDiscountMinor int64
}

// AmountMinor возвращает стоимость строки без учёта скидки.
func (l CartLine) AmountMinor() int64 {
	return l.UnitPriceMinor * l.Quantity
}

// NetMinor возвращает стоимость строки за вычетом скидки на позицию.
func (l CartLine) NetMinor() int64 {
	return l.AmountMinor() - l.LineDiscountMinor
}

// amountOverflows сообщает, что unitPrice*quantity не помещается в int64.
func (l CartLine) amountOverflows() bool {
	return l.Quantity > 0 && l.UnitPriceMinor > 0 && l.UnitPriceMinor > math.MaxInt64/l.Quantity
}

// Validate проверяет инварианты строки.
func (l CartLine) Validate() []error {
	var errs []error

	if l.LineID == "" {
		errs = append(errs, ErrLineIDRequired)
	}
	if !l.Kind.Valid() {
		errs = append(errs, fmt.Errorf("line %s: %w", l.LineID, ErrLineKindInvalid))
	}
	if l.RefID == "" {
		errs = append(errs, fmt.Errorf("line %s: %w", l.LineID, ErrLineRefRequired))
	}
	if l.Quantity <= 0 {
		errs = append(errs, fmt.Errorf("line %s: %w", l.LineID, ErrLineQtyInvalid))
	}
	if l.UnitPriceMinor < 0 {
		errs = append(errs, fmt.Errorf("line %s: %w", l.LineID, ErrLinePriceInvalid))
	}
	if l.amountOverflows() {
		errs = append(errs, fmt.Errorf("line %s: %w", l.LineID, ErrLineAmountOverflow))
	} else if l.LineDiscountMinor < 0 || (l.Quantity > 0 && l.UnitPriceMinor >= 0 && l.LineDiscountMinor > l.AmountMinor()) {
		errs = append(errs, fmt.Errorf("line %s: %w", l.LineID, ErrLineDiscountInvalid))
	}

	return errs
}

// Cart - корзина одной кассовой сессии. Не предназначена для конкурентного изменения.
type Cart struct {
	lines       []CartLine
	promotion   *Promotion
	customerRef string
	currency    string
}

// NewCart создаёт пустую корзину в заданной валюте.
func NewCart(currency string) *Cart {
	return &Cart{currency: currency, customerRef: WalkInCustomer}
}

// Currency возвращает код валюты корзины.
func (c *Cart) Currency() string {
	return c.currency
}

// CustomerRef возвращает ссылку на клиента, по умолчанию walk-in.
func (c *Cart) CustomerRef() string {
	if c.customerRef == "" {
		return WalkInCustomer
	}
	return c.customerRef
}

// SetCustomer привязывает клиента; пустая ссылка возвращает walk-in.
func (c *Cart) SetCustomer(ref string) {
	c.customerRef = ref
}

// Promotion возвращает копию выбранной акции.
func (c *Cart) Promotion() (Promotion, bool) {
	if c.promotion == nil {
		return Promotion{}, false
	}
	return *c.promotion, true
}

// SetPromotion выбирает единственную активную акцию корзины.
func (c *Cart) SetPromotion(p Promotion) error {
	if errs := p.Validate(); len(errs) > 0 {
		return NewValidationError(errs...)
	}
	c.promotion = &p
	return nil
}

// ClearPromotion снимает акцию.
func (c *Cart) ClearPromotion() {
	c.promotion = nil
}

// Lines возвращает копию строк корзины.
func (c *Cart) Lines() []CartLine {
	result := make([]CartLine, len(c.lines))
	copy(result, c.lines)
	return result
}

// Len возвращает количество строк.
func (c *Cart) Len() int {
	return len(c.lines)
}

// AddLine добавляет строку. Повторный товар с той же ценой увеличивает количество
// существующей строки и возвращает её идентификатор.
func (c *Cart) AddLine(line CartLine) (string, error) {
	if line.LineID == "" {
		line.LineID = uuid.NewString()
	}
	if errs := line.Validate(); len(errs) > 0 {
		return "", NewValidationError(errs...)
	}

	if line.Kind == LineKindProduct {
		for i := range c.lines {
			existing := &c.lines[i]
			if existing.Kind == LineKindProduct && existing.RefID == line.RefID && existing.UnitPriceMinor == line.UnitPriceMinor {
				if existing.Quantity > math.MaxInt64-line.Quantity {
					return "", NewValidationError(fmt.Errorf("line %s: %w", existing.LineID, ErrLineAmountOverflow))
				}
				merged := *existing
				merged.Quantity += line.Quantity
				merged.LineDiscountMinor += line.LineDiscountMinor
				if errs := merged.Validate(); len(errs) > 0 {
					return "", NewValidationError(errs...)
				}
				*existing = merged
				return existing.LineID, nil
			}
		}
	}

	for _, existing := range c.lines {
		if existing.LineID == line.LineID {
			return "", NewValidationError(fmt.Errorf("line %s: %w", line.LineID, ErrLineIDDuplicate))
		}
	}

	c.lines = append(c.lines, line)
	return line.LineID, nil
}

// RemoveLine удаляет строку.
func (c *Cart) RemoveLine(lineID string) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	c.lines = append(c.lines[:idx], c.lines[idx+1:]...)
	return nil
}

// UpdateQuantity меняет количество. Ноль и отрицательные значения отклоняются:
// для удаления строки есть RemoveLine.
func (c *Cart) UpdateQuantity(lineID string, qty int64) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	updated := c.lines[idx]
	updated.Quantity = qty
	if qty > 0 && !updated.amountOverflows() && updated.LineDiscountMinor > updated.AmountMinor() {
		updated.LineDiscountMinor = updated.AmountMinor()
	}
	if errs := updated.Validate(); len(errs) > 0 {
		return NewValidationError(errs...)
	}
	c.lines[idx] = updated
	return nil
}

// ApplyLineDiscount задаёт скидку на позицию в минимальных единицах.
func (c *Cart) ApplyLineDiscount(lineID string, discountMinor int64) error {
	idx := c.indexOf(lineID)
	if idx < 0 {
		return ErrLineNotFound
	}
	updated := c.lines[idx]
	updated.LineDiscountMinor = discountMinor
	if errs := updated.Validate(); len(errs) > 0 {
		return NewValidationError(errs...)
	}
	c.lines[idx] = updated
	return nil
}

// Clear очищает корзину после проведения или отмены.
func (c *Cart) Clear() {
	c.lines = nil
	c.promotion = nil
	c.customerRef = WalkInCustomer
}

// Validate проверяет инварианты корзины перед проведением.
func (c *Cart) Validate() []error {
	var errs []error

	if c.currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(c.lines) == 0 {
		errs = append(errs, ErrCartEmpty)
	}

	seen := make(map[string]struct{}, len(c.lines))
	var (
		subtotal   int64
		overflowed bool
	)
	for _, line := range c.lines {
		lineErrs := line.Validate()
		errs = append(errs, lineErrs...)
		if _, dup := seen[line.LineID]; dup {
			errs = append(errs, fmt.Errorf("line %s: %w", line.LineID, ErrLineIDDuplicate))
		}
		seen[line.LineID] = struct{}{}

		if len(lineErrs) > 0 || overflowed {
			continue
		}
		if net := line.NetMinor(); subtotal > math.MaxInt64-net {
			overflowed = true
			errs = append(errs, ErrCartTotalOverflow)
		} else {
			subtotal += net
		}
	}

	if c.promotion != nil {
		errs = append(errs, c.promotion.Validate()...)
	}

	return errs
}

// StockRequests возвращает запросы на списание только для товарных позиций.
func (c *Cart) StockRequests() []StockRequest {
	requests := make([]StockRequest, 0, len(c.lines))
	for _, line := range c.lines {
		if line.Kind != LineKindProduct {
			continue
		}
		requests = append(requests, StockRequest{
			LineID:   line.LineID,
			ItemID:   line.RefID,
			Quantity: line.Quantity,
		})
	}
	return requests
}

func (c *Cart) indexOf(lineID string) int {
	for i, line := range c.lines {
		if line.LineID == lineID {
			return i
		}
	}
	return -1
}
