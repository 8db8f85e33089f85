// Package pricing считает итоги корзины в минимальных денежных единицах.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Totals - итоги корзины. Все значения в минимальных единицах валюты.
type Totals struct {
	// GrossMinor - сумма unitPrice*quantity без скидок.
	GrossMinor int64
	// LineDiscountMinor - сумма скидок на позиции.
	LineDiscountMinor int64
	// SubtotalMinor - GrossMinor за вычетом скидок на позиции.
	SubtotalMinor int64
	// DiscountMinor - скидка по акции корзины.
	DiscountMinor int64
	// TotalMinor - к оплате, не меньше нуля.
	TotalMinor int64
}

// Resolve применяет скидки на позиции и единственную акцию корзины.
func Resolve(cart *domain.Cart) Totals {
	var totals Totals
	if cart == nil {
		return totals
	}

	for _, line := range cart.Lines() {
		totals.GrossMinor += line.AmountMinor()
		totals.LineDiscountMinor += line.LineDiscountMinor
		totals.SubtotalMinor += line.NetMinor()
	}

	if promotion, ok := cart.Promotion(); ok {
		totals.DiscountMinor = PromotionDiscount(promotion, totals.SubtotalMinor)
	}

	totals.TotalMinor = totals.SubtotalMinor - totals.DiscountMinor
	if totals.TotalMinor < 0 {
		totals.TotalMinor = 0
		totals.DiscountMinor = totals.SubtotalMinor
	}
	return totals
}

// PromotionDiscount считает скидку акции от подытога.
// Процент округляется к ближайшей минимальной единице (половина вверх),
// фиксированная сумма ограничена подытогом.
func PromotionDiscount(promotion domain.Promotion, subtotalMinor int64) int64 {
	if subtotalMinor <= 0 || promotion.Value <= 0 {
		return 0
	}

	var discount int64
	switch promotion.Kind {
	case domain.PromotionPercentage:
		value := promotion.Value
		if value > 100 {
			value = 100
		}
		// subtotal*value может не поместиться в int64, поэтому считаем в decimal.
		discount = decimal.NewFromInt(subtotalMinor).Mul(decimal.NewFromInt(value)).Div(hundred).Round(0).IntPart()
	case domain.PromotionFixedAmount:
		discount = promotion.Value
	default:
		return 0
	}

	if discount > subtotalMinor {
		discount = subtotalMinor
	}
	return discount
}
