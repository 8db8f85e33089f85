package domain

import "fmt"

// PromotionKind - тип акции на корзину. Типы взаимоисключающие.
type PromotionKind string

const (
	// PromotionPercentage - процент от подытога, значение 0..100.
	PromotionPercentage PromotionKind = "percentage"
	// PromotionFixedAmount - фиксированная сумма в минимальных единицах.
	PromotionFixedAmount PromotionKind = "fixed_amount"
)

// Valid проверяет тип акции.
func (k PromotionKind) Valid() bool {
	return k == PromotionPercentage || k == PromotionFixedAmount
}

// Promotion - единственная активная акция корзины.
type Promotion struct {
	ID    string
	Kind  PromotionKind
	Value int64
}

// Validate проверяет диапазон значения для своего типа.
func (p Promotion) Validate() []error {
	var errs []error

	if !p.Kind.Valid() {
		errs = append(errs, ErrPromotionKindInvalid)
		return errs
	}
	if p.Value < 0 {
		errs = append(errs, fmt.Errorf("promotion %s: %w", p.ID, ErrPromotionValueInvalid))
	}
	if p.Kind == PromotionPercentage && p.Value > 100 {
		errs = append(errs, fmt.Errorf("promotion %s: %w", p.ID, ErrPromotionValueInvalid))
	}

	return errs
}
