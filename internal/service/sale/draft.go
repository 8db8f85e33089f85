package sale

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/pricing"
)

// DraftLine - строка черновика корзины от клиента API.
// Для товаров цена и название берутся из каталога.
type DraftLine struct {
	LineID            string
	Kind              domain.LineKind
	RefID             string
	Name              string
	UnitPriceMinor    int64
	Quantity          int64
	LineDiscountMinor int64
}

// CartDraft - корзина в виде данных, пришедших по сети.
type CartDraft struct {
	Currency    string
	CustomerRef string
	Lines       []DraftLine
	Promotion   *domain.Promotion
}

// Quote - предварительный расчёт корзины без списания остатков.
type Quote struct {
	Currency    string
	CustomerRef string
	Lines       []domain.CartLine
	Totals      pricing.Totals
}

// BuildCart собирает корзину из черновика. Товарные строки разрешаются через каталог.
func (s *Service) BuildCart(ctx context.Context, draft CartDraft) (*domain.Cart, error) {
	currency := draft.Currency
	if currency == "" {
		currency = s.currency
	}
	cart := domain.NewCart(currency)
	cart.SetCustomer(draft.CustomerRef)

	var errs []error
	for _, draftLine := range draft.Lines {
		line := domain.CartLine{
			LineID:            draftLine.LineID,
			Kind:              draftLine.Kind,
			RefID:             draftLine.RefID,
			Name:              draftLine.Name,
			UnitPriceMinor:    draftLine.UnitPriceMinor,
			Quantity:          draftLine.Quantity,
			LineDiscountMinor: draftLine.LineDiscountMinor,
		}
		if line.Kind == "" {
			line.Kind = domain.LineKindProduct
		}

		if line.Kind == domain.LineKindProduct && s.catalog != nil && line.RefID != "" {
			item, err := s.catalog.GetItem(ctx, line.RefID)
			switch {
			case err == nil:
				line.Name = item.Name
				line.UnitPriceMinor = item.PriceMinor
				if item.Currency != "" && currency != "" && item.Currency != currency {
					errs = append(errs, fmt.Errorf("line %s: %s: %w", line.LineID, item.Currency, domain.ErrCurrencyMismatch))
					continue
				}
			case errors.Is(err, domain.ErrItemNotFound):
				errs = append(errs, fmt.Errorf("line %s: item %s: %w", line.LineID, line.RefID, err))
				continue
			default:
				return nil, fmt.Errorf("%w: catalog lookup: %v", domain.ErrPersistence, err)
			}
		}

		if _, err := cart.AddLine(line); err != nil {
			errs = append(errs, err)
		}
	}

	if draft.Promotion != nil {
		if err := cart.SetPromotion(*draft.Promotion); err != nil {
			errs = append(errs, err)
		}
	}

	if err := domain.NewValidationError(flattenValidation(errs)...); err != nil {
		return nil, err
	}
	return cart, nil
}

// Quote считает итоги черновика без побочных эффектов.
func (s *Service) Quote(ctx context.Context, draft CartDraft) (Quote, error) {
	cart, err := s.BuildCart(ctx, draft)
	if err != nil {
		return Quote{}, err
	}
	if err := domain.NewValidationError(cart.Validate()...); err != nil {
		return Quote{}, err
	}
	return Quote{
		Currency:    cart.Currency(),
		CustomerRef: cart.CustomerRef(),
		Lines:       cart.Lines(),
		Totals:      pricing.Resolve(cart),
	}, nil
}

// flattenValidation раскрывает вложенные ValidationError, чтобы причины не дублировали префикс.
func flattenValidation(errs []error) []error {
	result := make([]error, 0, len(errs))
	for _, err := range errs {
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			result = append(result, validationErr.Causes...)
			continue
		}
		result = append(result, err)
	}
	return result
}
