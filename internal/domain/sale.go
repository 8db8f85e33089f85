package domain

import "time"

// SaleStatus описывает жизненный цикл проведённой продажи.
type SaleStatus string

const (
	// SaleStatusCommitted - продажа проведена, остаток списан.
	SaleStatusCommitted SaleStatus = "committed"
	// SaleStatusVoided - продажа аннулирована, остаток возвращён.
	SaleStatusVoided SaleStatus = "voided"
)

// Valid проверяет статус.
func (s SaleStatus) Valid() bool {
	return s == SaleStatusCommitted || s == SaleStatusVoided
}

// SoldLine - замороженная копия строки корзины и фактически списанный остаток.
type SoldLine struct {
	CartLine
	// StockDelta - изменение остатка по строке (отрицательное для товаров, 0 для услуг).
	StockDelta int64
}

// Sale - неизменяемая запись о продаже. Меняется только статус при аннулировании.
type Sale struct {
	ID                string
	Lines             []SoldLine
	Currency          string
	SubtotalMinor     int64
	LineDiscountMinor int64
	DiscountMinor     int64
	TotalMinor        int64
	Promotion         *Promotion
	CustomerRef       string
	PaymentMethod     PaymentMethod
	Status            SaleStatus
	CommittedAt       time.Time
	VoidedAt          *time.Time
	VoidReason        string
}

// ValidateInvariants проверяет согласованность записи перед сохранением.
func (s *Sale) ValidateInvariants() []error {
	var errs []error

	if s.Currency == "" {
		errs = append(errs, ErrCurrencyRequired)
	}
	if len(s.Lines) == 0 {
		errs = append(errs, ErrCartEmpty)
	}
	if !s.PaymentMethod.Valid() {
		errs = append(errs, ErrPaymentMethodInvalid)
	}

	var subtotal int64
	for _, line := range s.Lines {
		errs = append(errs, line.CartLine.Validate()...)
		subtotal += line.NetMinor()
	}
	if subtotal != s.SubtotalMinor || s.TotalMinor < 0 || s.TotalMinor != s.SubtotalMinor-s.DiscountMinor {
		errs = append(errs, ErrAmountMismatch)
	}

	return errs
}

// StockRequests возвращает количества, которые нужно вернуть на склад при аннулировании.
func (s *Sale) StockRequests() []StockRequest {
	requests := make([]StockRequest, 0, len(s.Lines))
	for _, line := range s.Lines {
		if line.Kind != LineKindProduct || line.StockDelta == 0 {
			continue
		}
		requests = append(requests, StockRequest{
			LineID:   line.LineID,
			ItemID:   line.RefID,
			Quantity: -line.StockDelta,
		})
	}
	return requests
}

// Clone возвращает глубокую копию продажи.
func (s Sale) Clone() Sale {
	lines := make([]SoldLine, len(s.Lines))
	copy(lines, s.Lines)
	s.Lines = lines
	if s.Promotion != nil {
		p := *s.Promotion
		s.Promotion = &p
	}
	if s.VoidedAt != nil {
		t := *s.VoidedAt
		s.VoidedAt = &t
	}
	return s
}
