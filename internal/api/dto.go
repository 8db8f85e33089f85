// Package api содержит JSON-представления, общие для REST и gRPC.
package api

import (
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
)

// LineRequest - строка корзины во входящем запросе.
type LineRequest struct {
	LineID            string `json:"line_id,omitempty"`
	Kind              string `json:"kind,omitempty"`
	RefID             string `json:"ref_id"`
	Name              string `json:"name,omitempty"`
	UnitPriceMinor    int64  `json:"unit_price_minor,omitempty"`
	Quantity          int64  `json:"quantity"`
	LineDiscountMinor int64  `json:"line_discount_minor,omitempty"`
}

// Promotion - акция корзины.
type Promotion struct {
	ID    string `json:"id,omitempty"`
	Kind  string `json:"kind"`
	Value int64  `json:"value"`
}

// CartRequest - корзина в запросах Quote и CommitSale.
type CartRequest struct {
	Currency    string        `json:"currency,omitempty"`
	CustomerRef string        `json:"customer_ref,omitempty"`
	Lines       []LineRequest `json:"lines"`
	Promotion   *Promotion    `json:"promotion,omitempty"`
}

// CommitSaleRequest - запрос на проведение продажи.
type CommitSaleRequest struct {
	SaleID        string `json:"sale_id,omitempty"`
	PaymentMethod string `json:"payment_method"`
	CartRequest
}

// VoidSaleRequest - запрос на аннулирование.
type VoidSaleRequest struct {
	Reason string `json:"reason,omitempty"`
}

// SaleLine - строка проданной корзины.
type SaleLine struct {
	LineID            string `json:"line_id"`
	Kind              string `json:"kind"`
	RefID             string `json:"ref_id"`
	Name              string `json:"name,omitempty"`
	UnitPriceMinor    int64  `json:"unit_price_minor"`
	Quantity          int64  `json:"quantity"`
	LineDiscountMinor int64  `json:"line_discount_minor"`
	AmountMinor       int64  `json:"amount_minor"`
	StockDelta        int64  `json:"stock_delta"`
}

// Sale - проведённая продажа.
type Sale struct {
	ID                string     `json:"id"`
	Status            string     `json:"status"`
	Currency          string     `json:"currency"`
	SubtotalMinor     int64      `json:"subtotal_minor"`
	LineDiscountMinor int64      `json:"line_discount_minor"`
	DiscountMinor     int64      `json:"discount_minor"`
	TotalMinor        int64      `json:"total_minor"`
	Promotion         *Promotion `json:"promotion,omitempty"`
	CustomerRef       string     `json:"customer_ref"`
	PaymentMethod     string     `json:"payment_method"`
	CommittedAt       time.Time  `json:"committed_at"`
	VoidedAt          *time.Time `json:"voided_at,omitempty"`
	VoidReason        string     `json:"void_reason,omitempty"`
	Lines             []SaleLine `json:"lines"`
}

// SaleEvent - запись журнала продажи.
type SaleEvent struct {
	SaleID   string    `json:"sale_id"`
	Type     string    `json:"type"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// Quote - предварительный расчёт корзины.
type Quote struct {
	Currency          string     `json:"currency"`
	CustomerRef       string     `json:"customer_ref"`
	Lines             []SaleLine `json:"lines"`
	GrossMinor        int64      `json:"gross_minor"`
	LineDiscountMinor int64      `json:"line_discount_minor"`
	SubtotalMinor     int64      `json:"subtotal_minor"`
	DiscountMinor     int64      `json:"discount_minor"`
	TotalMinor        int64      `json:"total_minor"`
}

// Item - карточка товара с текущим остатком.
type Item struct {
	ItemID       string `json:"item_id"`
	Name         string `json:"name"`
	PriceMinor   int64  `json:"price_minor"`
	Currency     string `json:"currency"`
	OnHand       int64  `json:"on_hand"`
	MinThreshold int64  `json:"min_threshold"`
}

// Draft переводит запрос в черновик корзины.
func (r CartRequest) Draft() sale.CartDraft {
	draft := sale.CartDraft{
		Currency:    r.Currency,
		CustomerRef: r.CustomerRef,
		Lines:       make([]sale.DraftLine, 0, len(r.Lines)),
	}
	for _, line := range r.Lines {
		draft.Lines = append(draft.Lines, sale.DraftLine{
			LineID:            line.LineID,
			Kind:              domain.LineKind(line.Kind),
			RefID:             line.RefID,
			Name:              line.Name,
			UnitPriceMinor:    line.UnitPriceMinor,
			Quantity:          line.Quantity,
			LineDiscountMinor: line.LineDiscountMinor,
		})
	}
	if r.Promotion != nil {
		draft.Promotion = &domain.Promotion{
			ID:    r.Promotion.ID,
			Kind:  domain.PromotionKind(r.Promotion.Kind),
			Value: r.Promotion.Value,
		}
	}
	return draft
}

// FromSale строит представление продажи.
func FromSale(s domain.Sale) Sale {
	dto := Sale{
		ID:                s.ID,
		Status:            string(s.Status),
		Currency:          s.Currency,
		SubtotalMinor:     s.SubtotalMinor,
		LineDiscountMinor: s.LineDiscountMinor,
		DiscountMinor:     s.DiscountMinor,
		TotalMinor:        s.TotalMinor,
		CustomerRef:       s.CustomerRef,
		PaymentMethod:     string(s.PaymentMethod),
		CommittedAt:       s.CommittedAt,
		VoidReason:        s.VoidReason,
		Lines:             make([]SaleLine, 0, len(s.Lines)),
	}
	if s.Promotion != nil {
		dto.Promotion = &Promotion{ID: s.Promotion.ID, Kind: string(s.Promotion.Kind), Value: s.Promotion.Value}
	}
	if s.VoidedAt != nil {
		voidedAt := *s.VoidedAt
		dto.VoidedAt = &voidedAt
	}
	for _, line := range s.Lines {
		row := fromCartLine(line.CartLine)
		row.StockDelta = line.StockDelta
		dto.Lines = append(dto.Lines, row)
	}
	return dto
}

// FromEvents строит представление журнала.
func FromEvents(events []domain.SaleEvent) []SaleEvent {
	result := make([]SaleEvent, 0, len(events))
	for _, event := range events {
		result = append(result, SaleEvent{
			SaleID:   event.SaleID,
			Type:     event.Type,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return result
}

// FromQuote строит представление расчёта.
func FromQuote(q sale.Quote) Quote {
	dto := Quote{
		Currency:          q.Currency,
		CustomerRef:       q.CustomerRef,
		Lines:             make([]SaleLine, 0, len(q.Lines)),
		GrossMinor:        q.Totals.GrossMinor,
		LineDiscountMinor: q.Totals.LineDiscountMinor,
		SubtotalMinor:     q.Totals.SubtotalMinor,
		DiscountMinor:     q.Totals.DiscountMinor,
		TotalMinor:        q.Totals.TotalMinor,
	}
	for _, line := range q.Lines {
		dto.Lines = append(dto.Lines, fromCartLine(line))
	}
	return dto
}

// FromItem строит представление карточки товара.
func FromItem(item domain.CatalogItem) Item {
	return Item{
		ItemID:       item.ItemID,
		Name:         item.Name,
		PriceMinor:   item.PriceMinor,
		Currency:     item.Currency,
		OnHand:       item.OnHand,
		MinThreshold: item.MinThreshold,
	}
}

func fromCartLine(line domain.CartLine) SaleLine {
	return SaleLine{
		LineID:            line.LineID,
		Kind:              string(line.Kind),
		RefID:             line.RefID,
		Name:              line.Name,
		UnitPriceMinor:    line.UnitPriceMinor,
		Quantity:          line.Quantity,
		LineDiscountMinor: line.LineDiscountMinor,
		AmountMinor:       line.NetMinor(),
	}
}
