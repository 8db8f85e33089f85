// Package receipt строит описание чека для печатающего коллаборатора.
// Ширина бумаги, штрихкоды и транспорт до принтера сюда не относятся.
package receipt

import (
	"time"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const defaultThanksLine = "Thank you for your purchase!"

// Header - реквизиты магазина, одинаковые для всех чеков.
type Header struct {
	StoreName  string
	Address    string
	Phone      string
	ThanksLine string
}

// Money - сумма в минимальных единицах с кодом валюты.
// Display - та же сумма, напечатанная с точностью валюты.
type Money struct {
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Display     string `json:"display"`
}

// DocumentHeader - шапка чека.
type DocumentHeader struct {
	StoreName     string    `json:"store_name"`
	Address       string    `json:"address,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	SaleID        string    `json:"sale_id"`
	CommittedAt   time.Time `json:"committed_at"`
	Customer      string    `json:"customer"`
	PaymentMethod string    `json:"payment_method"`
	Status        string    `json:"status"`
}

// Row - строка чека.
type Row struct {
	LineID       string `json:"line_id"`
	Kind         string `json:"kind"`
	RefID        string `json:"ref_id"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	UnitPrice    Money  `json:"unit_price"`
	LineDiscount Money  `json:"line_discount"`
	Amount       Money  `json:"amount"`
}

// Totals - итоговый блок.
type Totals struct {
	Subtotal     Money  `json:"subtotal"`
	LineDiscount Money  `json:"line_discount"`
	Discount     Money  `json:"discount"`
	PromotionID  string `json:"promotion_id,omitempty"`
	Total        Money  `json:"total"`
}

// Footer - подвал чека. Для аннулированной продажи содержит отметку.
type Footer struct {
	Voided     bool       `json:"voided"`
	VoidedAt   *time.Time `json:"voided_at,omitempty"`
	VoidReason string     `json:"void_reason,omitempty"`
	Thanks     string     `json:"thanks"`
}

// Document - чек, независимый от принтера.
type Document struct {
	Header DocumentHeader `json:"header"`
	Rows   []Row          `json:"rows"`
	Totals Totals         `json:"totals"`
	Footer Footer         `json:"footer"`
}

// Project строит чек по продаже. Функция чистая и не обращается к хранилищам.
func Project(sale domain.Sale, header Header) Document {
	money := func(amount int64) Money {
		return Money{AmountMinor: amount, Currency: sale.Currency, Display: domain.FormatMinor(amount, sale.Currency)}
	}

	customer := sale.CustomerRef
	if customer == "" {
		customer = domain.WalkInCustomer
	}

	doc := Document{
		Header: DocumentHeader{
			StoreName:     header.StoreName,
			Address:       header.Address,
			Phone:         header.Phone,
			SaleID:        sale.ID,
			CommittedAt:   sale.CommittedAt,
			Customer:      customer,
			PaymentMethod: string(sale.PaymentMethod),
			Status:        string(sale.Status),
		},
		Rows: make([]Row, 0, len(sale.Lines)),
		Totals: Totals{
			Subtotal:     money(sale.SubtotalMinor),
			LineDiscount: money(sale.LineDiscountMinor),
			Discount:     money(sale.DiscountMinor),
			Total:        money(sale.TotalMinor),
		},
		Footer: Footer{
			Thanks: header.ThanksLine,
		},
	}

	for _, line := range sale.Lines {
		name := line.Name
		if name == "" {
			name = line.RefID
		}
		doc.Rows = append(doc.Rows, Row{
			LineID:       line.LineID,
			Kind:         string(line.Kind),
			RefID:        line.RefID,
			Name:         name,
			Quantity:     line.Quantity,
			UnitPrice:    money(line.UnitPriceMinor),
			LineDiscount: money(line.LineDiscountMinor),
			Amount:       money(line.NetMinor()),
		})
	}

	if sale.Promotion != nil {
		doc.Totals.PromotionID = sale.Promotion.ID
	}
	if doc.Footer.Thanks == "" {
		doc.Footer.Thanks = defaultThanksLine
	}
	if sale.Status == domain.SaleStatusVoided {
		doc.Footer.Voided = true
		doc.Footer.VoidReason = sale.VoidReason
		if sale.VoidedAt != nil {
			voidedAt := *sale.VoidedAt
			doc.Footer.VoidedAt = &voidedAt
		}
	}

	return doc
}
