package notify

import (
	"fmt"
	"strings"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Ключи полезной нагрузки событий.
const (
	PayloadTotalMinor    = "total_minor"
	PayloadCurrency      = "currency"
	PayloadCustomerRef   = "customer_ref"
	PayloadPaymentMethod = "payment_method"
	PayloadLineCount     = "line_count"
	PayloadItemName      = "item_name"
	PayloadOnHand        = "on_hand"
	PayloadMinThreshold  = "min_threshold"
)

// FormatText рендерит событие в короткое сообщение для людей.
func FormatText(event domain.NotificationEvent) string {
	switch event.Type {
	case domain.EventSaleCompleted:
		return fmt.Sprintf("Sale %s completed: %s %v, %v line(s), paid by %v",
			event.SaleID,
			formatMoney(event.Payload[PayloadTotalMinor], event.Payload[PayloadCurrency]),
			event.Payload[PayloadCurrency],
			event.Payload[PayloadLineCount],
			event.Payload[PayloadPaymentMethod],
		)
	case domain.EventLowStock:
		return fmt.Sprintf("Low stock: %s has %v left (threshold %v)",
			itemLabel(event), event.Payload[PayloadOnHand], event.Payload[PayloadMinThreshold])
	case domain.EventOutOfStock:
		return fmt.Sprintf("Out of stock: %s", itemLabel(event))
	default:
		return fmt.Sprintf("Event %s", event.Type)
	}
}

func itemLabel(event domain.NotificationEvent) string {
	name, _ := event.Payload[PayloadItemName].(string)
	if strings.TrimSpace(name) == "" {
		return event.ItemID
	}
	return fmt.Sprintf("%s (%s)", name, event.ItemID)
}

// formatMoney печатает минимальные единицы с точностью валюты.
func formatMoney(value, currency any) string {
	minor, ok := toInt64(value)
	if !ok {
		return fmt.Sprint(value)
	}
	code, _ := currency.(string)
	return domain.FormatMinor(minor, code)
}

func toInt64(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	default:
		return 0, false
	}
}
