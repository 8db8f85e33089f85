package domain

import (
	"fmt"
	"strings"
	"time"
)

// EventType - тип уведомления, порождаемого проведением продажи.
type EventType string

const (
	EventSaleCompleted EventType = "sale_completed"
	EventLowStock      EventType = "low_stock"
	EventOutOfStock    EventType = "out_of_stock"
)

// AllEventTypes перечисляет известные типы уведомлений.
var AllEventTypes = []EventType{EventSaleCompleted, EventLowStock, EventOutOfStock}

// Valid проверяет тип уведомления.
func (t EventType) Valid() bool {
	switch t {
	case EventSaleCompleted, EventLowStock, EventOutOfStock:
		return true
	default:
		return false
	}
}

// ParseEventTypes разбирает список вида "sale_completed,low_stock".
// Значение "all" включает все типы, "none" и пустая строка не включают ничего.
func ParseEventTypes(raw string) ([]EventType, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	switch raw {
	case "", "none":
		return nil, nil
	case "all", "*":
		result := make([]EventType, len(AllEventTypes))
		copy(result, AllEventTypes)
		return result, nil
	}

	var result []EventType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eventType := EventType(part)
		if !eventType.Valid() {
			return nil, fmt.Errorf("unknown notification event type %q", part)
		}
		result = append(result, eventType)
	}
	return result, nil
}

// Priority определяет, какие события можно вытеснить при переполнении очереди.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// PriorityOf возвращает приоритет по типу события.
func PriorityOf(t EventType) Priority {
	if t == EventLowStock {
		return PriorityLow
	}
	return PriorityHigh
}

// NotificationEvent - эфемерное событие для диспетчера уведомлений.
// Не влияет на состояние продажи.
type NotificationEvent struct {
	ID         string
	Type       EventType
	Priority   Priority
	SaleID     string
	ItemID     string
	Payload    map[string]any
	Attempt    int
	OccurredAt time.Time
}

// DedupKey возвращает ключ для схлопывания повторяющихся событий.
// Пустой ключ означает, что событие не схлопывается.
func (e NotificationEvent) DedupKey() string {
	if e.Type == EventLowStock && e.ItemID != "" {
		return string(e.Type) + ":" + e.ItemID
	}
	return ""
}

// Key возвращает ключ партиционирования для брокеров.
func (e NotificationEvent) Key() string {
	if e.ItemID != "" {
		return e.ItemID
	}
	if e.SaleID != "" {
		return e.SaleID
	}
	return e.ID
}
